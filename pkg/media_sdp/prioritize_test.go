package media_sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerCRLF = "v=0\r\n" +
	"o=- 1 1 IN IP4 192.0.2.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n"

func TestPrioritizeCodec_MovesTargetFirst(t *testing.T) {
	got, found := PrioritizeCodec(offerCRLF, 8)
	require.True(t, found)

	assert.Contains(t, got, "m=audio 49170 RTP/AVP 8 0 101\r\n")
	assert.Equal(t, strings.Replace(offerCRLF, "RTP/AVP 0 8 101", "RTP/AVP 8 0 101", 1), got,
		"остальные строки должны остаться без изменений")
}

func TestPrioritizeCodec_AlreadyFirst(t *testing.T) {
	got, found := PrioritizeCodec(offerCRLF, 0)
	assert.True(t, found)
	assert.Equal(t, offerCRLF, got)
}

func TestPrioritizeCodec_AbsentTarget(t *testing.T) {
	got, found := PrioritizeCodec(offerCRLF, 9)
	assert.False(t, found)
	assert.Equal(t, offerCRLF, got)
}

func TestPrioritizeCodec_NoAudio(t *testing.T) {
	body := "v=0\ns=-\nm=video 5000 RTP/AVP 96\n"
	got, found := PrioritizeCodec(body, 96)
	assert.False(t, found, "видео строка не должна переписываться")
	assert.Equal(t, body, got)
}

func TestPrioritizeCodec_OnlyFirstAudioLine(t *testing.T) {
	body := "v=0\n" +
		"m=audio 4000 RTP/SAVPF 111 0 8\n" +
		"a=mid:0\n" +
		"m=audio 4002 RTP/SAVPF 111 0 8\n"

	got, found := PrioritizeCodec(body, 8)
	require.True(t, found)

	lines := strings.Split(got, "\n")
	assert.Equal(t, "m=audio 4000 RTP/SAVPF 8 111 0", lines[1])
	assert.Equal(t, "a=mid:0", lines[2])
	assert.Equal(t, "m=audio 4002 RTP/SAVPF 111 0 8", lines[3])
}

func TestPrioritizeCodec_PreservesProtocolAndPort(t *testing.T) {
	body := "m=audio 9/2 UDP/TLS/RTP/SAVPF 111 9 0 8 101"
	got, found := PrioritizeCodec(body, 0)
	require.True(t, found)
	assert.Equal(t, "m=audio 9/2 UDP/TLS/RTP/SAVPF 0 111 9 8 101", got)
}

func TestPrioritizeCodec_Idempotent(t *testing.T) {
	bodies := []string{
		offerCRLF,
		"m=audio 1 RTP/AVP 111 0 8 9 101\n",
		"m=audio 1 RTP/AVP 101\n",
	}
	for _, body := range bodies {
		for _, pt := range []uint8{0, 8, 9, 101, 111, 120} {
			once, _ := PrioritizeCodec(body, pt)
			twice, _ := PrioritizeCodec(once, pt)
			assert.Equal(t, once, twice, "pt=%d", pt)

			// множество форматов не меняется
			assert.ElementsMatch(t, AudioFormats(body), AudioFormats(once))
		}
	}
}

func TestPrioritizeCodec_RelativeOrder(t *testing.T) {
	body := "m=audio 1 RTP/AVP 111 9 0 8 101\n"
	got, found := PrioritizeCodec(body, 8)
	require.True(t, found)
	assert.Equal(t, []string{"8", "111", "9", "0", "101"}, AudioFormats(got))
}

func TestPrioritizeCodec_NoTrailingNewline(t *testing.T) {
	body := "v=0\nm=audio 1 RTP/AVP 0 8"
	got, found := PrioritizeCodec(body, 8)
	require.True(t, found)
	assert.Equal(t, "v=0\nm=audio 1 RTP/AVP 8 0", got)
}
