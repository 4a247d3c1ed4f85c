package media_sdp

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAddress string

func (s staticAddress) Address() string { return string(s) }

func newTestBuilder(t *testing.T, mutate func(*MediaConfig)) *Builder {
	t.Helper()
	cfg := DefaultMediaConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBuilder(cfg, nil, nil)
	require.NoError(t, err)
	return b
}

func TestBuilder_OfferDefaults(t *testing.T) {
	b := newTestBuilder(t, nil)

	body, err := b.Offer()
	require.NoError(t, err)

	sd := &sdp.SessionDescription{}
	require.NoError(t, sd.Unmarshal(body))
	require.Len(t, sd.MediaDescriptions, 1)

	md := sd.MediaDescriptions[0]
	assert.Equal(t, "audio", md.MediaName.Media)
	assert.Equal(t, 49170, md.MediaName.Port.Value)
	assert.Equal(t, []string{"RTP", "AVP"}, md.MediaName.Protos)
	assert.Equal(t, []string{"111", "0", "101"}, md.MediaName.Formats)

	_, ok := md.Attribute("sendrecv")
	assert.True(t, ok)
	ptime, ok := md.Attribute("ptime")
	assert.True(t, ok)
	assert.Equal(t, "20", ptime)

	assert.Contains(t, string(body), "a=rtpmap:111 opus/48000/2")
	assert.Contains(t, string(body), "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, string(body), "c=IN IP4 127.0.0.1")
}

func TestBuilder_OfferUsesAddressSource(t *testing.T) {
	cfg := DefaultMediaConfig()
	b, err := NewBuilder(cfg, staticAddress("203.0.113.7"), nil)
	require.NoError(t, err)

	body, err := b.Offer()
	require.NoError(t, err)
	assert.Contains(t, string(body), "c=IN IP4 203.0.113.7")

	// пустой адрес -> локальный
	b, err = NewBuilder(cfg, staticAddress(""), nil)
	require.NoError(t, err)
	body, err = b.Offer()
	require.NoError(t, err)
	assert.Contains(t, string(body), "c=IN IP4 127.0.0.1")
}

func TestBuilder_OfferThenPrioritize(t *testing.T) {
	b := newTestBuilder(t, nil)
	body, err := b.Offer()
	require.NoError(t, err)

	rewritten, found := PrioritizeCodec(string(body), PayloadTypePCMU)
	require.True(t, found)
	assert.Equal(t, []string{"0", "111", "101"}, AudioFormats(rewritten))
}

func TestBuilder_AnswerAcceptsAudioDeclinesVideo(t *testing.T) {
	b := newTestBuilder(t, nil)

	offer := "v=0\r\n" +
		"o=- 10 10 IN IP4 198.51.100.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 30000 RTP/AVP 8 0 101\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=rtpmap:101 telephone-event/8000\r\n" +
		"a=fmtp:101 0-15\r\n" +
		"a=sendonly\r\n" +
		"m=video 30002 RTP/AVP 96\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"

	body, codecs, err := b.Answer([]byte(offer))
	require.NoError(t, err)

	require.Len(t, codecs, 1)
	assert.Equal(t, "PCMU", codecs[0].Name)

	sd := &sdp.SessionDescription{}
	require.NoError(t, sd.Unmarshal(body))
	require.Len(t, sd.MediaDescriptions, 2)

	audio := sd.MediaDescriptions[0]
	assert.Equal(t, 49170, audio.MediaName.Port.Value)
	assert.Equal(t, []string{"0", "101"}, audio.MediaName.Formats)
	_, ok := audio.Attribute("recvonly")
	assert.True(t, ok, "направление должно зеркалиться")

	video := sd.MediaDescriptions[1]
	assert.Equal(t, "video", video.MediaName.Media)
	assert.Equal(t, 0, video.MediaName.Port.Value)
}

func TestBuilder_AnswerUsesRemotePayloadNumbers(t *testing.T) {
	b := newTestBuilder(t, nil)

	offer := "v=0\r\no=- 10 10 IN IP4 198.51.100.1\r\ns=-\r\nc=IN IP4 198.51.100.1\r\nt=0 0\r\n" +
		"m=audio 30000 RTP/AVP 109 0\r\n" +
		"a=rtpmap:109 opus/48000/2\r\n"

	_, codecs, err := b.Answer([]byte(offer))
	require.NoError(t, err)
	require.Len(t, codecs, 2)
	assert.Equal(t, "opus", codecs[0].Name)
	assert.Equal(t, uint8(109), codecs[0].PayloadType)
	assert.Equal(t, "PCMU", codecs[1].Name)
}

func TestBuilder_AnswerNoCommonCodec(t *testing.T) {
	b := newTestBuilder(t, nil)

	offer := "v=0\r\no=- 10 10 IN IP4 198.51.100.1\r\ns=-\r\nc=IN IP4 198.51.100.1\r\nt=0 0\r\n" +
		"m=audio 30000 RTP/AVP 8\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n"

	_, _, err := b.Answer([]byte(offer))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleCodec)
}

func TestBuilder_AnswerGarbage(t *testing.T) {
	b := newTestBuilder(t, nil)
	_, _, err := b.Answer([]byte("not sdp"))
	require.Error(t, err)

	var sdpErr *SDPError
	require.ErrorAs(t, err, &sdpErr)
	assert.Equal(t, ErrorCodeSDPParsing, sdpErr.Code)
	assert.NotErrorIs(t, err, ErrNoAudio, "ошибка разбора не означает отсутствие аудио")
}

func TestBuilder_AnswerWithoutAudio(t *testing.T) {
	b := newTestBuilder(t, nil)
	offer := "v=0\r\no=- 11 11 IN IP4 198.51.100.1\r\ns=-\r\nc=IN IP4 198.51.100.1\r\nt=0 0\r\n" +
		"m=video 40002 RTP/AVP 96\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"
	_, _, err := b.Answer([]byte(offer))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAudio)

	_, err = NegotiatedCodecs([]byte("not sdp"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAudio)
}

func TestNegotiatedCodecs(t *testing.T) {
	answer := "v=0\r\no=- 10 10 IN IP4 198.51.100.1\r\ns=-\r\nc=IN IP4 198.51.100.1\r\nt=0 0\r\n" +
		"m=audio 30000 RTP/AVP 0 8 101\r\n" +
		"a=rtpmap:101 telephone-event/8000\r\n"

	codecs, err := NegotiatedCodecs([]byte(answer))
	require.NoError(t, err)

	names := make([]string, 0, len(codecs))
	for _, c := range codecs {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"PCMU", "PCMA"}, names)
}

func TestMediaConfig_Validate(t *testing.T) {
	cfg := DefaultMediaConfig()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*MediaConfig){
		"video":         func(c *MediaConfig) { c.Video = true },
		"no codecs":     func(c *MediaConfig) { c.PreferredCodecs = nil },
		"unknown codec": func(c *MediaConfig) { c.PreferredCodecs = []string{"speex"} },
		"bad port":      func(c *MediaConfig) { c.RTPPort = 70000 },
		"bad ip":        func(c *MediaConfig) { c.LocalIP = "localhost" },
		"bad ice":       func(c *MediaConfig) { c.ICEServers = []string{"turn:example.org"} },
		"bad pt":        func(c *MediaConfig) { c.PriorityCodec = 200 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultMediaConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParsePayloadType(t *testing.T) {
	pt, err := ParsePayloadType("8")
	require.NoError(t, err)
	assert.Equal(t, PayloadTypePCMA, pt)

	pt, err = ParsePayloadType("pcmu")
	require.NoError(t, err)
	assert.Equal(t, PayloadTypePCMU, pt)

	_, err = ParsePayloadType("300")
	assert.Error(t, err)

	_, err = ParsePayloadType("speex")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestCodec_String(t *testing.T) {
	opus, ok := LookupCodec("OPUS")
	require.True(t, ok)
	assert.Equal(t, "111 opus/48000/2", opus.String())
	assert.True(t, strings.HasPrefix(knownCodecs[1].String(), "0 PCMU/8000"))
}
