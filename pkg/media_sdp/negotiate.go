package media_sdp

import (
	"strconv"

	"github.com/pion/sdp/v3"
)

// NegotiatedCodecs возвращает кодеки первой строки m=audio в порядке следования форматов.
// telephone-event не считается аудио кодеком и пропускается.
func NegotiatedCodecs(body []byte) ([]Codec, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return nil, WrapSDPError(ErrorCodeSDPParsing, err, "не удалось разобрать SDP")
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.MediaName.Port.Value == 0 {
			return nil, ErrIncompatibleCodec
		}
		var out []Codec
		for _, c := range describeFormats(sd, md) {
			if c.Name == "telephone-event" {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, ErrNoAudio
}

// describeFormats сопоставляет форматы описания с rtpmap/fmtp.
// Для статических payload type без rtpmap используется таблица известных кодеков.
func describeFormats(sd *sdp.SessionDescription, md *sdp.MediaDescription) []Codec {
	out := make([]Codec, 0, len(md.MediaName.Formats))
	for _, f := range md.MediaName.Formats {
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		pt := uint8(n)

		if pc, err := sd.GetCodecForPayloadType(pt); err == nil && pc.Name != "" {
			c := Codec{
				PayloadType: pt,
				Name:        pc.Name,
				ClockRate:   pc.ClockRate,
				Fmtp:        pc.Fmtp,
			}
			if ch, err := strconv.ParseUint(pc.EncodingParameters, 10, 16); err == nil {
				c.Channels = uint16(ch)
			}
			out = append(out, c)
			continue
		}
		if known, ok := LookupPayloadType(pt); ok && pt < 96 {
			out = append(out, known)
		}
	}
	return out
}
