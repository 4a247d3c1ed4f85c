package media_sdp

import (
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
)

// AddressSource источник адреса для строк c= и o= (например, результат STUN)
type AddressSource interface {
	// Address возвращает IP адрес или пустую строку, если адрес еще неизвестен
	Address() string
}

// Builder формирует локальные SDP offer и answer по медиа параметрам
type Builder struct {
	cfg     MediaConfig
	codecs  []Codec
	source  AddressSource
	logger  *slog.Logger
	id      uint64
	version atomic.Uint64
}

// NewBuilder создает Builder. source может быть nil, тогда используется cfg.LocalIP.
func NewBuilder(cfg MediaConfig, source AddressSource, logger *slog.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codecs, err := ResolveCodecs(cfg.PreferredCodecs)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		cfg:    cfg,
		codecs: codecs,
		source: source,
		logger: logger,
		id:     uint64(time.Now().UnixNano() / int64(time.Millisecond)),
	}
	return b, nil
}

// Config возвращает медиа параметры
func (b *Builder) Config() MediaConfig {
	return b.cfg
}

// Codecs возвращает кодеки локального offer в порядке предпочтения
func (b *Builder) Codecs() []Codec {
	return append([]Codec(nil), b.codecs...)
}

// Offer формирует локальный offer: одно аудио описание с кодеками в порядке предпочтения
func (b *Builder) Offer() ([]byte, error) {
	sd := b.session()

	md := b.audioDescription()
	for _, c := range b.codecs {
		md = md.WithCodec(c.PayloadType, c.Name, c.ClockRate, c.Channels, c.Fmtp)
	}
	if b.cfg.DTMF {
		md = md.WithCodec(PayloadTypeTelephoneEvent, "telephone-event", 8000, 0, "0-16")
	}
	b.withMediaAttributes(md, "sendrecv")
	sd.MediaDescriptions = []*sdp.MediaDescription{md}

	body, err := sd.Marshal()
	if err != nil {
		return nil, WrapSDPError(ErrorCodeSDPGeneration, err, "не удалось сериализовать offer")
	}
	b.logger.Debug("SDP offer сформирован",
		slog.String("address", b.address()),
		slog.Any("formats", md.MediaName.Formats))
	return body, nil
}

// Answer формирует ответ на удаленный offer.
//
// Первое аудио описание принимается с общими кодеками в локальном порядке предпочтения,
// все остальные медиа (в том числе видео) отклоняются портом 0.
func (b *Builder) Answer(remote []byte) ([]byte, []Codec, error) {
	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(remote); err != nil {
		return nil, nil, WrapSDPError(ErrorCodeSDPParsing, err, "не удалось разобрать удаленный offer")
	}

	sd := b.session()
	var accepted []Codec
	audioDone := false

	for _, rmd := range offer.MediaDescriptions {
		if rmd.MediaName.Media != "audio" || audioDone {
			sd.MediaDescriptions = append(sd.MediaDescriptions, declined(rmd))
			continue
		}

		common := b.commonCodecs(offer, rmd)
		if len(common) == 0 {
			return nil, nil, ErrIncompatibleCodec
		}
		audioDone = true

		md := b.audioDescription()
		md.MediaName.Protos = append([]string(nil), rmd.MediaName.Protos...)
		for _, c := range common {
			md = md.WithCodec(c.PayloadType, c.Name, c.ClockRate, c.Channels, c.Fmtp)
		}
		if te, ok := telephoneEvent(offer, rmd); ok && b.cfg.DTMF {
			md = md.WithCodec(te.PayloadType, te.Name, te.ClockRate, 0, te.Fmtp)
		}
		b.withMediaAttributes(md, answerDirection(rmd))
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
		accepted = common
	}

	if !audioDone {
		return nil, nil, ErrNoAudio
	}

	body, err := sd.Marshal()
	if err != nil {
		return nil, nil, WrapSDPError(ErrorCodeSDPGeneration, err, "не удалось сериализовать answer")
	}
	b.logger.Debug("SDP answer сформирован", slog.Int("codecs", len(accepted)))
	return body, accepted, nil
}

func (b *Builder) session() *sdp.SessionDescription {
	addr := b.address()
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       b.cfg.Username,
			SessionID:      b.id,
			SessionVersion: b.id + b.version.Add(1),
			NetworkType:    "IN",
			AddressType:    addressType(addr),
			UnicastAddress: addr,
		},
		SessionName: sdp.SessionName(b.cfg.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(addr),
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}
}

func (b *Builder) audioDescription() *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: b.cfg.RTPPort},
			Protos:  strings.Split(b.cfg.Protocol, "/"),
			Formats: []string{},
		},
	}
}

func (b *Builder) withMediaAttributes(md *sdp.MediaDescription, direction string) {
	if b.cfg.Ptime > 0 {
		md.WithValueAttribute("ptime", strconv.Itoa(int(b.cfg.Ptime/time.Millisecond)))
	}
	md.WithPropertyAttribute(direction)
}

func (b *Builder) address() string {
	if b.source != nil {
		if addr := b.source.Address(); addr != "" {
			return addr
		}
	}
	return b.cfg.LocalIP
}

// commonCodecs выбирает кодеки удаленного описания в локальном порядке предпочтения.
// Номера payload type берутся из удаленного offer.
func (b *Builder) commonCodecs(offer *sdp.SessionDescription, rmd *sdp.MediaDescription) []Codec {
	remote := describeFormats(offer, rmd)
	var out []Codec
	for _, local := range b.codecs {
		for _, rc := range remote {
			if strings.EqualFold(rc.Name, local.Name) && rc.ClockRate == local.ClockRate {
				c := local
				c.PayloadType = rc.PayloadType
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func telephoneEvent(offer *sdp.SessionDescription, rmd *sdp.MediaDescription) (Codec, bool) {
	for _, c := range describeFormats(offer, rmd) {
		if strings.EqualFold(c.Name, "telephone-event") && c.ClockRate == 8000 {
			if c.Fmtp == "" {
				c.Fmtp = "0-16"
			}
			return c, true
		}
	}
	return Codec{}, false
}

// answerDirection зеркалит направление удаленного описания
func answerDirection(rmd *sdp.MediaDescription) string {
	for _, attr := range rmd.Attributes {
		switch attr.Key {
		case "sendonly":
			return "recvonly"
		case "recvonly":
			return "sendonly"
		case "inactive":
			return "inactive"
		}
	}
	return "sendrecv"
}

func declined(rmd *sdp.MediaDescription) *sdp.MediaDescription {
	formats := append([]string(nil), rmd.MediaName.Formats...)
	if len(formats) == 0 {
		formats = []string{"0"}
	}
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   rmd.MediaName.Media,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  append([]string(nil), rmd.MediaName.Protos...),
			Formats: formats,
		},
	}
}

func addressType(addr string) string {
	if strings.Contains(addr, ":") {
		return "IP6"
	}
	return "IP4"
}
