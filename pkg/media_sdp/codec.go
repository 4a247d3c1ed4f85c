package media_sdp

import (
	"strconv"
	"strings"
)

// Codec описание аудио кодека в SDP
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	// Channels 0 означает моно и не выводится в rtpmap
	Channels uint16
	Fmtp     string
}

// String возвращает кодек в формате rtpmap
func (c Codec) String() string {
	s := strconv.Itoa(int(c.PayloadType)) + " " + c.Name + "/" + strconv.FormatUint(uint64(c.ClockRate), 10)
	if c.Channels > 1 {
		s += "/" + strconv.Itoa(int(c.Channels))
	}
	return s
}

const (
	PayloadTypePCMU           uint8 = 0
	PayloadTypePCMA           uint8 = 8
	PayloadTypeG722           uint8 = 9
	PayloadTypeTelephoneEvent uint8 = 101
	PayloadTypeOpus           uint8 = 111
)

// knownCodecs кодеки, которые умеет описывать софтфон
var knownCodecs = []Codec{
	{PayloadType: PayloadTypeOpus, Name: "opus", ClockRate: 48000, Channels: 2, Fmtp: "minptime=10;useinbandfec=1"},
	{PayloadType: PayloadTypePCMU, Name: "PCMU", ClockRate: 8000},
	{PayloadType: PayloadTypePCMA, Name: "PCMA", ClockRate: 8000},
	{PayloadType: PayloadTypeG722, Name: "G722", ClockRate: 8000},
	{PayloadType: PayloadTypeTelephoneEvent, Name: "telephone-event", ClockRate: 8000, Fmtp: "0-16"},
}

// LookupCodec ищет кодек по имени без учета регистра
func LookupCodec(name string) (Codec, bool) {
	for _, c := range knownCodecs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}

// LookupPayloadType ищет статический или известный кодек по номеру payload type
func LookupPayloadType(pt uint8) (Codec, bool) {
	for _, c := range knownCodecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// ResolveCodecs преобразует список имен в кодеки, сохраняя порядок и убирая дубликаты
func ResolveCodecs(names []string) ([]Codec, error) {
	out := make([]Codec, 0, len(names))
	seen := make(map[uint8]bool, len(names))
	for _, name := range names {
		c, ok := LookupCodec(strings.TrimSpace(name))
		if !ok {
			return nil, WrapSDPError(ErrorCodeUnknownCodec, ErrUnknownCodec, "кодек %q", name)
		}
		if seen[c.PayloadType] {
			continue
		}
		seen[c.PayloadType] = true
		out = append(out, c)
	}
	return out, nil
}

// ParsePayloadType принимает номер payload type ("0") или имя кодека ("PCMU")
func ParsePayloadType(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if n > 127 {
			return 0, NewSDPError(ErrorCodeInvalidConfig, "payload type %d вне диапазона 0-127", n)
		}
		return uint8(n), nil
	}
	c, ok := LookupCodec(s)
	if !ok {
		return 0, WrapSDPError(ErrorCodeUnknownCodec, ErrUnknownCodec, "кодек %q", s)
	}
	return c.PayloadType, nil
}
