package media_sdp

import (
	"net"
	"strings"
	"time"
)

// Стандартные STUN серверы
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// MediaConfig медиа параметры вызова
type MediaConfig struct {
	// Audio всегда включено, Video всегда выключено. Поля оставлены явными,
	// чтобы UI мог показать текущие медиа параметры.
	Audio bool
	Video bool

	// PreferredCodecs упорядоченный список кодеков локального offer
	PreferredCodecs []string
	// PriorityCodec payload type, который ставится первым в m=audio исходящего offer
	PriorityCodec uint8

	// ICEServers адреса STUN серверов (stun:host:port)
	ICEServers []string

	SessionName string
	Username    string
	// LocalIP адрес, выводимый в c= и o=, если STUN не дал внешний адрес
	LocalIP  string
	RTPPort  int
	Protocol string
	Ptime    time.Duration
	// DTMF добавляет telephone-event в offer
	DTMF bool
}

// DefaultMediaConfig возвращает конфигурацию по умолчанию
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Audio:           true,
		Video:           false,
		PreferredCodecs: []string{"opus", "PCMU"},
		PriorityCodec:   PayloadTypePCMU,
		ICEServers:      append([]string(nil), DefaultICEServers...),
		SessionName:     "ws_softphone",
		Username:        "-",
		LocalIP:         "127.0.0.1",
		RTPPort:         49170,
		Protocol:        "RTP/AVP",
		Ptime:           20 * time.Millisecond,
		DTMF:            true,
	}
}

// Validate проверяет корректность конфигурации
func (c *MediaConfig) Validate() error {
	if !c.Audio {
		return NewSDPError(ErrorCodeInvalidConfig, "аудио не может быть выключено")
	}
	if c.Video {
		return NewSDPError(ErrorCodeInvalidConfig, "видео не поддерживается")
	}
	if len(c.PreferredCodecs) == 0 {
		return NewSDPError(ErrorCodeInvalidConfig, "список кодеков пуст")
	}
	if _, err := ResolveCodecs(c.PreferredCodecs); err != nil {
		return err
	}
	if c.PriorityCodec > 127 {
		return NewSDPError(ErrorCodeInvalidConfig, "payload type %d вне диапазона 0-127", c.PriorityCodec)
	}
	if c.RTPPort <= 0 || c.RTPPort > 65535 {
		return NewSDPError(ErrorCodeInvalidConfig, "некорректный RTP порт: %d", c.RTPPort)
	}
	if net.ParseIP(c.LocalIP) == nil {
		return NewSDPError(ErrorCodeInvalidConfig, "некорректный локальный IP: %q", c.LocalIP)
	}
	if strings.TrimSpace(c.Protocol) == "" {
		return NewSDPError(ErrorCodeInvalidConfig, "не задан транспортный протокол медиа")
	}
	if c.Ptime < 0 {
		return NewSDPError(ErrorCodeInvalidConfig, "отрицательный ptime: %v", c.Ptime)
	}
	for _, s := range c.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return NewSDPError(ErrorCodeInvalidConfig, "неподдерживаемый ICE сервер: %q", s)
		}
	}
	return nil
}
