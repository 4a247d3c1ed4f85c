package softphone

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/ws_softphone/pkg/channel"
	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/notify"
)

// Config содержит конфигурацию софтфона
type Config struct {
	// AOR - адрес регистрации, например sip:7000@pbx.example
	AOR string
	// Username - имя для digest аутентификации, по умолчанию user-часть AOR
	Username string
	Password string
	// TransportURL - адрес WebSocket сервера (ws:// или wss://)
	TransportURL string

	DisplayName string
	UserAgent   string

	// RegisterExpires - запрашиваемое время регистрации
	RegisterExpires time.Duration

	// Media - медиа параметры вызова
	Media media_sdp.MediaConfig

	// GatherCandidates - определять внешний адрес для SDP через STUN серверы Media.ICEServers
	GatherCandidates bool
	STUNTimeout      time.Duration

	// HandshakeTimeout - время на установление WebSocket соединения
	HandshakeTimeout time.Duration
	// TransactionTimeout - ожидание финального ответа на запрос (0 = без ограничений)
	TransactionTimeout time.Duration
	// SetupTimeout - ограничение на установление вызова (0 = без ограничений)
	SetupTimeout time.Duration

	// OnNotification получает уведомления по порядку в отдельной горутине
	OnNotification notify.Handler

	// MetricsRegisterer - куда регистрировать метрики; nil отключает метрики
	MetricsRegisterer prometheus.Registerer

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		UserAgent:          "ws_softphone/1.0",
		RegisterExpires:    channel.DefaultExpires,
		Media:              media_sdp.DefaultMediaConfig(),
		GatherCandidates:   false,
		STUNTimeout:        3 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		TransactionTimeout: 0,
		SetupTimeout:       0,
	}
}

// Validate проверяет конфигурацию и подставляет значения по умолчанию
func (c *Config) Validate() error {
	if c.AOR == "" {
		return errors.New("не указан AOR")
	}
	if c.TransportURL == "" {
		return errors.New("не указан адрес WebSocket сервера")
	}
	if _, err := channel.NewIdentity(c.AOR, c.Username, c.Password, c.TransportURL); err != nil {
		return err
	}
	if err := c.Media.Validate(); err != nil {
		return errors.Wrap(err, "media")
	}
	if c.RegisterExpires < 0 || c.SetupTimeout < 0 || c.TransactionTimeout < 0 {
		return errors.New("таймауты не могут быть отрицательными")
	}
	if c.RegisterExpires == 0 {
		c.RegisterExpires = channel.DefaultExpires
	}
	if c.RegisterExpires%time.Second != 0 {
		return errors.Errorf("RegisterExpires должен быть кратен секунде: %v", c.RegisterExpires)
	}
	if c.GatherCandidates && len(c.Media.ICEServers) == 0 {
		return errors.New("для GatherCandidates нужен хотя бы один STUN сервер")
	}
	if c.STUNTimeout <= 0 {
		c.STUNTimeout = 3 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
