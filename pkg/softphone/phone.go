// Package softphone собирает канал сигнализации и движок вызовов в один клиент.
//
// Phone владеет WebSocket транспортом, менеджером транзакций, регистрацией и
// единственным слотом вызова. Уведомления доставляются в Config.OnNotification
// по порядку в отдельной горутине.
package softphone

import (
	"context"
	"log/slog"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/channel"
	"github.com/arzzra/ws_softphone/pkg/dialog"
	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/sip/transaction"
	"github.com/arzzra/ws_softphone/pkg/sip/transport"
)

// Phone софтфон с одной учетной записью и одним вызовом
type Phone struct {
	cfg     *Config
	logger  *slog.Logger
	tp      transport.Transport
	txm     *transaction.Manager
	channel *channel.Manager
	engine  *dialog.Engine
	metrics *Metrics
	queue   *notify.Queue
	stun    *media_sdp.CandidateCache
}

// New создает софтфон с WebSocket транспортом на cfg.TransportURL
func New(cfg *Config) (*Phone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tp, err := transport.NewWebSocket(transport.WebSocketConfig{
		URL:              cfg.TransportURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewWithTransport(cfg, tp)
}

// NewWithTransport создает софтфон поверх готового транспорта
func NewWithTransport(cfg *Config, tp transport.Transport) (*Phone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	identity, err := channel.NewIdentity(cfg.AOR, cfg.Username, cfg.Password, cfg.TransportURL)
	if err != nil {
		return nil, err
	}

	p := &Phone{
		cfg:    cfg,
		logger: cfg.Logger,
		tp:     tp,
	}
	if cfg.OnNotification != nil {
		p.queue = notify.NewQueue(cfg.OnNotification)
	}
	if cfg.MetricsRegisterer != nil {
		p.metrics = NewMetrics(cfg.MetricsRegisterer, p.callActive)
	}
	notifier := notify.NotifierFunc(p.dispatch)

	p.txm = transaction.NewManager(tp, transaction.Config{
		Timeout: cfg.TransactionTimeout,
		Logger:  cfg.Logger.With(slog.String("component", "transaction")),
	})

	p.channel, err = channel.New(channel.Config{
		Identity:    identity,
		Expires:     cfg.RegisterExpires,
		DisplayName: cfg.DisplayName,
		UserAgent:   cfg.UserAgent,
		Logger:      cfg.Logger.With(slog.String("component", "channel")),
		Notifier:    notifier,
	}, tp, p.txm)
	if err != nil {
		p.closeQueue()
		return nil, err
	}

	engineCfg := dialog.Config{
		Media:        cfg.Media,
		SetupTimeout: cfg.SetupTimeout,
		Logger:       cfg.Logger.With(slog.String("component", "dialog")),
		Notifier:     notifier,
	}
	if cfg.GatherCandidates {
		gatherer := media_sdp.NewSTUNGatherer(cfg.Media.ICEServers, cfg.STUNTimeout, cfg.Logger)
		p.stun = media_sdp.NewCandidateCache(gatherer, cfg.Logger)
		engineCfg.Address = p.stun
	}
	p.engine, err = dialog.New(engineCfg, p.channel, p.txm)
	if err != nil {
		p.closeQueue()
		return nil, err
	}

	p.channel.OnTransportLost(p.engine.TransportLost)
	p.txm.OnRequest(p.handleRequest)
	p.txm.OnUnmatchedResponse(p.engine.HandleStrayResponse)
	return p, nil
}

func (p *Phone) dispatch(n notify.Notification) {
	if p.metrics != nil {
		p.metrics.Observe(n)
	}
	if p.queue != nil {
		p.queue.Notify(n)
	}
}

func (p *Phone) callActive() bool {
	if p.engine == nil {
		return false
	}
	_, ok := p.engine.Active()
	return ok
}

// Register подключается к серверу и регистрирует AOR.
// Возвращается сразу, результат приходит уведомлением Registered или RegistrationFailed.
func (p *Phone) Register(ctx context.Context) error {
	if p.stun != nil {
		p.stun.Start(context.WithoutCancel(ctx))
	}
	return p.channel.Start(ctx)
}

// Call начинает исходящий вызов. target - номер или SIP URI.
func (p *Phone) Call(ctx context.Context, target string) (dialog.Info, error) {
	return p.engine.PlaceCall(ctx, target)
}

// HangUp завершает текущий вызов
func (p *Phone) HangUp(ctx context.Context) error {
	return p.engine.HangUp(ctx)
}

// Status состояние канала сигнализации
func (p *Phone) Status() channel.Status {
	return p.channel.Status()
}

// ActiveCall снимок текущего вызова
func (p *Phone) ActiveCall() (dialog.Info, bool) {
	return p.engine.Active()
}

// LastCall снимок последнего завершенного вызова
func (p *Phone) LastCall() (dialog.Info, bool) {
	return p.engine.Last()
}

// Close завершает вызов, снимает регистрацию и закрывает транспорт.
// Оставшиеся уведомления доставляются до возврата. Не вызывать из OnNotification.
func (p *Phone) Close(ctx context.Context) error {
	if err := p.engine.HangUp(ctx); err != nil && !errors.Is(err, dialog.ErrNoActiveSession) {
		p.logger.Warn("не удалось завершить вызов", slog.Any("error", err))
	}
	err := p.channel.Stop(ctx)
	p.txm.Stop()
	p.closeQueue()
	return err
}

func (p *Phone) closeQueue() {
	if p.queue != nil {
		p.queue.Close()
	}
}

// handleRequest запросы вне движка вызовов
func (p *Phone) handleRequest(req *sip.Request) {
	if p.engine.HandleRequest(req) {
		return
	}
	p.route(req)
}
