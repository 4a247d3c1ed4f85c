package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/sip/message"
	"github.com/arzzra/ws_softphone/pkg/sip/transaction"
)

// Channel канал сигнализации, поверх которого работает движок
type Channel interface {
	Registered() bool
	Endpoint() *message.Endpoint
	Domain() string
	Credentials() message.Credentials
}

// Config параметры движка вызовов
type Config struct {
	Media media_sdp.MediaConfig
	// Address источник адреса для c= (STUN кеш); nil - Media.LocalIP
	Address media_sdp.AddressSource
	// SetupTimeout ограничение на установление вызова; 0 - без ограничения
	SetupTimeout time.Duration
	Logger       *slog.Logger
	Notifier     notify.Notifier
}

// Engine владеет единственным слотом вызова.
//
// Вызов создается командой PlaceCall или входящим INVITE и освобождает слот при
// переходе в Ended или Failed. Второй вызов при занятом слоте отклоняется.
type Engine struct {
	ch       Channel
	txm      *transaction.Manager
	builder  *media_sdp.Builder
	priority uint8
	timeout  time.Duration
	logger   *slog.Logger
	notifier notify.Notifier

	mu      sync.Mutex
	current *session
	last    *session
}

// New создает движок вызовов
func New(cfg Config, ch Channel, txm *transaction.Manager) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	builder, err := media_sdp.NewBuilder(cfg.Media, cfg.Address, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		ch:       ch,
		txm:      txm,
		builder:  builder,
		priority: cfg.Media.PriorityCodec,
		timeout:  cfg.SetupTimeout,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
	}, nil
}

// Active снимок активного вызова
func (e *Engine) Active() (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Info{}, false
	}
	return e.current.info(), true
}

// Last снимок последнего завершенного вызова
func (e *Engine) Last() (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Info{}, false
	}
	return e.last.info(), true
}

// PlaceCall начинает исходящий вызов на target (номер или URI).
// Offer проходит перестановку кодеков перед отправкой.
func (e *Engine) PlaceCall(ctx context.Context, target string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if !e.ch.Registered() {
		return Info{}, ErrNotRegistered
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return Info{}, ErrSessionBusy
	}

	uri, err := message.TargetURI(target, e.ch.Domain())
	if err != nil {
		e.mu.Unlock()
		return Info{}, &SessionError{Code: CodeInvalidTarget, Message: target, Err: err}
	}

	offer, err := e.builder.Offer()
	if err != nil {
		e.mu.Unlock()
		return Info{}, errors.Wrap(err, "build offer")
	}
	body, found := media_sdp.PrioritizeCodec(string(offer), e.priority)
	if !found {
		e.logger.Warn("приоритетный кодек отсутствует в offer",
			slog.Int("payload_type", int(e.priority)),
			slog.Any("formats", media_sdp.AudioFormats(string(offer))))
	}

	ep := e.ch.Endpoint()
	s := newSession(Outgoing, ep.AOR, uri, message.NewCallID(), message.NewTag(), e.logger)
	s.localSDP = []byte(body)
	s.cseq = 1
	invite := ep.NewInvite(uri, s.callID, s.localTag, s.cseq, s.localSDP)
	s.invite = invite
	if err := s.fire(EventInvite); err != nil {
		e.mu.Unlock()
		return Info{}, err
	}
	e.current = s
	e.armTimeout(s)
	info := s.info()
	e.mu.Unlock()

	e.logger.Info("исходящий вызов",
		slog.String("call_id", s.callID),
		slog.String("target", uri.String()))

	if err := e.txm.Request(invite, e.inviteHandler(s, invite)); err != nil {
		e.finish(s, EventFailed, outcome{cause: message.CauseConnectionError, err: err})
		return info, &CallTerminationError{Cause: message.CauseConnectionError, Err: err}
	}
	return info, nil
}

// HangUp завершает активный вызов: CANCEL до финального ответа, BYE после.
func (e *Engine) HangUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	s := e.current
	if s == nil {
		e.mu.Unlock()
		return ErrNoActiveSession
	}
	if err := s.fire(EventHangup); err != nil {
		e.mu.Unlock()
		return err
	}
	req := e.terminationRequest(s)
	e.mu.Unlock()

	if req != nil {
		e.logger.Debug("завершение вызова", slog.String("method", req.Method.String()))
		if err := e.txm.Request(req, e.logResponse(req.Method)); err != nil {
			e.logger.Warn("не удалось отправить запрос завершения",
				slog.String("method", req.Method.String()),
				slog.Any("error", err))
		}
	}
	e.finish(s, EventEnded, outcome{cause: message.CauseTerminated})
	return nil
}

// terminationRequest вызывается под блокировкой. Возвращает nil, если CANCEL
// отложен до первого предварительного ответа.
func (e *Engine) terminationRequest(s *session) *sip.Request {
	switch {
	case s.dialog != nil:
		s.cseq++
		return e.ch.Endpoint().NewInDialog(s.dialog, sip.BYE, s.cseq, nil)
	case s.direction == Outgoing && s.provisional:
		return message.NewCancel(s.invite)
	case s.direction == Outgoing:
		s.cancelPending = true
	}
	return nil
}

// TransportLost принудительно завершает вызов с причиной transport-lost
func (e *Engine) TransportLost(err error) {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()
	if s == nil {
		return
	}
	e.finish(s, EventTransportLost, outcome{cause: message.CauseTransportLost, err: err})
}

type outcome struct {
	cause  string
	code   int
	reason string
	err    error
}

// finish переводит вызов в терминальное состояние, освобождает слот и уведомляет UI
func (e *Engine) finish(s *session, ev Event, o outcome) bool {
	e.mu.Lock()
	if e.current != s {
		e.mu.Unlock()
		return false
	}
	if err := s.fire(ev); err != nil {
		e.mu.Unlock()
		e.logger.Warn("вызов: переход не применен", slog.Any("error", err))
		return false
	}
	s.stopTimer()
	s.cause, s.statusCode, s.reason = o.cause, o.code, o.reason
	if o.cause != message.CauseTerminated && o.cause != message.CauseBye {
		s.err = &CallTerminationError{Cause: o.cause, StatusCode: o.code, Reason: o.reason, Err: o.err}
	}
	s.endedAt = time.Now()
	e.current = nil
	e.last = s
	info := s.info()
	e.mu.Unlock()

	kind := notify.KindCallEnded
	if info.State == Failed {
		kind = notify.KindCallFailed
	}
	e.logger.Info("вызов завершен",
		slog.String("call_id", info.CallID),
		slog.String("state", info.State.String()),
		slog.String("cause", info.Cause),
		slog.Int("status", info.StatusCode))
	e.notifier.Notify(notify.Notification{
		Kind:       kind,
		Time:       s.endedAt,
		CallID:     info.CallID,
		Direction:  string(info.Direction),
		RemoteURI:  info.RemoteURI,
		Duration:   info.Duration,
		Cause:      info.Cause,
		StatusCode: info.StatusCode,
		Reason:     info.Reason,
		Err:        info.Err,
	})
	return true
}

// armTimeout вызывается под блокировкой
func (e *Engine) armTimeout(s *session) {
	if e.timeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(e.timeout, func() { e.setupExpired(s) })
}

func (e *Engine) setupExpired(s *session) {
	e.mu.Lock()
	if e.current != s || s.state() == Confirmed || s.state() == Terminating {
		e.mu.Unlock()
		return
	}
	req := e.terminationRequest(s)
	e.mu.Unlock()

	e.logger.Warn("вызов не установлен за отведенное время", slog.Duration("timeout", e.timeout))
	if req != nil {
		if err := e.txm.Request(req, e.logResponse(req.Method)); err != nil {
			e.logger.Warn("не удалось прервать вызов", slog.Any("error", err))
		}
	}
	e.finish(s, EventFailed, outcome{cause: message.CauseRequestTimeout})
}

func (e *Engine) logResponse(method sip.RequestMethod) transaction.ResponseHandler {
	return func(res *sip.Response) {
		if res.StatusCode >= 200 {
			e.logger.Debug("ответ на запрос завершения",
				slog.String("method", method.String()),
				slog.Int("status", res.StatusCode))
		}
	}
}

func (e *Engine) send(msg sip.Message) {
	if err := e.txm.Send(msg); err != nil {
		e.logger.Warn("не удалось отправить сообщение", slog.Any("error", err))
	}
}

func (e *Engine) respond(req *sip.Request, code int, reason string) {
	e.send(message.NewResponse(req, code, reason, message.NewTag(), nil, nil))
}
