// Package channel управляет каналом сигнализации: одним WebSocket соединением с
// сервером и регистрацией AOR на регистраторе.
//
// Все переходы выполняются по событиям транспорта и ответам регистратора. Ошибки
// не возвращаются из обработчиков, а превращаются в уведомления notify.
package channel

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/notify"
	"github.com/arzzra/ws_softphone/pkg/sip/message"
	"github.com/arzzra/ws_softphone/pkg/sip/transaction"
	"github.com/arzzra/ws_softphone/pkg/sip/transport"
)

const (
	// DefaultExpires запрашиваемое время регистрации
	DefaultExpires = 600 * time.Second

	unregisterWait = 5 * time.Second
)

// Config параметры менеджера канала
type Config struct {
	Identity    Identity
	Expires     time.Duration
	DisplayName string
	UserAgent   string
	Logger      *slog.Logger
	Notifier    notify.Notifier
}

// Manager владеет транспортом и состоянием регистрации.
//
// Внешние компоненты могут вызывать методы Manager из своих обработчиков, но Manager
// никогда не вызывает внешний код, удерживая собственную блокировку.
type Manager struct {
	cfg      Config
	tp       transport.Transport
	txm      *transaction.Manager
	endpoint *message.Endpoint
	logger   *slog.Logger
	notifier notify.Notifier

	mu sync.Mutex
	fsm *fsm.FSM
	// generation меняется при каждом подключении и потере транспорта;
	// ответы и таймеры прошлых поколений игнорируются
	generation uint64
	callID     string
	fromTag    string
	cseq       uint32
	refresh    *time.Timer
	lastErr    error
	onLost     func(error)
	cancelDial context.CancelFunc
}

// New создает менеджер канала. Транспорт и менеджер транзакций принадлежат каналу.
func New(cfg Config, tp transport.Transport, txm *transaction.Manager) (*Manager, error) {
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.Expires <= 0 {
		cfg.Expires = DefaultExpires
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}

	logger := cfg.Logger.With(slog.String("aor", cfg.Identity.AOR.String()))
	m := &Manager{
		cfg:      cfg,
		tp:       tp,
		txm:      txm,
		endpoint: message.NewEndpoint(cfg.Identity.AOR, cfg.DisplayName, cfg.Identity.ViaTransport(), cfg.UserAgent),
		logger:   logger,
		notifier: cfg.Notifier,
		fsm:      newFSM(logger),
		callID:   message.NewCallID(),
		fromTag:  message.NewTag(),
	}
	tp.OnClose(m.transportLost)
	return m, nil
}

// Status текущее состояние канала
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status()
}

func (m *Manager) status() Status {
	return Status(m.fsm.Current())
}

// Registered сообщает, зарегистрирован ли AOR
func (m *Manager) Registered() bool {
	return m.Status() == Registered
}

// Endpoint локальная сторона сигнализации (AOR, Contact, Via)
func (m *Manager) Endpoint() *message.Endpoint {
	return m.endpoint
}

// Domain домен регистратора, к которому достраиваются номера вызова
func (m *Manager) Domain() string {
	return m.endpoint.Domain()
}

// Credentials учетные данные для ответов на digest challenge
func (m *Manager) Credentials() message.Credentials {
	return m.cfg.Identity.Credentials
}

// LastError последняя ошибка транспорта или регистрации
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnTransportLost устанавливает обработчик потери транспорта.
// Вызывается после перехода канала в Disconnected.
func (m *Manager) OnTransportLost(fn func(error)) {
	m.mu.Lock()
	m.onLost = fn
	m.mu.Unlock()
}

// Start подключает транспорт и регистрирует AOR. Не блокирует: подключение и
// REGISTER выполняются асинхронно, результат приходит уведомлениями.
//
// Из RegistrationFailed повторяет REGISTER по живому транспорту. В остальных
// рабочих состояниях ничего не делает и возвращает ErrAlreadyStarted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch st := m.status(); st {
	case RegistrationFailed:
		if err := fire(m.fsm, EventRetry); err != nil {
			m.mu.Unlock()
			return err
		}
		gen := m.generation
		req := m.nextRegister(m.requestedExpires())
		m.mu.Unlock()

		m.logger.Info("повторная регистрация")
		m.sendRegister(req, gen)
		return nil

	case Connecting, Connected, Registered:
		m.mu.Unlock()
		m.logger.Warn("канал уже запущен", slog.String("status", st.String()))
		return errors.Wrap(ErrAlreadyStarted, st.String())
	}

	if err := fire(m.fsm, EventStart); err != nil {
		m.mu.Unlock()
		return err
	}
	m.generation++
	gen := m.generation
	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancelDial = cancel
	m.mu.Unlock()

	m.logger.Info("подключение к серверу", slog.String("url", m.cfg.Identity.TransportURL))
	go m.dial(dialCtx, gen)
	return nil
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	err := m.tp.Connect(ctx)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if err == nil {
			_ = m.tp.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		_ = fire(m.fsm, EventTransportClosed)
		m.lastErr = err
		m.mu.Unlock()

		m.logger.Error("не удалось подключиться", slog.Any("error", err))
		m.notifier.Notify(notify.Notification{
			Kind:  notify.KindDisconnected,
			Time:  time.Now(),
			Cause: message.CauseConnectionError,
			Err:   err,
		})
		return
	}
	if err := fire(m.fsm, EventTransportOpen); err != nil {
		m.mu.Unlock()
		m.logger.Error("канал: переход не применен", slog.Any("error", err))
		return
	}
	req := m.nextRegister(m.requestedExpires())
	m.mu.Unlock()

	m.logger.Info("транспорт подключен")
	m.notifier.Notify(notify.Notification{Kind: notify.KindConnected, Time: time.Now()})
	m.sendRegister(req, gen)
}

func (m *Manager) requestedExpires() int {
	return int(m.cfg.Expires / time.Second)
}

// nextRegister вызывается под блокировкой
func (m *Manager) nextRegister(expires int) *sip.Request {
	m.cseq++
	return m.endpoint.NewRegister(m.callID, m.fromTag, m.cseq, expires)
}

func (m *Manager) nextCSeq(gen uint64) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return 0, false
	}
	m.cseq++
	return m.cseq, true
}

func (m *Manager) sendRegister(req *sip.Request, gen uint64) {
	m.logger.Debug("отправка REGISTER", slog.Uint64("cseq", uint64(req.CSeq().SeqNo)))
	if err := m.request(req, gen, false, m.registerResponse(gen)); err != nil {
		m.registrationFailed(gen, &RegistrationError{Cause: message.CauseConnectionError, Err: err})
	}
}

// request отправляет REGISTER и один раз отвечает на digest challenge.
// onFinal получает итоговый финальный ответ.
func (m *Manager) request(req *sip.Request, gen uint64, authorized bool, onFinal func(*sip.Response)) error {
	return m.txm.Request(req, func(res *sip.Response) {
		if res.StatusCode < 200 {
			return
		}
		if message.IsAuthChallenge(res) && !authorized {
			cseq, ok := m.nextCSeq(gen)
			if !ok {
				return
			}
			authReq, err := m.endpoint.Authorize(req, res, m.cfg.Identity.Credentials, cseq)
			if err == nil {
				err = m.request(authReq, gen, true, onFinal)
			}
			if err == nil {
				m.logger.Debug("REGISTER повторен с авторизацией", slog.Int("challenge", res.StatusCode))
				return
			}
			m.logger.Warn("digest авторизация не удалась", slog.Any("error", err))
		}
		onFinal(res)
	})
}

func (m *Manager) registerResponse(gen uint64) func(*sip.Response) {
	return func(res *sip.Response) {
		if res.StatusCode >= 300 {
			m.registrationFailed(gen, &RegistrationError{
				Cause:      message.CauseFromStatus(res.StatusCode),
				StatusCode: res.StatusCode,
				Reason:     res.Reason,
			})
			return
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		first := m.status() != Registered
		if err := fire(m.fsm, EventRegistered); err != nil {
			m.mu.Unlock()
			m.logger.Warn("ответ регистратора вне ожидаемого состояния", slog.Any("error", err))
			return
		}
		granted := grantedExpires(res, m.endpoint.Contact.User, m.requestedExpires())
		m.lastErr = nil
		m.scheduleRefresh(granted, gen)
		m.mu.Unlock()

		m.logger.Info("регистрация принята", slog.Duration("expires", granted), slog.Bool("refresh", !first))
		if first {
			m.notifier.Notify(notify.Notification{Kind: notify.KindRegistered, Time: time.Now()})
		}
	}
}

func (m *Manager) registrationFailed(gen uint64, regErr *RegistrationError) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if err := fire(m.fsm, EventRegistrationFailed); err != nil {
		m.mu.Unlock()
		m.logger.Warn("ошибка регистрации вне ожидаемого состояния", slog.Any("error", err))
		return
	}
	m.stopRefresh()
	m.lastErr = regErr
	m.mu.Unlock()

	m.logger.Warn("регистрация отклонена",
		slog.String("cause", regErr.Cause),
		slog.Int("status", regErr.StatusCode))
	m.notifier.Notify(notify.Notification{
		Kind:       notify.KindRegistrationFailed,
		Time:       time.Now(),
		Cause:      regErr.Cause,
		StatusCode: regErr.StatusCode,
		Reason:     regErr.Reason,
		Err:        regErr,
	})
}

// scheduleRefresh вызывается под блокировкой. Обновление через 80% выданного срока.
func (m *Manager) scheduleRefresh(granted time.Duration, gen uint64) {
	m.stopRefresh()
	d := granted * 8 / 10
	if d <= 0 {
		return
	}
	m.refresh = time.AfterFunc(d, func() { m.refreshRegistration(gen) })
}

func (m *Manager) stopRefresh() {
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
}

func (m *Manager) refreshRegistration(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.status() != Registered {
		m.mu.Unlock()
		return
	}
	req := m.nextRegister(m.requestedExpires())
	m.mu.Unlock()

	m.logger.Debug("обновление регистрации")
	m.sendRegister(req, gen)
}

func (m *Manager) transportLost(err error) {
	m.mu.Lock()
	if m.status() == Disconnected {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.stopRefresh()
	_ = fire(m.fsm, EventTransportClosed)
	m.lastErr = err
	onLost := m.onLost
	m.mu.Unlock()

	n := m.txm.TerminateAll()
	m.logger.Error("транспорт потерян", slog.Any("error", err), slog.Int("transactions", n))
	m.notifier.Notify(notify.Notification{
		Kind:  notify.KindDisconnected,
		Time:  time.Now(),
		Cause: message.CauseTransportLost,
		Err:   err,
	})
	if onLost != nil {
		onLost(err)
	}
}

// Stop снимает регистрацию (Expires: 0), если она есть, и закрывает транспорт.
// Ожидание ответа на снятие ограничено ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	prev := m.status()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopRefresh()
	m.generation++
	gen := m.generation
	var unregister *sip.Request
	if prev == Registered {
		unregister = m.nextRegister(0)
	}
	m.mu.Unlock()

	if unregister != nil {
		m.unregister(ctx, unregister, gen)
	}

	m.mu.Lock()
	_ = fire(m.fsm, EventTransportClosed)
	m.generation++
	m.mu.Unlock()

	m.txm.TerminateAll()
	err := m.tp.Close()
	if prev != Disconnected {
		m.logger.Info("канал остановлен")
		m.notifier.Notify(notify.Notification{
			Kind:  notify.KindDisconnected,
			Time:  time.Now(),
			Cause: message.CauseTerminated,
		})
	}
	if err != nil {
		return errors.Wrap(err, "close transport")
	}
	return nil
}

func (m *Manager) unregister(ctx context.Context, req *sip.Request, gen uint64) {
	done := make(chan *sip.Response, 1)
	if err := m.request(req, gen, false, func(res *sip.Response) { done <- res }); err != nil {
		m.logger.Warn("не удалось снять регистрацию", slog.Any("error", err))
		return
	}

	timer := time.NewTimer(unregisterWait)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.StatusCode >= 300 {
			m.logger.Warn("регистратор отклонил снятие регистрации", slog.Int("status", res.StatusCode))
			return
		}
		m.mu.Lock()
		_ = fire(m.fsm, EventUnregistered)
		m.mu.Unlock()
		m.logger.Info("регистрация снята")
		m.notifier.Notify(notify.Notification{Kind: notify.KindUnregistered, Time: time.Now()})
	case <-ctx.Done():
		m.logger.Warn("снятие регистрации прервано", slog.Any("error", ctx.Err()))
	case <-timer.C:
		m.logger.Warn("нет ответа на снятие регистрации")
	}
}

// grantedExpires срок регистрации из ответа: параметр expires нашего Contact,
// затем заголовок Expires, затем запрошенное значение
func grantedExpires(res *sip.Response, contactUser string, requested int) time.Duration {
	for _, h := range res.GetHeaders("Contact") {
		value := h.Value()
		if contactUser != "" && !strings.Contains(value, contactUser) {
			continue
		}
		if v := contactExpires(value); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return time.Duration(requested) * time.Second
}

func contactExpires(value string) int {
	lower := strings.ToLower(value)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := value[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> "); end >= 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return v
}
