// Package transaction сопоставляет ответы с отправленными запросами поверх
// одного надежного транспорта.
//
// Транспорт WebSocket надежный, поэтому ретрансмиссии и таймеры A/E не нужны.
// Ответ на запрос доставляется обработчику, указанному в Request; финальный ответ
// завершает транзакцию.
package transaction

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/ws_softphone/pkg/sip/transport"
)

// ResponseHandler получает ответы клиентской транзакции
type ResponseHandler func(res *sip.Response)

// RequestHandler получает входящие запросы
type RequestHandler func(req *sip.Request)

// Config параметры менеджера транзакций
type Config struct {
	// Timeout время ожидания финального ответа (Timer B/F).
	// 0 отключает таймер; по истечении обработчик получает 408.
	Timeout time.Duration
	Logger  *slog.Logger
}

type clientTx struct {
	req     *sip.Request
	handler ResponseHandler
	timer   *time.Timer
}

// Manager менеджер клиентских транзакций
type Manager struct {
	tp      transport.Transport
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	pending    map[Key]*clientTx
	onRequest  RequestHandler
	onUnknown  ResponseHandler
	terminated bool
}

// NewManager создает менеджер и подписывается на входящие сообщения транспорта
func NewManager(tp transport.Transport, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		tp:      tp,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		pending: make(map[Key]*clientTx),
	}
	tp.OnMessage(m.HandleMessage)
	return m
}

// OnRequest устанавливает обработчик входящих запросов
func (m *Manager) OnRequest(handler RequestHandler) {
	m.mu.Lock()
	m.onRequest = handler
	m.mu.Unlock()
}

// OnUnmatchedResponse устанавливает обработчик ответов вне транзакций
// (например, повторный 2xx на INVITE)
func (m *Manager) OnUnmatchedResponse(handler ResponseHandler) {
	m.mu.Lock()
	m.onUnknown = handler
	m.mu.Unlock()
}

// Request отправляет запрос и регистрирует обработчик ответов.
// ACK транзакцию не создает и отправляется как есть.
func (m *Manager) Request(req *sip.Request, handler ResponseHandler) error {
	if req.Method == sip.ACK {
		return m.Send(req)
	}

	key, err := RequestKey(req)
	if err != nil {
		return err
	}

	tx := &clientTx{req: req, handler: handler}
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return ErrTerminated
	}
	if _, ok := m.pending[key]; ok {
		m.mu.Unlock()
		return errors.Wrap(ErrTransactionExists, key.String())
	}
	m.pending[key] = tx
	if m.timeout > 0 {
		tx.timer = time.AfterFunc(m.timeout, func() { m.expire(key) })
	}
	m.mu.Unlock()

	m.logger.Debug("клиентская транзакция создана",
		slog.String("method", req.Method.String()),
		slog.String("branch", key.Branch))

	if err := m.tp.Send(req); err != nil {
		m.remove(key)
		return errors.Wrapf(err, "send %s", req.Method)
	}
	return nil
}

// Send отправляет сообщение без создания транзакции (ACK, ответы)
func (m *Manager) Send(msg sip.Message) error {
	m.mu.Lock()
	terminated := m.terminated
	m.mu.Unlock()
	if terminated {
		return ErrTerminated
	}
	return m.tp.Send(msg)
}

// Respond отправляет ответ на входящий запрос
func (m *Manager) Respond(res *sip.Response) error {
	return m.Send(res)
}

// Pending число транзакций, ожидающих финального ответа
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// TerminateAll удаляет все ожидающие транзакции без вызова обработчиков
func (m *Manager) TerminateAll() int {
	m.mu.Lock()
	n := len(m.pending)
	for key, tx := range m.pending {
		if tx.timer != nil {
			tx.timer.Stop()
		}
		delete(m.pending, key)
	}
	m.mu.Unlock()
	if n > 0 {
		m.logger.Debug("транзакции прерваны", slog.Int("count", n))
	}
	return n
}

// Stop прерывает транзакции и отклоняет новые запросы
func (m *Manager) Stop() {
	m.TerminateAll()
	m.mu.Lock()
	m.terminated = true
	m.mu.Unlock()
}

// HandleMessage разбирает входящее сообщение транспорта
func (m *Manager) HandleMessage(msg sip.Message) {
	switch msg := msg.(type) {
	case *sip.Response:
		m.handleResponse(msg)
	case *sip.Request:
		m.mu.Lock()
		handler := m.onRequest
		m.mu.Unlock()
		if handler == nil {
			m.logger.Warn("нет обработчика запросов", slog.String("method", msg.Method.String()))
			return
		}
		handler(msg)
	}
}

func (m *Manager) handleResponse(res *sip.Response) {
	key, err := ResponseKey(res)
	if err != nil {
		m.logger.Warn("некорректный ответ", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	tx, ok := m.pending[key]
	if ok && res.StatusCode >= 200 {
		if tx.timer != nil {
			tx.timer.Stop()
		}
		delete(m.pending, key)
	}
	unknown := m.onUnknown
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("ответ вне транзакции",
			slog.Int("status", res.StatusCode),
			slog.String("branch", key.Branch))
		if unknown != nil {
			unknown(res)
		}
		return
	}

	m.logger.Debug("ответ транзакции",
		slog.Int("status", res.StatusCode),
		slog.String("method", key.Method.String()))
	if tx.handler != nil {
		tx.handler(res)
	}
}

func (m *Manager) expire(key Key) {
	m.mu.Lock()
	tx, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Warn("таймаут транзакции", slog.String("method", key.Method.String()))
	if tx.handler != nil {
		tx.handler(sip.NewResponseFromRequest(tx.req, 408, "Request Timeout", nil))
	}
}

func (m *Manager) remove(key Key) {
	m.mu.Lock()
	if tx, ok := m.pending[key]; ok {
		if tx.timer != nil {
			tx.timer.Stop()
		}
		delete(m.pending, key)
	}
	m.mu.Unlock()
}
