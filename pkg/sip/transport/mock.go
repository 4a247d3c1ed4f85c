package transport

import (
	"context"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// Mock in-memory транспорт для тестов. Тест играет роль сервера:
// читает отправленные сообщения из Sent и доставляет ответы через Deliver.
//
// Сообщения в обе стороны проходят сериализацию и повторный разбор, как на проводе.
type Mock struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	onMessage  MessageHandler
	onClose    CloseHandler

	sent chan sip.Message
}

// NewMock создает Mock транспорт
func NewMock() *Mock {
	return &Mock{sent: make(chan sip.Message, 256)}
}

func (m *Mock) Protocol() string { return "WS" }

// FailConnect задает ошибку для следующих вызовов Connect
func (m *Mock) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &TransportError{Transport: "mock", Operation: "dial", Err: err}
	}
	if m.connectErr != nil {
		return &TransportError{Transport: "mock", Operation: "dial", Err: m.connectErr}
	}
	if m.connected {
		return &TransportError{Transport: "mock", Operation: "dial", Err: ErrAlreadyConnected}
	}
	m.connected = true
	return nil
}

func (m *Mock) Send(msg sip.Message) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return &TransportError{Transport: "mock", Operation: "send", Err: ErrTransportClosed}
	}
	wire, err := roundTrip(msg)
	if err != nil {
		return &TransportError{Transport: "mock", Operation: "send", Err: err}
	}
	m.sent <- wire
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	m.onMessage = handler
	m.mu.Unlock()
}

func (m *Mock) OnClose(handler CloseHandler) {
	m.mu.Lock()
	m.onClose = handler
	m.mu.Unlock()
}

// Connected сообщает, установлено ли соединение
func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Sent канал отправленных клиентом сообщений
func (m *Mock) Sent() <-chan sip.Message {
	return m.sent
}

// Next ждет следующее отправленное сообщение
func (m *Mock) Next(timeout time.Duration) (sip.Message, error) {
	select {
	case msg := <-m.sent:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.New("нет отправленных сообщений")
	}
}

// WaitRequest ждет отправленный запрос с методом method, пропуская остальные сообщения
func (m *Mock) WaitRequest(method sip.RequestMethod, timeout time.Duration) (*sip.Request, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-m.sent:
			if req, ok := msg.(*sip.Request); ok && req.Method == method {
				return req, nil
			}
		case <-deadline:
			return nil, errors.Errorf("запрос %s не отправлен", method)
		}
	}
}

// WaitResponse ждет отправленный ответ с кодом code, пропуская остальные сообщения
func (m *Mock) WaitResponse(code int, timeout time.Duration) (*sip.Response, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-m.sent:
			if res, ok := msg.(*sip.Response); ok && res.StatusCode == code {
				return res, nil
			}
		case <-deadline:
			return nil, errors.Errorf("ответ %d не отправлен", code)
		}
	}
}

// Deliver доставляет сообщение клиенту синхронно, как read loop реального транспорта
func (m *Mock) Deliver(msg sip.Message) error {
	m.mu.Lock()
	connected := m.connected
	handler := m.onMessage
	m.mu.Unlock()
	if !connected {
		return ErrTransportClosed
	}
	wire, err := roundTrip(msg)
	if err != nil {
		return err
	}
	if handler != nil {
		handler(wire)
	}
	return nil
}

// Drop имитирует потерю соединения
func (m *Mock) Drop(cause error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	handler := m.onClose
	m.mu.Unlock()
	if cause == nil {
		cause = errors.New("connection reset")
	}
	if handler != nil {
		handler(&TransportError{Transport: "mock", Operation: "read", Err: cause})
	}
}

func roundTrip(msg sip.Message) (sip.Message, error) {
	wire, err := sip.NewParser().ParseSIP([]byte(msg.String()))
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	return wire, nil
}
