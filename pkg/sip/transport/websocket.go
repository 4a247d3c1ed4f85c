package transport

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/gorilla/websocket"
)

// Subprotocol WebSocket sub-protocol для SIP (RFC 7118)
const Subprotocol = "sip"

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
	maxMessageSize          = 64 * 1024
)

// WebSocketConfig параметры WebSocket транспорта
type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// WebSocket SIP-over-WebSocket транспорт клиента.
//
// Одно соединение за раз. После потери соединения Connect можно вызвать снова.
type WebSocket struct {
	url      string
	protocol string
	dialer   websocket.Dialer
	logger   *slog.Logger

	mu   sync.Mutex
	conn *wsConn

	handlerMu sync.RWMutex
	onMessage MessageHandler
	onClose   CloseHandler
}

type wsConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewWebSocket создает транспорт. URL должен иметь схему ws или wss.
func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &TransportError{Transport: "ws", Operation: "parse url", Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "ws" && scheme != "wss") || u.Host == "" {
		return nil, &TransportError{Transport: "ws", Operation: "parse url", Err: ErrInvalidURL}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &WebSocket{
		url:      cfg.URL,
		protocol: strings.ToUpper(scheme),
		dialer: websocket.Dialer{
			Subprotocols:     []string{Subprotocol},
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.With(slog.String("transport", scheme), slog.String("url", cfg.URL)),
	}, nil
}

func (t *WebSocket) Protocol() string { return t.protocol }

func (t *WebSocket) OnMessage(handler MessageHandler) {
	t.handlerMu.Lock()
	t.onMessage = handler
	t.handlerMu.Unlock()
}

func (t *WebSocket) OnClose(handler CloseHandler) {
	t.handlerMu.Lock()
	t.onClose = handler
	t.handlerMu.Unlock()
}

// Connect выполняет WebSocket handshake и запускает чтение
func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return &TransportError{Transport: t.name(), Operation: "dial", Err: ErrAlreadyConnected}
	}
	t.mu.Unlock()

	t.logger.Debug("подключение")
	c, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if resp != nil {
			t.logger.Debug("handshake отклонен", slog.Int("status", resp.StatusCode))
		}
		return &TransportError{Transport: t.name(), Operation: "dial", Err: err}
	}
	if c.Subprotocol() != Subprotocol {
		t.logger.Warn("сервер не подтвердил sub-protocol", slog.String("subprotocol", c.Subprotocol()))
	}
	c.SetReadLimit(maxMessageSize)

	wc := &wsConn{c: c}
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = c.Close()
		return &TransportError{Transport: t.name(), Operation: "dial", Err: ErrAlreadyConnected}
	}
	t.conn = wc
	t.mu.Unlock()

	t.logger.Info("соединение установлено")
	go t.readLoop(wc)
	return nil
}

// Send сериализует сообщение в один текстовый фрейм
func (t *WebSocket) Send(msg sip.Message) error {
	t.mu.Lock()
	wc := t.conn
	t.mu.Unlock()
	if wc == nil || wc.closed.Load() {
		return &TransportError{Transport: t.name(), Operation: "send", Err: ErrTransportClosed}
	}

	data := []byte(msg.String())
	if len(data) > maxMessageSize {
		return &TransportError{Transport: t.name(), Operation: "send", Err: ErrMessageTooLarge}
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	_ = wc.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wc.c.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Transport: t.name(), Operation: "send", Err: err}
	}
	t.logger.Debug("отправлено", slog.String("start_line", startLine(data)))
	return nil
}

// Close закрывает текущее соединение. CloseHandler не вызывается.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	wc := t.conn
	t.conn = nil
	t.mu.Unlock()
	if wc == nil || !wc.closed.CompareAndSwap(false, true) {
		return nil
	}

	wc.writeMu.Lock()
	_ = wc.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	wc.writeMu.Unlock()

	t.logger.Info("соединение закрыто")
	return wc.c.Close()
}

func (t *WebSocket) readLoop(wc *wsConn) {
	parser := sip.NewParser()
	for {
		mt, data, err := wc.c.ReadMessage()
		if err != nil {
			t.lost(wc, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		msg, err := parser.ParseSIP(data)
		if err != nil {
			t.logger.Warn("не удалось разобрать SIP сообщение",
				slog.Any("error", err),
				slog.String("start_line", startLine(data)))
			continue
		}
		t.logger.Debug("получено", slog.String("start_line", startLine(data)))

		t.handlerMu.RLock()
		handler := t.onMessage
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// lost обрабатывает завершение чтения. Если соединение закрыто локально, ничего не делает.
func (t *WebSocket) lost(wc *wsConn, err error) {
	if !wc.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	if t.conn == wc {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = wc.c.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Info("сервер закрыл соединение", slog.Any("reason", err))
	} else {
		t.logger.Error("соединение потеряно", slog.Any("error", err), slog.Bool("timeout", isTimeout(err)))
	}

	t.handlerMu.RLock()
	handler := t.onClose
	t.handlerMu.RUnlock()
	if handler != nil {
		handler(&TransportError{Transport: t.name(), Operation: "read", Err: err})
	}
}

func (t *WebSocket) name() string {
	return strings.ToLower(t.protocol)
}

func startLine(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		return s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
