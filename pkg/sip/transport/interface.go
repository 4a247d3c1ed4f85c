package transport

import (
	"context"

	"github.com/emiago/sipgo/sip"
)

// MessageHandler вызывается для каждого разобранного входящего сообщения
type MessageHandler func(msg sip.Message)

// CloseHandler вызывается один раз при потере установленного соединения.
// При локальном Close не вызывается.
type CloseHandler func(err error)

// Transport постоянное соединение с SIP сервером, одно сообщение на фрейм
type Transport interface {
	// Connect устанавливает соединение. Блокирует до завершения handshake.
	Connect(ctx context.Context) error

	// Send отправляет сообщение
	Send(msg sip.Message) error

	// Close закрывает соединение
	Close() error

	// OnMessage устанавливает обработчик входящих сообщений
	OnMessage(handler MessageHandler)

	// OnClose устанавливает обработчик потери соединения
	OnClose(handler CloseHandler)

	// Protocol возвращает транспорт для Via (WS, WSS)
	Protocol() string
}
