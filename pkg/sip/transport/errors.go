package transport

import "errors"

var (
	// ErrTransportClosed соединение не установлено или уже закрыто
	ErrTransportClosed = errors.New("transport closed")

	// ErrAlreadyConnected Connect вызван при живом соединении
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrInvalidURL адрес транспорта не ws:// или wss://
	ErrInvalidURL = errors.New("invalid transport url")

	// ErrMessageTooLarge сообщение не помещается в один фрейм
	ErrMessageTooLarge = errors.New("message too large")
)

// TransportError ошибка транспорта: неудачное подключение, запись или потеря соединения
type TransportError struct {
	Transport string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Transport + " " + e.Operation
	}
	return e.Transport + " " + e.Operation + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// isTimeout проверяет, что ошибка является таймаутом
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
