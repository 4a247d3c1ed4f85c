package channel

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyStarted Start вызван, когда канал уже подключается или работает
	ErrAlreadyStarted = errors.New("signaling channel already started")
	// ErrIllegalTransition событие недопустимо в текущем состоянии
	ErrIllegalTransition = errors.New("illegal channel transition")
	// ErrInvalidIdentity некорректные параметры учетной записи
	ErrInvalidIdentity = errors.New("invalid identity")
)

// RegistrationError регистратор отклонил регистрацию или запрос не удалось отправить
type RegistrationError struct {
	Cause      string
	StatusCode int
	Reason     string
	Err        error
}

func (e *RegistrationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("registration failed: %s (%d %s)", e.Cause, e.StatusCode, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("registration failed: %s: %v", e.Cause, e.Err)
	}
	return "registration failed: " + e.Cause
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
