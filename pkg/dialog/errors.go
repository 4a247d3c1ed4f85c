package dialog

import (
	"fmt"

	"github.com/pkg/errors"
)

// SessionErrorCode код локальной ошибки предусловия
type SessionErrorCode int

const (
	CodeNotRegistered SessionErrorCode = iota + 1
	CodeSessionBusy
	CodeNoActiveSession
	CodeInvalidTarget
)

func (c SessionErrorCode) String() string {
	switch c {
	case CodeNotRegistered:
		return "NotRegistered"
	case CodeSessionBusy:
		return "SessionBusy"
	case CodeNoActiveSession:
		return "NoActiveSession"
	case CodeInvalidTarget:
		return "InvalidTarget"
	}
	return fmt.Sprintf("SessionErrorCode(%d)", int(c))
}

// SessionError локальная ошибка команды. Возвращается синхронно, состояние не меняет.
type SessionError struct {
	Code    SessionErrorCode
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && t.Code == e.Code
}

var (
	ErrNotRegistered     = &SessionError{Code: CodeNotRegistered, Message: "канал не зарегистрирован"}
	ErrSessionBusy       = &SessionError{Code: CodeSessionBusy, Message: "уже есть активный вызов"}
	ErrNoActiveSession   = &SessionError{Code: CodeNoActiveSession, Message: "нет активного вызова"}
	ErrInvalidTarget     = &SessionError{Code: CodeInvalidTarget, Message: "некорректный номер"}
	ErrIllegalTransition = errors.New("illegal call transition")
)

// CallTerminationError вызов завершен или не состоялся по инициативе сети или удаленной стороны
type CallTerminationError struct {
	Cause      string
	StatusCode int
	Reason     string
	Err        error
}

func (e *CallTerminationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("call terminated: %s (%d %s)", e.Cause, e.StatusCode, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("call terminated: %s: %v", e.Cause, e.Err)
	}
	return "call terminated: " + e.Cause
}

func (e *CallTerminationError) Unwrap() error {
	return e.Err
}
