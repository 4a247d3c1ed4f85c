// Package media_sdp формирует SDP offer/answer для аудио вызова и переупорядочивает
// кодеки в исходящем offer.
//
// Видео всегда отклоняется, аудио всегда принимается. Медиа-плоскость (RTP) этим пакетом
// не создается: пакет отвечает только за описание сессии.
package media_sdp

import (
	"fmt"
)

// SDPErrorCode код ошибки SDP операций
type SDPErrorCode int

const (
	ErrorCodeInvalidConfig SDPErrorCode = iota + 2000
	ErrorCodeSDPGeneration
	ErrorCodeSDPParsing
	ErrorCodeIncompatibleCodec
	ErrorCodeUnknownCodec
	ErrorCodeCandidateGathering
	ErrorCodeNoAudio
)

// SDPError ошибка в SDP операциях
type SDPError struct {
	Code    SDPErrorCode
	Message string
	Wrapped error
}

// NewSDPError создает новую SDP ошибку
func NewSDPError(code SDPErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapSDPError оборачивает существующую ошибку в SDPError
func WrapSDPError(code SDPErrorCode, err error, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// Error реализует интерфейс error
func (e *SDPError) Error() string {
	msg := fmt.Sprintf("SDP Error [%d]: %s", e.Code, e.Message)
	if e.Wrapped != nil {
		msg += fmt.Sprintf(" - Wrapped: %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для поддержки errors.Is/As
func (e *SDPError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *SDPError) Is(target error) bool {
	t, ok := target.(*SDPError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrIncompatibleCodec нет ни одного общего аудио кодека
	ErrIncompatibleCodec = &SDPError{Code: ErrorCodeIncompatibleCodec, Message: "нет общих аудио кодеков"}
	// ErrUnknownCodec кодек отсутствует в таблице известных кодеков
	ErrUnknownCodec = &SDPError{Code: ErrorCodeUnknownCodec, Message: "неизвестный кодек"}
	// ErrNoAudio в описании сессии нет аудио
	ErrNoAudio = &SDPError{Code: ErrorCodeNoAudio, Message: "аудио медиа описание не найдено"}
)
