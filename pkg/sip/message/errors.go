package message

import "errors"

var (
	// ErrInvalidURI строка не является SIP URI
	ErrInvalidURI = errors.New("invalid SIP URI")
	// ErrInvalidTarget цель вызова не может быть преобразована в SIP URI
	ErrInvalidTarget = errors.New("invalid call target")
	// ErrMissingHeader в сообщении нет обязательного заголовка
	ErrMissingHeader = errors.New("missing required header")
	// ErrNoChallenge ответ 401/407 не содержит digest challenge
	ErrNoChallenge = errors.New("no digest challenge")
)
