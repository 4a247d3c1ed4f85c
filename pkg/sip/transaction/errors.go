package transaction

import "errors"

var (
	// ErrInvalidRequest запрос без Via branch или CSeq
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse ответ без Via branch или CSeq
	ErrInvalidResponse = errors.New("invalid response")

	// ErrTransactionExists транзакция с таким ключом уже ожидает ответа
	ErrTransactionExists = errors.New("transaction already exists")

	// ErrTerminated менеджер остановлен
	ErrTerminated = errors.New("transaction manager terminated")
)
