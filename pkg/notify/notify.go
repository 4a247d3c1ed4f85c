// Package notify описывает уведомления о жизненном цикле регистрации и вызова,
// которые ядро софтфона отдает внешнему UI.
//
// Уведомления доставляются строго в порядке возникновения отдельной горутиной
// (см. Queue), поэтому обработчик может синхронно вызывать команды телефона.
package notify

import (
	"fmt"
	"strings"
	"time"
)

// Kind тип уведомления
type Kind int

const (
	// KindConnected - транспорт установлен
	KindConnected Kind = iota
	// KindDisconnected - транспорт потерян или не смог подключиться
	KindDisconnected
	// KindRegistered - регистратор принял регистрацию
	KindRegistered
	// KindRegistrationFailed - регистратор отклонил регистрацию
	KindRegistrationFailed
	// KindUnregistered - регистрация снята (Expires: 0)
	KindUnregistered
	// KindIncomingCall - поступил входящий вызов
	KindIncomingCall
	// KindIncomingRejected - входящий вызов отклонен, так как линия занята
	KindIncomingRejected
	// KindCallProgress - получен предварительный ответ
	KindCallProgress
	// KindCallConfirmed - вызов установлен
	KindCallConfirmed
	// KindCallEnded - вызов завершен
	KindCallEnded
	// KindCallFailed - вызов не состоялся
	KindCallFailed
)

var kindNames = map[Kind]string{
	KindConnected:          "connected",
	KindDisconnected:       "disconnected",
	KindRegistered:         "registered",
	KindRegistrationFailed: "registration-failed",
	KindUnregistered:       "unregistered",
	KindIncomingCall:       "incoming-call",
	KindIncomingRejected:   "incoming-rejected",
	KindCallProgress:       "call-progress",
	KindCallConfirmed:      "call-confirmed",
	KindCallEnded:          "call-ended",
	KindCallFailed:         "call-failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Notification уведомление для UI
type Notification struct {
	Kind Kind
	Time time.Time

	// Вызов
	CallID    string
	Direction string
	RemoteURI string
	Duration  time.Duration

	// Причина завершения или ошибки. Заполняется для всех ошибочных уведомлений.
	Cause string
	// Код и фраза SIP ответа, если причиной стал ответ сервера
	StatusCode int
	Reason     string

	Err error
}

// String возвращает человекочитаемое описание уведомления
func (n Notification) String() string {
	var b strings.Builder
	b.WriteString(n.Kind.String())
	if n.RemoteURI != "" {
		b.WriteString(" remote=")
		b.WriteString(n.RemoteURI)
	}
	if n.Cause != "" {
		b.WriteString(" cause=")
		b.WriteString(n.Cause)
	}
	if n.StatusCode != 0 {
		fmt.Fprintf(&b, " response=%d %s", n.StatusCode, n.Reason)
	}
	if n.Duration > 0 {
		b.WriteString(" duration=")
		b.WriteString(n.Duration.Round(time.Millisecond).String())
	}
	return b.String()
}

// Handler обработчик уведомлений
type Handler func(Notification)

// Notifier принимает уведомления от компонентов
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc адаптер функции к Notifier
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Discard игнорирует все уведомления
var Discard Notifier = NotifierFunc(func(Notification) {})
