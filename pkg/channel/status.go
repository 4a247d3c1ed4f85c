package channel

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// Status состояние канала сигнализации
type Status string

func (s Status) String() string {
	return string(s)
}

const (
	// Disconnected - транспорт не установлен
	Disconnected Status = "Disconnected"
	// Connecting - идет подключение к серверу
	Connecting Status = "Connecting"
	// Connected - транспорт установлен, регистрации нет
	Connected Status = "Connected"
	// Registered - регистратор принял REGISTER
	Registered Status = "Registered"
	// RegistrationFailed - регистратор отклонил REGISTER, транспорт жив
	RegistrationFailed Status = "RegistrationFailed"
)

// Event событие автомата канала
type Event string

const (
	EventStart              Event = "start"
	EventTransportOpen      Event = "transport_open"
	EventRegistered         Event = "registered"
	EventRegistrationFailed Event = "registration_failed"
	EventRetry              Event = "retry"
	EventUnregistered       Event = "unregistered"
	EventTransportClosed    Event = "transport_closed"
)

/*
Автомат канала:

	[Disconnected] --start--> [Connecting] --transport_open--> [Connected]
	[Connected] --registered--> [Registered] --registered--> [Registered] (обновление)
	[Connected|Registered] --registration_failed--> [RegistrationFailed]
	[RegistrationFailed] --retry--> [Connected]
	[Registered] --unregistered--> [Connected]
	[*] --transport_closed--> [Disconnected]
*/
func newFSM(logger *slog.Logger) *fsm.FSM {
	all := []string{
		string(Disconnected), string(Connecting), string(Connected),
		string(Registered), string(RegistrationFailed),
	}
	return fsm.NewFSM(
		string(Disconnected),
		fsm.Events{
			{Name: string(EventStart), Src: []string{string(Disconnected)}, Dst: string(Connecting)},
			{Name: string(EventTransportOpen), Src: []string{string(Connecting)}, Dst: string(Connected)},
			{Name: string(EventRegistered), Src: []string{string(Connected), string(Registered)}, Dst: string(Registered)},
			{Name: string(EventRegistrationFailed), Src: []string{string(Connected), string(Registered)}, Dst: string(RegistrationFailed)},
			{Name: string(EventRetry), Src: []string{string(RegistrationFailed)}, Dst: string(Connected)},
			{Name: string(EventUnregistered), Src: []string{string(Registered)}, Dst: string(Connected)},
			{Name: string(EventTransportClosed), Src: all, Dst: string(Disconnected)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug("канал: смена состояния",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
}

// fire применяет событие. Переход в то же состояние ошибкой не считается.
func fire(f *fsm.FSM, ev Event) error {
	err := f.Event(context.Background(), string(ev))
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return errors.Wrapf(ErrIllegalTransition, "%s в состоянии %s", ev, f.Current())
}
