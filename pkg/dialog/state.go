package dialog

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// State состояние вызова
type State string

func (s State) String() string {
	return string(s)
}

const (
	// Idle - сессия создана, INVITE еще не отправлен и не принят
	Idle State = "Idle"
	// Offering - отправлен INVITE, ответов нет
	Offering State = "Offering"
	// Ringing - получен предварительный ответ
	Ringing State = "Ringing"
	// EarlyMedia - исходящий: получен 183 с SDP; входящий: отправлен 200 OK, ждем ACK
	EarlyMedia State = "EarlyMedia"
	// Confirmed - вызов установлен
	Confirmed State = "Confirmed"
	// Terminating - отправлен CANCEL или BYE
	Terminating State = "Terminating"
	// Ended - вызов завершен после установления или локально
	Ended State = "Ended"
	// Failed - вызов не состоялся
	Failed State = "Failed"
)

// Terminal сообщает, что из состояния нет переходов
func (s State) Terminal() bool {
	return s == Ended || s == Failed
}

// Event событие автомата вызова
type Event string

const (
	EventInvite        Event = "invite"
	EventAnswer        Event = "answer"
	EventProgress      Event = "progress"
	EventEarlyMedia    Event = "early_media"
	EventConfirmed     Event = "confirmed"
	EventHangup        Event = "hangup"
	EventEnded         Event = "ended"
	EventFailed        Event = "failed"
	EventTransportLost Event = "transport_lost"
)

/*
Автомат вызова:

	[Idle] --invite--> [Offering] --progress--> [Ringing] --early_media--> [EarlyMedia]
	[Idle] --answer--> [EarlyMedia]                       (входящий, 200 OK отправлен)
	[Offering|Ringing|EarlyMedia] --confirmed--> [Confirmed]
	[Offering|Ringing|EarlyMedia] --failed--> [Failed]
	[EarlyMedia|Confirmed|Terminating] --ended--> [Ended]
	[не терминальное] --hangup--> [Terminating]
	[не терминальное] --transport_lost--> [Ended]
*/
func newSessionFSM(logger *slog.Logger) *fsm.FSM {
	s := func(states ...State) []string {
		out := make([]string, len(states))
		for i, st := range states {
			out[i] = string(st)
		}
		return out
	}
	live := s(Idle, Offering, Ringing, EarlyMedia, Confirmed, Terminating)

	return fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: string(EventInvite), Src: s(Idle), Dst: string(Offering)},
			{Name: string(EventAnswer), Src: s(Idle), Dst: string(EarlyMedia)},
			{Name: string(EventProgress), Src: s(Offering, Ringing), Dst: string(Ringing)},
			{Name: string(EventProgress), Src: s(EarlyMedia), Dst: string(EarlyMedia)},
			{Name: string(EventEarlyMedia), Src: s(Offering, Ringing, EarlyMedia), Dst: string(EarlyMedia)},
			{Name: string(EventConfirmed), Src: s(Offering, Ringing, EarlyMedia), Dst: string(Confirmed)},
			{Name: string(EventHangup), Src: s(Offering, Ringing, EarlyMedia, Confirmed), Dst: string(Terminating)},
			{Name: string(EventEnded), Src: s(EarlyMedia, Confirmed, Terminating), Dst: string(Ended)},
			{Name: string(EventFailed), Src: s(Offering, Ringing, EarlyMedia), Dst: string(Failed)},
			{Name: string(EventTransportLost), Src: live, Dst: string(Ended)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug("вызов: смена состояния",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
}

// fire применяет событие к автомату. Повторный переход в то же состояние
// (progress в EarlyMedia) ошибкой не считается.
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
