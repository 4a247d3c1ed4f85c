package dialog

import (
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/ws_softphone/pkg/media_sdp"
	"github.com/arzzra/ws_softphone/pkg/sip/message"
)

// Direction направление вызова
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// session единственный вызов движка. Поля защищены мьютексом Engine.
type session struct {
	fsm       *fsm.FSM
	callID    string
	localTag  string
	direction Direction
	local     sip.Uri
	remote    sip.Uri

	// invite последний отправленный (исходящий) или принятый (входящий) INVITE
	invite *sip.Request
	dialog *message.Dialog
	cseq   uint32

	localSDP []byte
	codecs   []media_sdp.Codec

	// provisional получен хотя бы один 1xx на текущий INVITE, CANCEL допустим
	provisional   bool
	cancelPending bool
	authorized    bool
	// awaitingAnswer входящий INVITE без SDP, answer придет в ACK
	awaitingAnswer bool

	timer *time.Timer

	cause      string
	statusCode int
	reason     string
	err        error

	startedAt   time.Time
	confirmedAt time.Time
	endedAt     time.Time
}

func newSession(direction Direction, local, remote sip.Uri, callID, localTag string, logger *slog.Logger) *session {
	return &session{
		fsm:       newSessionFSM(logger.With(slog.String("call_id", callID))),
		callID:    callID,
		localTag:  localTag,
		direction: direction,
		local:     local,
		remote:    remote,
		startedAt: time.Now(),
	}
}

func (s *session) state() State {
	return State(s.fsm.Current())
}

func (s *session) fire(ev Event) error {
	return fire(s.fsm, ev)
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// duration время разговора, 0 если вызов не был установлен
func (s *session) duration() time.Duration {
	if s.confirmedAt.IsZero() {
		return 0
	}
	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.confirmedAt)
}

// Info снимок состояния вызова
type Info struct {
	CallID    string
	Direction Direction
	LocalURI  string
	RemoteURI string
	State     State
	Codecs    []media_sdp.Codec

	// Причина завершения, пусто для активного вызова
	Cause      string
	StatusCode int
	Reason     string
	Err        error

	StartedAt   time.Time
	ConfirmedAt time.Time
	Duration    time.Duration
}

func (s *session) info() Info {
	return Info{
		CallID:      s.callID,
		Direction:   s.direction,
		LocalURI:    s.local.String(),
		RemoteURI:   s.remote.String(),
		State:       s.state(),
		Codecs:      append([]media_sdp.Codec(nil), s.codecs...),
		Cause:       s.cause,
		StatusCode:  s.statusCode,
		Reason:      s.reason,
		Err:         s.err,
		StartedAt:   s.startedAt,
		ConfirmedAt: s.confirmedAt,
		Duration:    s.duration(),
	}
}
