package softphone

import (
	"fmt"
	"strings"
	"time"

	"github.com/arzzra/ws_softphone/pkg/channel"
	"github.com/arzzra/ws_softphone/pkg/dialog"
)

// Snapshot состояние софтфона для UI
type Snapshot struct {
	Status    channel.Status
	LastError error
	Active    *dialog.Info
	Last      *dialog.Info
}

// Snapshot возвращает текущее состояние канала и вызовов
func (p *Phone) Snapshot() Snapshot {
	snap := Snapshot{
		Status:    p.channel.Status(),
		LastError: p.channel.LastError(),
	}
	if info, ok := p.engine.Active(); ok {
		snap.Active = &info
	}
	if info, ok := p.engine.Last(); ok {
		snap.Last = &info
	}
	return snap
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "канал: %s", s.Status)
	if s.LastError != nil {
		fmt.Fprintf(&b, " (%v)", s.LastError)
	}
	if s.Active != nil {
		a := s.Active
		fmt.Fprintf(&b, "\nвызов: %s %s %s", a.Direction, a.RemoteURI, a.State)
		if a.Duration > 0 {
			fmt.Fprintf(&b, " %s", a.Duration.Truncate(time.Second))
		}
	} else {
		b.WriteString("\nвызов: нет")
	}
	if s.Last != nil {
		fmt.Fprintf(&b, "\nпоследний: %s %s %s", s.Last.RemoteURI, s.Last.State, s.Last.Cause)
	}
	return b.String()
}
