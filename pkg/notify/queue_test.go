package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OrderPreserved(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Kind
	)
	q := NewQueue(func(n Notification) {
		mu.Lock()
		got = append(got, n.Kind)
		mu.Unlock()
	})

	want := []Kind{KindConnected, KindRegistered, KindCallProgress, KindCallConfirmed, KindCallEnded}
	for _, k := range want {
		q.Notify(Notification{Kind: k})
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestQueue_HandlerMayNotifyAgain(t *testing.T) {
	rec := NewRecorder(8)
	var q *Queue
	q = NewQueue(func(n Notification) {
		rec.Notify(n)
		if n.Kind == KindIncomingCall {
			// обработчик не должен блокироваться при повторном Notify
			q.Notify(Notification{Kind: KindCallConfirmed})
		}
	})
	defer q.Close()

	q.Notify(Notification{Kind: KindIncomingCall})

	n, ok := rec.WaitFor(KindCallConfirmed, time.Second)
	require.True(t, ok)
	assert.False(t, n.Time.IsZero(), "время должно проставляться автоматически")
}

func TestQueue_NotifyAfterClose(t *testing.T) {
	rec := NewRecorder(4)
	q := NewQueue(rec.Handle)
	q.Close()
	q.Notify(Notification{Kind: KindConnected})
	q.Close()

	assert.Empty(t, rec.All())
}

func TestNotification_String(t *testing.T) {
	n := Notification{
		Kind:       KindCallFailed,
		RemoteURI:  "sip:8000@pbx.example",
		Cause:      "busy",
		StatusCode: 486,
		Reason:     "Busy Here",
	}
	assert.Equal(t, "call-failed remote=sip:8000@pbx.example cause=busy response=486 Busy Here", n.String())
	assert.Equal(t, "unknown", Kind(100).String())
}
