package notify

import (
	"sync"
	"time"
)

// Recorder запоминает уведомления. Используется в тестах и в CLI для команды status.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
	ch  chan Notification
}

// NewRecorder создает Recorder с буфером ожидания на size уведомлений
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{ch: make(chan Notification, size)}
}

// Notify реализует Notifier
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
	select {
	case r.ch <- n:
	default:
	}
}

// Handle адаптер для Handler
func (r *Recorder) Handle(n Notification) {
	r.Notify(n)
}

// All возвращает копию всех полученных уведомлений
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.all))
	copy(out, r.all)
	return out
}

// Kinds возвращает типы всех полученных уведомлений по порядку
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.all))
	for _, n := range r.all {
		out = append(out, n.Kind)
	}
	return out
}

// WaitFor ждет уведомление заданного типа, пропуская остальные
func (r *Recorder) WaitFor(kind Kind, timeout time.Duration) (Notification, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case n := <-r.ch:
			if n.Kind == kind {
				return n, true
			}
		case <-timer.C:
			return Notification{}, false
		}
	}
}
