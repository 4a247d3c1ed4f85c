package notify

import (
	"sync"
	"time"
)

// Queue неограниченная очередь уведомлений с одной горутиной доставки.
//
// Notify никогда не блокирует отправителя, порядок доставки совпадает с порядком вызовов Notify.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Notification
	handler Handler
	closed  bool
	done    chan struct{}
}

// NewQueue создает очередь и запускает горутину доставки
func NewQueue(handler Handler) *Queue {
	q := &Queue{
		handler: handler,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Notify ставит уведомление в очередь
func (q *Queue) Notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, n)
	q.cond.Signal()
}

// Close доставляет оставшиеся уведомления и останавливает горутину.
// Не вызывать из обработчика уведомлений.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, n := range batch {
			if q.handler != nil {
				q.handler(n)
			}
		}
	}
}
