package monitor

import (
	"context"
	"log"
	"time"

	"exchange-core/internal/book"
	"exchange-core/internal/streamhub"
)

// Monitor watches a symbol's order stream and raises an alert whenever an
// order lands in a rejected terminal state (a post-only order that would
// cross), without an operator having to tail application logs. Orders
// refused by pre-trade validation (stale marks, margin rejects) are never
// published on the order stream, so they raise no alert here.
type Monitor struct {
	Hub    *streamhub.Hub
	Symbol string
	Sink   AlertSink
}

// Start subscribes to the order channel for Monitor.Symbol and runs until
// ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Hub == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	sub := m.Hub.Subscribe(streamhub.ChannelOrder, m.Symbol)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.C:
				if !ok {
					return
				}
				o, ok := event.Payload.(*book.Order)
				if !ok || o.Status != book.StatusRejected {
					continue
				}
				if err := m.Sink.Send(formatAlert(o)); err != nil {
					log.Printf("monitor: alert delivery failed: %v", err)
				}
			}
		}
	}()
}

func formatAlert(o *book.Order) string {
	return "[" + time.Now().Format(time.RFC3339) + "] order " + o.Symbol + " rejected for user " + o.UserID
}
