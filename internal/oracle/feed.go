package oracle

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
)

// MockFeed is a synthetic bid/ask random-walk generator, used as the
// reference test/demo adapter in place of a live venue connection.
type MockFeed struct {
	Oracle   *Oracle
	Symbols  []string // external symbols
	StartBid float64
	Spread   float64
	Step     float64
	Interval time.Duration
}

// Start runs the random walk until ctx is cancelled.
func (f *MockFeed) Start(ctx context.Context) {
	prices := make(map[string]float64, len(f.Symbols))
	for _, s := range f.Symbols {
		prices[s] = f.StartBid
	}

	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range f.Symbols {
				prices[s] += (rand.Float64()*2 - 1) * f.Step
				if prices[s] <= 0 {
					prices[s] = f.Step
				}
				bid := prices[s] - f.Spread/2
				ask := prices[s] + f.Spread/2
				if err := f.Oracle.ApplyTick(Tick{
					ExternalSymbol: s,
					Bid:            bid,
					Ask:            ask,
					Timestamp:      time.Now(),
				}); err != nil {
					log.Printf("oracle mock feed: %s: %v", s, err)
				}
			}
		}
	}
}

// WSFeed connects to a websocket venue that pushes {bid,ask,ts} frames and
// forwards them into the Oracle, reconnecting in a dedicated worker with
// bounded exponential backoff and jitter.
type WSFeed struct {
	Oracle         *Oracle
	URL            string
	ExternalSymbol string

	MaxBackoff time.Duration
}

type wsFrame struct {
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"ts"`
}

// Start connects and reconnects until ctx is cancelled.
func (f *WSFeed) Start(ctx context.Context) {
	maxBackoff := f.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.runOnce(ctx); err != nil {
			f.Oracle.OnDisconnect()
			log.Printf("oracle ws feed %s: %v, retrying in %s", f.ExternalSymbol, err, backoff)
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *WSFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.Oracle.OnReconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if err := f.Oracle.ApplyTick(Tick{
			ExternalSymbol: f.ExternalSymbol,
			Bid:            frame.Bid,
			Ask:            frame.Ask,
			Timestamp:      frame.Timestamp,
		}); err != nil {
			log.Printf("oracle ws feed %s: apply tick: %v", f.ExternalSymbol, err)
		}
	}
}
