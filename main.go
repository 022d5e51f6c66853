package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange-core/internal/api"
	"exchange-core/internal/catalog"
	"exchange-core/internal/clock"
	"exchange-core/internal/exchange"
	"exchange-core/internal/hedge"
	"exchange-core/internal/journal"
	"exchange-core/internal/monitor"
	"exchange-core/internal/oracle"
	"exchange-core/internal/position"
	"exchange-core/internal/streamhub"
	"exchange-core/pkg/config"
)

// noopBroker is the reference hedge.Broker: it acknowledges every intent
// without touching a real venue. main always wires this broker; it keeps the
// hedge engine's deadband/throttle/retry machinery exercised end to end.
type noopBroker struct{}

func (noopBroker) Hedge(ctx context.Context, intent hedge.Intent) error {
	log.Printf("hedge: (noop) would trade %+v", intent)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Printf("catalog: %v, starting with an empty catalog", err)
		cat = catalog.New()
	}

	lastSeq, err := journal.Replay(cfg.JournalDir, func(e journal.Entry) error {
		return nil // state rebuild from replay is a future increment; boot is always cold today
	})
	if err != nil {
		log.Printf("journal replay: %v", err)
	}

	j, err := journal.Open(cfg.JournalDir, cfg.JournalRingDepth, lastSeq)
	if err != nil {
		log.Fatalf("journal: %v", err)
	}
	defer j.Close()

	clk := clock.New(0)
	ids := clock.NewIDAllocator(lastSeq)

	hub := streamhub.New(cfg.StreamQueueDepth)

	orc := oracle.New(cat, cfg.StalenessThreshold)
	positions := position.New(cat, cfg.LiquidationBuffer)

	var hedgeEngine *hedge.Engine
	if len(cat.HedgeableSymbols()) > 0 {
		hedgeEngine = hedge.New(cat, hub, noopBroker{}, hedge.LogAlerter{}, cfg.HedgeMaxRetries, cfg.HedgeDeadbandDefault, cfg.HedgeThrottleDefault)
	}

	metrics := monitor.NewSystemMetrics()

	ex := exchange.New(cat, clk, ids, orc, positions, j, hub, hedgeEngine, metrics, exchange.Config{
		SelfTradePrevention:  cfg.SelfTradePrevention,
		LiquidationBufferBps: cfg.LiquidationBuffer,
	})
	_ = ex // the HTTP surface below is ops-only; adapters embedding ex live outside this process today

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMockFeed {
		feed := &oracle.MockFeed{
			Oracle:   orc,
			Symbols:  externalSymbols(cat),
			StartBid: 50000,
			Spread:   2,
			Step:     25,
			Interval: time.Second,
		}
		go feed.Start(ctx)
	}

	for _, sym := range cat.ActiveSymbols() {
		m := &monitor.Monitor{Hub: hub, Symbol: sym, Sink: monitor.LogSink{}}
		m.Start(ctx)
	}

	server := api.NewServer(metrics, api.SystemMeta{
		Symbols:     cat.ActiveSymbols(),
		UseMockFeed: cfg.UseMockFeed,
		Version:     "dev",
	})

	go func() {
		if err := server.Start(":" + trimPort(cfg.ListenPort)); err != nil {
			log.Printf("api server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")
	cancel()
}

func externalSymbols(cat *catalog.Catalog) []string {
	var out []string
	for _, sym := range cat.ActiveSymbols() {
		p, err := cat.Get(sym)
		if err != nil {
			continue
		}
		out = append(out, p.ExternalSymbol)
	}
	return out
}

func trimPort(p string) string {
	if len(p) > 0 && p[0] == ':' {
		return p[1:]
	}
	return p
}
