package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"tradebotv1/config"
	"tradebotv1/internal/broker"
	"tradebotv1/internal/dispatch"
	"tradebotv1/internal/execution"
	"tradebotv1/internal/feed"
	"tradebotv1/internal/ledger"
	"tradebotv1/internal/logger"
	"tradebotv1/internal/markethours"
	"tradebotv1/internal/marketstate"
	"tradebotv1/internal/metrics"
	"tradebotv1/internal/model"
	"tradebotv1/internal/notification"
	"tradebotv1/internal/signal"
	"tradebotv1/internal/watchlist"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err == nil {
		log.Println("[tradebot] loaded .env")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[tradebot] %v", err)
	}

	logger.Init(logger.Options{
		Service: "tradebot",
		Level:   logger.ParseLevel(cfg.LogLevel),
		File:    cfg.LogFile,
	})
	log.Println("[tradebot] starting...")

	// ---- Watchlist and partitioning ----
	symbols, err := watchlist.Load(cfg.WatchlistPath)
	if err != nil {
		log.Fatalf("[tradebot] watchlist: %v", err)
	}
	chunks, err := watchlist.Partition(symbols, cfg.FeedChunkSize)
	if err != nil {
		log.Fatalf("[tradebot] %v", err)
	}
	log.Printf("[tradebot] %d symbols across %d feed connections", len(symbols), len(chunks))
	log.Printf("[tradebot] %s", markethours.StatusString(time.Now()))
	if !markethours.IsMarketOpen(time.Now()) {
		log.Println("[tradebot] started outside regular hours; no entries until the session opens")
	}

	// ---- Metrics & health ----
	mt := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(len(chunks))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Alert sink ----
	var backends []notification.Notifier
	if cfg.DiscordWebhook != "" {
		backends = append(backends, notification.NewDiscordNotifier(cfg.DiscordWebhook))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	var notifier notification.Notifier
	switch len(backends) {
	case 0:
		notifier = notification.NewLogNotifier()
	case 1:
		notifier = backends[0]
	default:
		notifier = notification.NewMultiNotifier(backends...)
	}

	// ---- Position ledger ----
	var store ledger.Store
	switch cfg.LedgerBackend {
	case "redis":
		rs, err := ledger.NewRedisStore(ledger.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("[tradebot] redis store: %v", err)
		}
		health.StartLivenessChecker(ctx, rs.Client(), nil, 10*time.Second)
		store = rs
	default:
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		ss, err := ledger.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[tradebot] sqlite store: %v", err)
		}
		health.StartLivenessChecker(ctx, nil, ss.DB(), 10*time.Second)
		store = ss
	}
	defer store.Close()

	led, err := ledger.New(store)
	if err != nil {
		log.Fatalf("[tradebot] ledger: %v", err)
	}
	if held := led.List(); len(held) > 0 {
		log.Printf("[tradebot] restored %d open positions: %v", len(held), held)
	}
	mt.OpenPositions.Set(float64(led.Count()))

	// ---- Broker ----
	var orderAPI broker.OrderAPI
	var paper *execution.PaperBroker
	if cfg.Broker == "paper" {
		paper = execution.NewPaperBroker(cfg.Capital, 5)
		orderAPI = paper
		log.Printf("[tradebot] paper trading with %.2f starting equity", cfg.Capital)
	} else {
		orderAPI = broker.NewAlpacaClient(broker.AlpacaConfig{
			BaseURL:   cfg.BrokerBaseURL,
			KeyID:     cfg.BrokerKeyID,
			SecretKey: cfg.BrokerSecretKey,
		})
	}

	reconcile(ctx, led, orderAPI, notifier)

	// ---- Trade journal ----
	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[tradebot] journal: %v", err)
	}
	defer journal.Close()

	// ---- Market state & evaluator ----
	windowCap := cfg.RVOLWindow + 1
	if windowCap < 20 {
		windowCap = 20
	}
	state := marketstate.New(windowCap)

	eval := signal.New(signal.Params{
		GreenCandles:    cfg.GreenCandles,
		RVOLMultiple:    cfg.RVOLMultiple,
		RVOLWindow:      cfg.RVOLWindow,
		RVOLMinSamples:  cfg.RVOLMinSamples,
		StopLossPct:     cfg.StopLossPct,
		TrailingStopPct: cfg.TrailingStopPct,
		Closeout:        markethours.DefaultCloseout,
	})

	coord := execution.NewCoordinator(execution.Config{
		RiskFraction:    cfg.RiskFraction,
		FallbackCapital: cfg.Capital,
		Exit: execution.ExitConfig{
			TakeProfit1Pct:  cfg.TakeProfit1Pct,
			TakeProfit2Pct:  cfg.TakeProfit2Pct,
			TrailingStopPct: cfg.TrailingStopPct,
			StopLossPct:     cfg.StopLossPct,
		},
	}, orderAPI, led, eval, notifier, journal, mt)

	// ---- Feed connections ----
	eventCh := make(chan model.Bar, cfg.EventBufSize)
	conns := make([]*feed.Conn, len(chunks))
	var feedWG sync.WaitGroup
	for i, chunk := range chunks {
		conns[i] = feed.NewConn(feed.Config{
			Name:         fmt.Sprintf("conn-%d", i),
			URL:          cfg.FeedURL,
			APIKey:       cfg.FeedAPIKey,
			Symbols:      chunk,
			SubBatchSize: cfg.FeedSubBatch,
			SubDelay:     cfg.FeedSubDelay,
			SubRetries:   cfg.FeedSubRetries,
			PingInterval: cfg.FeedPingInterval,
		}, notifier, mt)

		feedWG.Add(1)
		go func(c *feed.Conn) {
			defer feedWG.Done()
			if err := c.Run(ctx, eventCh); err != nil && ctx.Err() == nil {
				log.Printf("[tradebot] feed stopped: %v", err)
			}
		}(conns[i])
	}

	// ---- Health sampling and session-boundary VWAP reset ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		session := markethours.SessionDate(time.Now())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				streaming := 0
				for _, c := range conns {
					if c.State() == feed.StateStreaming {
						streaming++
					}
				}
				health.SetFeedsConnected(streaming)

				if today := markethours.SessionDate(time.Now()); today != session {
					session = today
					state.ResetSession()
					log.Printf("[tradebot] new session %s, VWAP accumulators reset", today)
				}
			}
		}
	}()

	// ---- Dispatcher: the per-symbol pipeline ----
	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.DispatchWorkers,
		QueueSize: 256,
	}, func(hctx context.Context, bar model.Bar) {
		state.Update(bar)
		health.SetLastEventTime(time.Now())
		mt.EventLag.Set(time.Since(bar.TS).Seconds())
		if paper != nil {
			paper.MarkPrice(bar.Symbol, bar.Close)
		}
		coord.HandleEvent(hctx, bar, state)
	})

	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx, eventCh)
		close(dispatchDone)
	}()

	log.Println("[tradebot] pipeline running")
	notification.SendAsync(notifier, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Trading bot started",
		Message: fmt.Sprintf("%d symbols, %d connections, broker=%s", len(symbols), len(chunks), cfg.Broker),
	})

	<-sigCh
	log.Println("[tradebot] shutdown signal received")

	// No new entries; in-flight exits may finish during the drain.
	coord.Halt()
	cancel()

	feedWG.Wait()
	<-dispatchDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()

	log.Println("[tradebot] stopped")
}

// reconcile compares the durable ledger against broker-side positions
// at startup and alerts on any mismatch. Mismatches are reported, not
// auto-corrected.
func reconcile(ctx context.Context, led *ledger.Ledger, orderAPI broker.OrderAPI, notifier notification.Notifier) {
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	brokerPositions, err := orderAPI.ListPositions(rctx)
	if err != nil {
		log.Printf("[tradebot] reconciliation skipped, broker positions unavailable: %v", err)
		return
	}

	atBroker := make(map[string]broker.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		atBroker[p.Symbol] = p
	}

	for _, sym := range led.List() {
		if _, ok := atBroker[sym]; !ok {
			log.Printf("[tradebot] reconciliation: %s in ledger but not at broker", sym)
			notification.SendAsync(notifier, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   fmt.Sprintf("Stale ledger position: %s", sym),
				Message: "position recorded locally but the broker reports no holding; review manually",
			})
		}
		delete(atBroker, sym)
	}
	for sym, p := range atBroker {
		log.Printf("[tradebot] reconciliation: %s held at broker (qty=%d) but not in ledger", sym, p.Qty)
		notification.SendAsync(notifier, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("Untracked broker position: %s", sym),
			Message: fmt.Sprintf("broker reports qty=%d avg=%.2f with no ledger record; review manually", p.Qty, p.AvgEntryPrice),
		})
	}
}
