// Package dispatch fans decoded market events from all feed connections
// into per-symbol pipelines. Events for the same symbol are always
// handled by the same worker, in arrival order; different symbols run
// concurrently.
package dispatch

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"tradebotv1/internal/model"
)

// Handler processes one market event. The dispatcher guarantees it is
// never called concurrently for the same symbol.
type Handler func(ctx context.Context, bar model.Bar)

// Config holds dispatcher settings.
type Config struct {
	Workers      int           // worker goroutines; symbols hash onto these
	QueueSize    int           // per-worker inbox capacity
	DrainTimeout time.Duration // grace for in-flight work during shutdown
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// Dispatcher routes events to workers by symbol hash. A full worker
// inbox blocks the intake loop rather than dropping; dropping would
// break per-symbol ordering for every later event of that symbol.
type Dispatcher struct {
	cfg     Config
	handler Handler
	inboxes []chan model.Bar
}

// New creates a dispatcher over the given handler.
func New(cfg Config, handler Handler) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		handler: handler,
		inboxes: make([]chan model.Bar, cfg.Workers),
	}
	for i := range d.inboxes {
		d.inboxes[i] = make(chan model.Bar, cfg.QueueSize)
	}
	return d
}

func (d *Dispatcher) workerFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(d.cfg.Workers))
}

// Run consumes events from in until ctx is cancelled or in is closed,
// then drains the worker inboxes and returns. Queued work during the
// drain runs under a bounded grace context so exit submissions already
// in flight can finish.
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.Bar) {
	drainCtx, cancelDrain := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := range d.inboxes {
		wg.Add(1)
		go func(inbox <-chan model.Bar) {
			defer wg.Done()
			for bar := range inbox {
				d.handler(drainCtx, bar)
			}
		}(d.inboxes[i])
	}

intake:
	for {
		select {
		case <-ctx.Done():
			break intake
		case bar, ok := <-in:
			if !ok {
				break intake
			}
			select {
			case d.inboxes[d.workerFor(bar.Symbol)] <- bar:
			case <-ctx.Done():
				break intake
			}
		}
	}

	for i := range d.inboxes {
		close(d.inboxes[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.DrainTimeout):
		log.Printf("[dispatch] drain timed out after %s", d.cfg.DrainTimeout)
	}
	cancelDrain()
	<-done
}
