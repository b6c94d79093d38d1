// Package poller periodically refreshes gateway list methods into the
// local store.
package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opsdeck/opsdeck-go/pkg/store"
)

// Default timing configuration.
const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// DefaultMethods are the list methods polled when none are configured.
var DefaultMethods = []string{"sessions.list", "agents.list"}

// Requester is the subset of the gateway connection the poller needs.
type Requester interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Connected() bool
}

// Config configures a poller.
type Config struct {
	// Interval is the time between poll cycles.
	Interval time.Duration

	// Timeout bounds one whole cycle.
	Timeout time.Duration

	// Methods are the gateway list methods to poll.
	Methods []string
}

// Poller refreshes a set of list methods into a store table on a ticker.
// Cycles while disconnected are skipped; a failed method does not abort
// the rest of the cycle.
type Poller struct {
	config    Config
	requester Requester
	table     *store.Table
	logger    *slog.Logger
}

// New creates a poller writing into table. logger may be nil.
func New(config Config, requester Requester, table *store.Table, logger *slog.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if len(config.Methods) == 0 {
		config.Methods = DefaultMethods
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		config:    config,
		requester: requester,
		table:     table,
		logger:    logger,
	}
}

// Run polls until the context is cancelled. The first cycle runs
// immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one cycle.
func (p *Poller) poll(ctx context.Context) {
	if !p.requester.Connected() {
		p.logger.Debug("skipping poll cycle, not connected")
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	for _, method := range p.config.Methods {
		payload, err := p.requester.Request(cycleCtx, method, nil)
		if err != nil {
			p.logger.Warn("poll failed", "method", method, "error", err)
			continue
		}
		p.table.Set(method, payload)
	}
}
