// Package planner drives a chat session from the host side: it calls Tick at a
// fixed rate and polls the viewer count from a separate worker so the blocking
// Helix round trip never delays a tick.
package planner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pmrt/chatbridge/metrics"
	"github.com/pmrt/chatbridge/session"
	l "github.com/rs/zerolog/log"
)

// Bridge is the part of a session the planner drives.
type Bridge interface {
	Tick(elapsed time.Duration)
	GetViewerCount(ctx context.Context) int
	Credentials() session.Credentials
}

type PlannerOpts struct {
	// TickInterval is the rate at which Tick is called.
	TickInterval time.Duration
	// ViewerPollInterval is the rate at which the viewer count is polled. 0
	// disables the poll.
	ViewerPollInterval time.Duration
	// SkipAlign starts polling right away instead of waiting for the aligned
	// offset of the user.
	SkipAlign bool

	// APIPort is the port the status API listens on. Empty disables it.
	APIPort string
	Server  *fiber.App

	// OnViewerCount is called with every polled viewer count.
	OnViewerCount func(n int)
}

type Planner struct {
	opts *PlannerOpts
	br   Bridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// set while a viewer poll is in flight
	polling atomic.Bool
	viewers atomic.Int64
}

// Run blocks driving the bridge until `ctx` is cancelled or Stop is called.
// Tick is only ever called from the goroutine running Run.
func (p *Planner) Run(ctx context.Context) error {
	defer p.cancel()
	go func() {
		select {
		case <-ctx.Done():
			p.cancel()
		case <-p.ctx.Done():
		}
	}()

	l := l.With().
		Str("context", "planner").
		Logger()

	l.Info().Msg("initializing planner")

	if p.opts.Server != nil && p.opts.APIPort != "" {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			l.Debug().Msg("-> starting status server")
			p.opts.Server.Hooks().OnListen(func() error {
				l.Debug().Msgf("-> -> status server listening on %s", p.opts.APIPort)
				return nil
			})
			if err := p.opts.Server.Listen(":" + p.opts.APIPort); err != nil {
				l.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	if p.opts.ViewerPollInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.pollViewers()
		}()
	}

	p.loop()

	l.Info().Msg("stopping planner")
	if p.opts.Server != nil && p.opts.APIPort != "" {
		if err := p.opts.Server.Shutdown(); err != nil {
			l.Error().Err(err).Msg("status server shutdown failed")
		}
	}
	p.wg.Wait()
	return nil
}

// loop calls Tick with the real time elapsed since the previous call, so late
// ticks are accounted for in the keepalive.
func (p *Planner) loop() {
	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			p.br.Tick(now.Sub(last))
			last = now
		}
	}
}

// pollViewers runs the viewer worker once per ViewerPollInterval.
//
// The first poll is aligned to an offset within the interval derived from the
// user id, so several bridges started together spread their requests across
// the interval instead of hitting Helix at the same moment. The same user
// always gets the same offset.
func (p *Planner) pollViewers() {
	if !p.opts.SkipAlign {
		offset := alignOffset(p.br.Credentials().UserID, p.opts.ViewerPollInterval)
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(offset):
		}
	}

	// start ticker before running the worker so it doesn't get delayed by it
	ticker := time.NewTicker(p.opts.ViewerPollInterval)
	defer ticker.Stop()
	p.goPoll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.goPoll()
		}
	}
}

func (p *Planner) goPoll() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollOnce()
	}()
}

// pollOnce fetches the viewer count unless a previous poll is still in flight.
func (p *Planner) pollOnce() {
	if !p.polling.CompareAndSwap(false, true) {
		l.Debug().
			Str("context", "planner").
			Msg("viewer poll still in flight, skipping")
		return
	}
	defer p.polling.Store(false)

	n := p.br.GetViewerCount(p.ctx)
	p.viewers.Store(int64(n))
	metrics.ViewerCount.Set(float64(n))
	if p.opts.OnViewerCount != nil {
		p.opts.OnViewerCount(n)
	}
}

// Viewers returns the last polled viewer count.
func (p *Planner) Viewers() int {
	return int(p.viewers.Load())
}

// Stop makes Run return. A stopped planner can't be run again.
func (p *Planner) Stop() {
	p.cancel()
}

func New(br Bridge, opts *PlannerOpts) *Planner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 16 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Planner{
		opts:   opts,
		br:     br,
		ctx:    ctx,
		cancel: cancel,
	}
}
