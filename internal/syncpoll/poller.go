package syncpoll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

const (
	DefaultMinInterval       = time.Second
	DefaultMaxInterval       = 10 * time.Second
	DefaultIdleThreshold     = 60 * time.Second
	DefaultVeryIdleThreshold = 300 * time.Second
	DefaultActiveWindow      = 5 * time.Second
)

type Fetcher func(ctx context.Context) (*model.Document, error)

var errNoDocument = errors.New("fetch returned no document")

type Options struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	IdleThreshold     time.Duration
	VeryIdleThreshold time.Duration
	ActiveWindow      time.Duration
	// OnError receives failed fetches. The poller keeps its schedule either way.
	OnError func(err error)
	Now     func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.MaxInterval < o.MinInterval {
		o.MaxInterval = o.MinInterval
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	if o.VeryIdleThreshold <= 0 {
		o.VeryIdleThreshold = DefaultVeryIdleThreshold
	}
	if o.ActiveWindow <= 0 {
		o.ActiveWindow = DefaultActiveWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Poller keeps a client copy of the head fresh. It polls fast while the user
// is active and backs off as they go idle.
type Poller struct {
	fetch    Fetcher
	onUpdate func(doc *model.Document)
	opts     Options

	mu           sync.Mutex
	lastActivity time.Time
	lastFetch    time.Time
	lastVersion  int
	paused       bool
	fetchNow     bool
	generation   uint64
	wake         chan struct{}
}

func New(fetch Fetcher, onUpdate func(doc *model.Document), opts Options) *Poller {
	opts.applyDefaults()
	return &Poller{
		fetch:        fetch,
		onUpdate:     onUpdate,
		opts:         opts,
		lastActivity: opts.Now(),
		wake:         make(chan struct{}, 1),
	}
}

// Interval returns the polling interval for the current idle time.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intervalLocked(p.opts.Now())
}

func (p *Poller) intervalLocked(now time.Time) time.Duration {
	idle := now.Sub(p.lastActivity)
	lo, hi := p.opts.MinInterval, p.opts.MaxInterval
	switch {
	case idle < p.opts.ActiveWindow:
		return lo
	case idle < p.opts.IdleThreshold:
		return min(2*lo, hi)
	case idle < p.opts.VeryIdleThreshold:
		return min(5*lo, hi)
	default:
		return hi
	}
}

// RecordActivity marks user activity. When that shortens the interval and the
// last fetch is already older than the new interval the poller fetches at once.
func (p *Poller) RecordActivity() {
	p.mu.Lock()
	now := p.opts.Now()
	before := p.intervalLocked(now)
	p.lastActivity = now
	after := p.intervalLocked(now)
	if after < before && now.Sub(p.lastFetch) >= after {
		p.fetchNow = true
	}
	p.mu.Unlock()
	p.signal()
}

// ForceRefresh records activity and fetches immediately.
func (p *Poller) ForceRefresh() {
	p.mu.Lock()
	p.lastActivity = p.opts.Now()
	p.fetchNow = true
	p.mu.Unlock()
	p.signal()
}

// Pause stops polling. Fetches already in flight are discarded.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.generation++
}

// Resume restarts polling with an immediate fetch.
func (p *Poller) Resume() {
	p.mu.Lock()
	p.paused = false
	p.fetchNow = true
	p.mu.Unlock()
	p.signal()
}

func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// LastVersion is the version last handed to OnUpdate, 0 before the first one.
func (p *Poller) LastVersion() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVersion
}

func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		wait, paused := p.nextWait()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if !paused {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			continue
		case <-timer.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) nextWait() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return 0, true
	}
	if p.fetchNow || p.lastFetch.IsZero() {
		return 0, false
	}
	now := p.opts.Now()
	wait := p.lastFetch.Add(p.intervalLocked(now)).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	p.fetchNow = false
	p.lastFetch = p.opts.Now()
	p.mu.Unlock()

	doc, err := p.fetch(ctx)
	if err == nil && doc == nil {
		err = errNoDocument
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PollFetches.WithLabelValues("error").Inc()
		logutil.GetLogger(ctx).Warn("poll document failed", zap.Error(err))
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		return
	}

	p.mu.Lock()
	if p.paused || gen != p.generation {
		p.mu.Unlock()
		metrics.PollFetches.WithLabelValues("discarded").Inc()
		return
	}
	changed := doc.Version != p.lastVersion
	if changed {
		p.lastVersion = doc.Version
	}
	p.mu.Unlock()

	if !changed {
		metrics.PollFetches.WithLabelValues("unchanged").Inc()
		return
	}
	metrics.PollFetches.WithLabelValues("changed").Inc()
	if p.onUpdate != nil {
		p.onUpdate(doc)
	}
}

// Conflict extracts the details of a rejected write so a caller can show who
// won. The poller never resolves conflicts itself.
func Conflict(err error) (*appErr.ConflictError, bool) {
	return appErr.AsConflict(err)
}
