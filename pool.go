package go5250

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ecmumford/go5250/internal/logging"
)

// A poolKey identifies one pooling target. Sessions are only reused
// for the exact same endpoint and transport.
type poolKey struct {
	host string
	port int
	tls  bool
}

// PoolStats are cumulative counters for one pool.
type PoolStats struct {
	Created   int
	Reused    int
	Discarded int
}

// A Pool is a bounded store of pre-negotiated sessions keyed by
// (host, port, encrypted). Checkout hands out a healthy connected
// session, creating one when no idle session exists; the per-key
// maximum is a hard cap, with excess callers blocking until a slot
// frees or the checkout timeout expires.
type Pool struct {
	max             int
	checkoutTimeout time.Duration
	logger          *zap.Logger

	// connect is swapped in tests to avoid real dialing.
	connect func(ctx context.Context, cfg Config) (*Session, error)

	mu      sync.Mutex
	entries map[poolKey]*poolEntry
	stats   PoolStats
}

type poolEntry struct {
	// slots holds one token per permitted session; acquiring a token
	// admits the caller, so the cap can never be exceeded.
	slots chan struct{}
	idle  chan *Session
}

// NewPool builds a pool allowing up to max sessions per target.
// checkoutTimeout bounds how long a Checkout blocks for a slot.
func NewPool(max int, checkoutTimeout time.Duration) *Pool {
	return &Pool{
		max:             max,
		checkoutTimeout: checkoutTimeout,
		logger:          logging.GetLogger().Named("pool"),
		connect:         connectSession,
		entries:         make(map[poolKey]*poolEntry),
	}
}

func connectSession(ctx context.Context, cfg Config) (*Session, error) {
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func (p *Pool) entry(key poolKey) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.entries[key]
	if !exists {
		entry = &poolEntry{
			slots: make(chan struct{}, p.max),
			idle:  make(chan *Session, p.max),
		}
		for i := 0; i < p.max; i++ {
			entry.slots <- struct{}{}
		}
		p.entries[key] = entry
	}

	return entry
}

func keyFor(cfg Config) poolKey {
	return poolKey{host: cfg.Host, port: cfg.Port, tls: cfg.TLS.Enabled}
}

// Stats returns the pool's cumulative counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Checkout returns a connected session for the configured target,
// reusing an idle one when its connection is still live. It blocks up
// to the checkout timeout for a free slot and fails with
// ErrPoolExhausted when the cap stays saturated.
func (p *Pool) Checkout(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entry := p.entry(keyFor(cfg))

	select {
	case <-entry.slots:
	case <-time.After(p.checkoutTimeout):
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Drain idle sessions until a live one turns up.
	for {
		select {
		case session := <-entry.idle:
			if session.probe() == nil {
				p.count(func(s *PoolStats) { s.Reused++ })
				return session, nil
			}
			p.discard(session)
		default:
			session, err := p.connect(ctx, cfg)
			if err != nil {
				entry.slots <- struct{}{}
				return nil, err
			}
			p.count(func(s *PoolStats) { s.Created++ })
			return session, nil
		}
	}
}

// Checkin returns a session after use. Only sessions that pass the
// liveness probe, a telnet no-op written to the transport, go back on
// the idle list; anything else is closed and discarded, never
// recycled. The slot frees either way.
func (p *Pool) Checkin(session *Session) {
	entry := p.entry(keyFor(session.cfg))

	if session.probe() == nil {
		select {
		case entry.idle <- session:
		default:
			// Idle list full; should not happen while the cap holds,
			// but close rather than leak.
			p.discard(session)
		}
	} else {
		p.discard(session)
	}

	select {
	case entry.slots <- struct{}{}:
	default:
		p.logger.Warn("checkin without matching checkout",
			zap.String("host", session.cfg.Host),
		)
	}
}

// Close disconnects every idle session. In-use sessions are the
// caller's to finish; they are refused reuse on checkin once their
// state is no longer connected.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		for drained := false; !drained; {
			select {
			case session := <-entry.idle:
				p.discard(session)
			default:
				drained = true
			}
		}
	}
}

func (p *Pool) discard(session *Session) {
	session.Disconnect()
	p.count(func(s *PoolStats) { s.Discarded++ })
}

func (p *Pool) count(update func(*PoolStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.stats)
}
