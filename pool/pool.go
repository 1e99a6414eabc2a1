package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ha1tch/mssqltds/tds"
)

// SlotState is the state of one pooled session, per spec.md §4.7.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotInUse
	SlotChecking
	SlotResetting
	SlotClosing
	SlotClosed
	SlotError
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotInUse:
		return "in_use"
	case SlotChecking:
		return "checking"
	case SlotResetting:
		return "resetting"
	case SlotClosing:
		return "closing"
	case SlotClosed:
		return "closed"
	case SlotError:
		return "error"
	default:
		return "unknown"
	}
}

type slot struct {
	session         *tds.Session
	state           SlotState
	createdAt       time.Time
	idleSince       time.Time
	lastHealthCheck time.Time
}

// Pool is a bounded, fairness-queued set of tds.Session connections to
// one SQL Server instance, implementing the checkout/checkin protocol
// and background maintenance of spec.md §4.7.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg       Config
	connector Connector
	log       *tds.Logger
	metrics   Metrics

	idle    []*slot
	active  map[*slot]struct{}
	total   int
	waiting int

	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New validates cfg, starts background warm-up and maintenance, and
// returns a ready pool. Connector is called (possibly concurrently) to
// create new sessions up to cfg.Max.
func New(cfg Config, connector Connector, log *tds.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		cfg:       cfg,
		connector: connector,
		log:       log,
		idle:      make([]*slot, 0, cfg.Max),
		active:    make(map[*slot]struct{}),
		cancel:    cancel,
		group:     group,
	}
	p.cond = sync.NewCond(&p.mu)

	group.Go(func() error { p.maintenanceLoop(gctx); return nil })
	group.Go(func() error { p.warmUp(gctx); return nil })

	return p, nil
}

// warmUp dials sessions up to cfg.Min in the background so the pool is
// ready for traffic without blocking New.
func (p *Pool) warmUp(ctx context.Context) {
	for i := 0; i < p.cfg.Min; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.Min {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		sess, err := p.dial()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.log.Pool().Warnf("warm-up connection %d/%d failed: %v", i+1, p.cfg.Min, err)
			continue
		}

		s := &slot{session: sess, state: SlotIdle, createdAt: time.Now(), idleSince: time.Now()}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			sess.Close()
			return
		}
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		p.cond.Signal()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *Pool) dial() (*tds.Session, error) {
	sess, err := p.connector()
	if err != nil {
		return nil, err
	}
	p.metrics.recordCreated()
	return sess, nil
}

// Checkout is a handle to a session on loan from the pool. Callers must
// call Release exactly once.
type Checkout struct {
	pool    *Pool
	slot    *slot
	Session *tds.Session
}

// AcquisitionTimeoutError is returned by Acquire when the fairness queue
// reaches its deadline without a free session: cfg.AcquisitionTimeout or
// the context's deadline, whichever is sooner. Waited always reports
// cfg.AcquisitionTimeout.
type AcquisitionTimeoutError struct{ Waited time.Duration }

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("pool: acquisition timed out after %s", e.Waited)
}

// Acquire implements the checkout protocol: reuse an idle, healthy
// session; else dial a new one under Max; else wait on the FIFO queue
// bounded by cfg.AcquisitionTimeout or ctx's deadline, whichever is
// sooner (spec.md §4.7).
func (p *Pool) Acquire(ctx context.Context) (*Checkout, error) {
	p.metrics.recordCheckoutAttempt()
	deadline := time.Now().Add(p.cfg.AcquisitionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed")
		}

		for len(p.idle) > 0 {
			s := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if p.cfg.MaxLifetime > 0 && time.Since(s.createdAt) > p.cfg.MaxLifetime {
				p.closeSlot(s)
				continue
			}

			s.state = SlotChecking
			if p.cfg.TestOnCheckout {
				p.mu.Unlock()
				err := s.session.Ping()
				p.metrics.recordHealthCheck(err == nil)
				p.mu.Lock()
				if err != nil {
					p.closeSlot(s)
					continue
				}
				s.lastHealthCheck = time.Now()
			}

			s.state = SlotInUse
			p.active[s] = struct{}{}
			p.mu.Unlock()
			p.metrics.recordCheckoutSuccess()
			return &Checkout{pool: p, slot: s, Session: s.session}, nil
		}

		if p.total < p.cfg.Max {
			p.total++
			p.mu.Unlock()

			sess, err := p.dial()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: dialing new session: %w", err)
			}

			s := &slot{session: sess, state: SlotInUse, createdAt: time.Now()}
			p.mu.Lock()
			p.active[s] = struct{}{}
			p.mu.Unlock()
			p.metrics.recordCheckoutSuccess()
			return &Checkout{pool: p, slot: s, Session: sess}, nil
		}

		p.waiting++
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, &AcquisitionTimeoutError{Waited: p.cfg.AcquisitionTimeout}
		}
		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed while waiting")
		}
		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, &AcquisitionTimeoutError{Waited: p.cfg.AcquisitionTimeout}
		}
		// loop retries with mu held
	}
}

// Release runs the checkin protocol: a poisoned or dead session is
// closed outright; otherwise, if cfg.ResetOnReturn and
// cfg.SpResetConnection are both set, the next request on
// the session is marked to carry sp_reset_connection, and the session
// returns to Idle (spec.md §4.7). Pass the error observed while using
// the session, if any, so a transport failure is treated as dead.
func (c *Checkout) Release(useErr error) {
	p := c.pool
	s := c.slot

	p.mu.Lock()
	delete(p.active, s)

	dead := useErr != nil || c.Session.State() == tds.StatePoisoned
	if dead {
		p.closeSlot(s)
		p.mu.Unlock()
		p.cond.Signal()
		go p.refillToMin()
		return
	}

	if p.cfg.ResetOnReturn && p.cfg.SpResetConnection {
		c.Session.RequestReset()
		p.metrics.recordReset(true)
	}
	if p.cfg.TestOnCheckin {
		p.mu.Unlock()
		err := c.Session.Ping()
		p.metrics.recordHealthCheck(err == nil)
		p.mu.Lock()
		if err != nil {
			p.closeSlot(s)
			p.mu.Unlock()
			p.cond.Signal()
			go p.refillToMin()
			return
		}
		s.lastHealthCheck = time.Now()
	}

	s.state = SlotIdle
	s.idleSince = time.Now()
	p.idle = append(p.idle, s)
	p.mu.Unlock()
	p.cond.Signal()
}

// closeSlot closes a slot's session and decrements total. Caller must
// hold p.mu.
func (p *Pool) closeSlot(s *slot) {
	s.state = SlotClosing
	s.session.Close()
	s.state = SlotClosed
	p.total--
	p.metrics.recordClosed()
}

func (p *Pool) refillToMin() {
	p.mu.Lock()
	need := p.cfg.Min - (p.total)
	p.mu.Unlock()
	for i := 0; i < need; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.Min {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		sess, err := p.dial()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.log.Pool().Warnf("refill connection failed: %v", err)
			return
		}
		s := &slot{session: sess, state: SlotIdle, createdAt: time.Now(), idleSince: time.Now()}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			sess.Close()
			return
		}
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		p.cond.Signal()
	}
}

// maintenanceLoop is the background sweep of spec.md §4.7: expire idle
// sessions past max_lifetime/idle_timeout, run due health checks, and
// backfill toward min.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep expires idle sessions past MaxLifetime/IdleTimeout and runs due
// health checks, then backfills toward Min. A slot picked for a health
// check is popped out of p.idle before p.mu is released for the
// out-of-lock Ping — mirroring Acquire's pop-then-check pattern (Acquire,
// above) — so a concurrent Acquire can never hand the same slot to a
// caller while sweep is still pinging it.
func (p *Pool) sweep() {
	p.mu.Lock()
	now := time.Now()
	kept := make([]*slot, 0, len(p.idle))
	var toCheck []*slot
	for _, s := range p.idle {
		expired := (p.cfg.MaxLifetime > 0 && now.Sub(s.createdAt) > p.cfg.MaxLifetime) ||
			(p.cfg.IdleTimeout > 0 && now.Sub(s.idleSince) > p.cfg.IdleTimeout)
		if expired && len(kept)+len(p.active) >= p.cfg.Min {
			p.closeSlot(s)
			continue
		}
		if p.cfg.HealthCheckInterval > 0 && now.Sub(s.lastHealthCheck) > p.cfg.HealthCheckInterval {
			s.state = SlotChecking
			toCheck = append(toCheck, s)
			continue
		}
		kept = append(kept, s)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, s := range toCheck {
		err := s.session.Ping()
		p.metrics.recordHealthCheck(err == nil)
		p.mu.Lock()
		s.lastHealthCheck = now
		if err != nil {
			p.closeSlot(s)
			p.mu.Unlock()
			continue
		}
		s.state = SlotIdle
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}

	p.refillToMin()
}

// Stats returns a metrics snapshot alongside current slot counts.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	inUse := len(p.active)
	total := p.total
	p.mu.Unlock()
	return p.metrics.snapshot(inUse, total)
}

// Close stops background maintenance and closes every session, idle or
// in use. Safe to call once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	active := make([]*slot, 0, len(p.active))
	for s := range p.active {
		active = append(active, s)
	}
	p.mu.Unlock()

	p.cancel()
	p.cond.Broadcast()

	for _, s := range idle {
		p.mu.Lock()
		p.closeSlot(s)
		p.mu.Unlock()
	}
	for _, s := range active {
		p.mu.Lock()
		p.closeSlot(s)
		delete(p.active, s)
		p.mu.Unlock()
	}

	return p.group.Wait()
}
