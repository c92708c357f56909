package redisstore

import (
	"sync"
	"time"
)

// Pool is a small fixed-size set of RESP2 connections to the stream store,
// shared across every HTTP handler and the trim loop the way the teacher's
// ConnectionPool/connectionsSem is shared across every websocket handler.
// Size is clamped by config.Env.Validate into [10, 32768] per spec §5.
type Pool struct {
	cfg   dialConfig
	sem   chan *conn // acts as both the free list and the admission semaphore
	mu    sync.Mutex
	size  int
	closed bool
}

// NewPool creates a pool that lazily dials up to size connections on first
// use (rather than failing startup if Redis isn't reachable yet — the
// teacher's ConnectionPool is similarly demand-driven).
func NewPool(addr string, size int, dialTimeout, commandTimeout time.Duration) *Pool {
	p := &Pool{
		cfg: dialConfig{
			addr:           addr,
			dialTimeout:    dialTimeout,
			commandTimeout: commandTimeout,
		},
		sem:  make(chan *conn, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		p.sem <- nil // nil placeholder: dialed lazily in Get
	}
	return p
}

// Get checks out a connection, dialing one if this slot hasn't been used
// yet or its connection died. Blocks until a slot is free or done fires.
func (p *Pool) Get(done <-chan struct{}) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case c := <-p.sem:
		if c != nil {
			return c, nil
		}
		nc, err := dial(p.cfg)
		if err != nil {
			p.Put(nil) // keep the slot so a later Get can redial
			return nil, err
		}
		return nc, nil
	case <-done:
		return nil, ErrPoolClosed
	}
}

// Put returns a connection to the pool. Pass nil after a failed command so
// the slot redials next time instead of reusing a broken socket.
func (p *Pool) Put(c *conn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		if c != nil {
			c.Close()
		}
		return
	}
	p.sem <- c
}

// Close closes every outstanding connection slot. Safe to call once,
// typically from the server's shutdown path after the trim loop and all
// listener goroutines have stopped touching the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		c := <-p.sem
		if c != nil {
			c.Close()
		}
	}
	return nil
}
