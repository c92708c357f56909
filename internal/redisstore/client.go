package redisstore

import (
	"time"
)

// Client is the stream-store handle marmot's backend talks to. It owns a
// Pool and turns checkout/command/checkin into single calls, dropping a
// connection whose command failed at the I/O level and retrying once on the
// next connection the pool hands out (a pooled one, or a new dial if that
// slot is empty) — the "drop and redial" policy pascaldekloe/redis's client uses,
// simplified here to synchronous checkout instead of an async request
// queue, since marmot's call sites are already one-goroutine-per-caller.
type Client struct {
	pool *Pool
}

// New creates a Client backed by a freshly constructed Pool.
func New(addr string, maxConnections int, dialTimeout, commandTimeout time.Duration) *Client {
	return &Client{pool: NewPool(addr, maxConnections, dialTimeout, commandTimeout)}
}

// Close closes the underlying pool.
func (c *Client) Close() error {
	return c.pool.Close()
}

// do runs one command with an optional deadline override. When the command
// fails at the I/O level, the connection is closed, its slot is returned
// empty, and the command is retried once on the next connection Get returns.
func (c *Client) do(done <-chan struct{}, deadline time.Duration, args ...[]byte) (Reply, error) {
	conn, err := c.pool.Get(done)
	if err != nil {
		return Reply{}, err
	}

	reply, err := conn.do(deadline, args...)
	if err == nil {
		c.pool.Put(conn)
		return reply, nil
	}

	// The connection is suspect; drop it and retry once against a new one.
	conn.Close()
	c.pool.Put(nil)

	conn2, err2 := c.pool.Get(done)
	if err2 != nil {
		return Reply{}, err
	}
	reply, err = conn2.do(deadline, args...)
	if err != nil {
		conn2.Close()
		c.pool.Put(nil)
		return Reply{}, err
	}
	c.pool.Put(conn2)
	return reply, nil
}

func arg(s string) []byte { return []byte(s) }

func args(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}
