package redisstore

import (
	"errors"
	"fmt"
)

// ErrConnLost signals the connection dropped mid-command; the caller's
// command outcome is unknown and should be retried at a higher level if
// retryable at all (the backend never retries, per spec §7).
var ErrConnLost = errors.New("redisstore: connection lost")

// ErrPoolClosed is returned by Pool.Get after Close.
var ErrPoolClosed = errors.New("redisstore: pool closed")

// ErrProtocol signals a RESP frame marmot's parser didn't understand.
var ErrProtocol = errors.New("redisstore: protocol violation")

// ServerError is a message the Redis-compatible server sent back as a RESP
// error reply (e.g. "WRONGTYPE ...").
type ServerError string

func (e ServerError) Error() string {
	return fmt.Sprintf("redisstore: server error: %s", string(e))
}
