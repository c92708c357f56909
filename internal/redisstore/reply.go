package redisstore

import "fmt"

// replyType tags which RESP2 frame a Reply came from.
type replyType int

const (
	replySimple replyType = iota
	replyError
	replyInteger
	replyBulk
	replyArray
	replyNil
)

// Reply is a generic RESP2 value. The stream-store commands in commands.go
// convert Reply into typed Go values; Reply itself stays untyped so the
// low-level client (conn.go, client.go) doesn't need to know Redis's
// command-specific reply shapes.
type Reply struct {
	typ   replyType
	str   string
	num   int64
	bulk  []byte
	array []Reply
}

// IsNil reports whether the reply was RESP's null bulk string or null array.
func (r Reply) IsNil() bool { return r.typ == replyNil }

// Err returns the server error carried by an error reply, or nil.
func (r Reply) Err() error {
	if r.typ == replyError {
		return ServerError(r.str)
	}
	return nil
}

// Int returns an integer reply's value.
func (r Reply) Int() (int64, error) {
	if r.typ == replyError {
		return 0, ServerError(r.str)
	}
	if r.typ != replyInteger {
		return 0, fmt.Errorf("redisstore: reply is not an integer (%v)", r.typ)
	}
	return r.num, nil
}

// Bulk returns a bulk-string reply's bytes, or nil if the reply was null.
func (r Reply) Bulk() ([]byte, error) {
	if r.typ == replyError {
		return nil, ServerError(r.str)
	}
	if r.typ == replyNil {
		return nil, nil
	}
	if r.typ != replyBulk && r.typ != replySimple {
		return nil, fmt.Errorf("redisstore: reply is not a bulk string (%v)", r.typ)
	}
	if r.typ == replySimple {
		return []byte(r.str), nil
	}
	return r.bulk, nil
}

// Str is a convenience wrapper over Bulk for callers that want a string.
func (r Reply) Str() (string, error) {
	b, err := r.Bulk()
	return string(b), err
}

// Array returns an array reply's elements, or nil if the reply was a null
// array.
func (r Reply) Array() ([]Reply, error) {
	if r.typ == replyError {
		return nil, ServerError(r.str)
	}
	if r.typ == replyNil {
		return nil, nil
	}
	if r.typ != replyArray {
		return nil, fmt.Errorf("redisstore: reply is not an array (%v)", r.typ)
	}
	return r.array, nil
}
