package redisstore

import "strconv"

// Generic, hash, and set commands. Encoding follows pascaldekloe/redis's
// codec approach (precomputed header + raw argument bytes) but goes through
// the shared do() helper instead of a bespoke codec type per command, since
// marmot only needs a double-digit set of commands rather than the full
// Redis surface that library targets.

// Exists reports whether key exists.
func (c *Client) Exists(done <-chan struct{}, key string) (bool, error) {
	reply, err := c.do(done, 0, arg("EXISTS"), arg(key))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// Del deletes key, reporting whether it existed.
func (c *Client) Del(done <-chan struct{}, key string) (bool, error) {
	reply, err := c.do(done, 0, arg("DEL"), arg(key))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// HSet sets field in the hash at key, reporting whether field was new.
func (c *Client) HSet(done <-chan struct{}, key, field, value string) (bool, error) {
	reply, err := c.do(done, 0, arg("HSET"), arg(key), arg(field), arg(value))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// HGet returns field's value, or (nil, nil) if either the hash or the field
// is absent.
func (c *Client) HGet(done <-chan struct{}, key, field string) ([]byte, error) {
	reply, err := c.do(done, 0, arg("HGET"), arg(key), arg(field))
	if err != nil {
		return nil, err
	}
	return reply.Bulk()
}

// HDel removes field, reporting whether it existed.
func (c *Client) HDel(done <-chan struct{}, key, field string) (bool, error) {
	reply, err := c.do(done, 0, arg("HDEL"), arg(key), arg(field))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// HGetAll returns every field/value pair in the hash at key.
func (c *Client) HGetAll(done <-chan struct{}, key string) (map[string]string, error) {
	reply, err := c.do(done, 0, arg("HGETALL"), arg(key))
	if err != nil {
		return nil, err
	}
	items, err := reply.Array()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		k, err := items[i].Str()
		if err != nil {
			return nil, err
		}
		v, err := items[i+1].Str()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// HScan performs one cursor-based iteration step over the hash at key.
func (c *Client) HScan(done <-chan struct{}, key, cursor string, count int) (nextCursor string, fields map[string]string, err error) {
	reply, err := c.do(done, 0, arg("HSCAN"), arg(key), arg(cursor), arg("COUNT"), arg(strconv.Itoa(count)))
	if err != nil {
		return "", nil, err
	}
	top, err := reply.Array()
	if err != nil || len(top) != 2 {
		return "", nil, ErrProtocol
	}
	nextCursor, err = top[0].Str()
	if err != nil {
		return "", nil, err
	}
	pairs, err := top[1].Array()
	if err != nil {
		return "", nil, err
	}
	fields = make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].Str()
		v, _ := pairs[i+1].Str()
		fields[k] = v
	}
	return nextCursor, fields, nil
}

// SAdd adds member to the set at key, reporting whether it was new.
func (c *Client) SAdd(done <-chan struct{}, key, member string) (bool, error) {
	reply, err := c.do(done, 0, arg("SADD"), arg(key), arg(member))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// SRem removes member from the set at key, reporting whether it was
// present.
func (c *Client) SRem(done <-chan struct{}, key, member string) (bool, error) {
	reply, err := c.do(done, 0, arg("SREM"), arg(key), arg(member))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// SIsMember reports whether member is in the set at key.
func (c *Client) SIsMember(done <-chan struct{}, key, member string) (bool, error) {
	reply, err := c.do(done, 0, arg("SISMEMBER"), arg(key), arg(member))
	if err != nil {
		return false, err
	}
	n, err := reply.Int()
	return n != 0, err
}

// SMembers returns every member of the set at key.
func (c *Client) SMembers(done <-chan struct{}, key string) ([]string, error) {
	reply, err := c.do(done, 0, arg("SMEMBERS"), arg(key))
	if err != nil {
		return nil, err
	}
	items, err := reply.Array()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, err := item.Str()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// SScan performs one cursor-based iteration step over the set at key.
func (c *Client) SScan(done <-chan struct{}, key, cursor string, count int) (nextCursor string, members []string, err error) {
	reply, err := c.do(done, 0, arg("SSCAN"), arg(key), arg(cursor), arg("COUNT"), arg(strconv.Itoa(count)))
	if err != nil {
		return "", nil, err
	}
	top, err := reply.Array()
	if err != nil || len(top) != 2 {
		return "", nil, ErrProtocol
	}
	nextCursor, err = top[0].Str()
	if err != nil {
		return "", nil, err
	}
	items, err := top[1].Array()
	if err != nil {
		return "", nil, err
	}
	members = make([]string, len(items))
	for i, item := range items {
		s, _ := item.Str()
		members[i] = s
	}
	return nextCursor, members, nil
}
