package redisstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StreamID is a Redis stream entry id: <milliseconds>-<sequence>. Ids are
// totally ordered within a stream, which is what lets marmot use them as
// the monotonic cursor spec §3 requires.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// ZeroStreamID sorts before every real id XADD ever assigns.
var ZeroStreamID = StreamID{}

// ParseStreamID parses the "<ms>-<seq>" form Redis returns.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return StreamID{}, fmt.Errorf("redisstore: malformed stream id %q", s)
	}
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("redisstore: malformed stream id %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("redisstore: malformed stream id %q: %w", s, err)
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// String renders the id back into Redis's "<ms>-<seq>" form.
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Less reports whether id sorts strictly before other.
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// StreamEntry is one (id, fields) pair read back from a stream.
type StreamEntry struct {
	ID     StreamID
	Fields map[string]string
}

// XAdd appends an entry with the given fields, auto-assigning the id, and
// returns the assigned id.
func (c *Client) XAdd(done <-chan struct{}, key string, fields map[string]string) (StreamID, error) {
	cmd := append([][]byte{arg("XADD"), arg(key), arg("*")}, flattenFields(fields)...)
	reply, err := c.do(done, 0, cmd...)
	if err != nil {
		return StreamID{}, err
	}
	s, err := reply.Str()
	if err != nil {
		return StreamID{}, err
	}
	return ParseStreamID(s)
}

// XLen returns the number of entries in the stream at key.
func (c *Client) XLen(done <-chan struct{}, key string) (int64, error) {
	reply, err := c.do(done, 0, arg("XLEN"), arg(key))
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// XDel removes the given entry ids from the stream at key.
func (c *Client) XDel(done <-chan struct{}, key string, ids ...StreamID) (int64, error) {
	cmd := []string{"XDEL", key}
	for _, id := range ids {
		cmd = append(cmd, id.String())
	}
	reply, err := c.do(done, 0, args(cmd...)...)
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// XTrimMinID trims the stream at key to keep only entries with id >= minID,
// returning the number of entries removed.
func (c *Client) XTrimMinID(done <-chan struct{}, key string, minID StreamID) (int64, error) {
	reply, err := c.do(done, 0, arg("XTRIM"), arg(key), arg("MINID"), arg(minID.String()))
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// XTrimMaxLen trims the stream at key down to at most maxLen entries
// (newest kept), used when a channel has no listeners and the stream is
// truncated to its single newest entry.
func (c *Client) XTrimMaxLen(done <-chan struct{}, key string, maxLen int64) (int64, error) {
	reply, err := c.do(done, 0, arg("XTRIM"), arg(key), arg("MAXLEN"), arg(strconv.FormatInt(maxLen, 10)))
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// XRevRangeLast returns the single most recent entry in the stream at key,
// or ok=false if the stream is empty or absent. Used to find "the current
// last generated id" without tracking it separately.
func (c *Client) XRevRangeLast(done <-chan struct{}, key string) (entry StreamEntry, ok bool, err error) {
	reply, err := c.do(done, 0, arg("XREVRANGE"), arg(key), arg("+"), arg("-"), arg("COUNT"), arg("1"))
	if err != nil {
		return StreamEntry{}, false, err
	}
	entries, err := parseStreamEntries(reply)
	if err != nil {
		return StreamEntry{}, false, err
	}
	if len(entries) == 0 {
		return StreamEntry{}, false, nil
	}
	return entries[0], true, nil
}

// XRange returns entries with id in [start, end] (Redis range syntax, so
// "-" and "+" mean the lowest/highest possible id), oldest first.
func (c *Client) XRange(done <-chan struct{}, key, start, end string, count int) ([]StreamEntry, error) {
	cmdArgs := []string{"XRANGE", key, start, end}
	if count > 0 {
		cmdArgs = append(cmdArgs, "COUNT", strconv.Itoa(count))
	}
	reply, err := c.do(done, 0, args(cmdArgs...)...)
	if err != nil {
		return nil, err
	}
	return parseStreamEntries(reply)
}

// XReadRequest is one (key, afterID) pair in a blocking multi-stream read.
type XReadRequest struct {
	Key     string
	AfterID StreamID
}

// XRead performs a blocking multi-stream read: entries strictly greater
// than each request's AfterID, across every requested stream, blocking up
// to block before returning empty. Returns a map keyed by stream name.
func (c *Client) XRead(done <-chan struct{}, block time.Duration, reqs []XReadRequest) (map[string][]StreamEntry, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	cmdArgs := []string{"XREAD", "BLOCK", strconv.FormatInt(block.Milliseconds(), 10), "STREAMS"}
	for _, r := range reqs {
		cmdArgs = append(cmdArgs, r.Key)
	}
	for _, r := range reqs {
		cmdArgs = append(cmdArgs, r.AfterID.String())
	}

	// Blocking reads must wait longer than the client's ordinary command
	// deadline; give the round trip block plus a fixed grace window.
	reply, err := c.do(done, block+2*time.Second, args(cmdArgs...)...)
	if err != nil {
		return nil, err
	}
	if reply.IsNil() {
		return map[string][]StreamEntry{}, nil
	}

	top, err := reply.Array()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]StreamEntry, len(top))
	for _, streamReply := range top {
		pair, err := streamReply.Array()
		if err != nil || len(pair) != 2 {
			return nil, ErrProtocol
		}
		name, err := pair[0].Str()
		if err != nil {
			return nil, err
		}
		entries, err := parseStreamEntries(pair[1])
		if err != nil {
			return nil, err
		}
		out[name] = entries
	}
	return out, nil
}

func flattenFields(fields map[string]string) [][]byte {
	out := make([][]byte, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, arg(k), arg(v))
	}
	return out
}

// parseStreamEntries decodes a RESP array of [id, [field, value, ...]]
// pairs, the shape XRANGE/XREVRANGE/XREAD all share for a single stream's
// entries.
func parseStreamEntries(reply Reply) ([]StreamEntry, error) {
	items, err := reply.Array()
	if err != nil {
		return nil, err
	}
	entries := make([]StreamEntry, 0, len(items))
	for _, item := range items {
		pair, err := item.Array()
		if err != nil || len(pair) != 2 {
			return nil, ErrProtocol
		}
		idStr, err := pair[0].Str()
		if err != nil {
			return nil, err
		}
		id, err := ParseStreamID(idStr)
		if err != nil {
			return nil, err
		}
		fieldItems, err := pair[1].Array()
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(fieldItems)/2)
		for i := 0; i+1 < len(fieldItems); i += 2 {
			k, _ := fieldItems[i].Str()
			v, _ := fieldItems[i+1].Str()
			fields[k] = v
		}
		entries = append(entries, StreamEntry{ID: id, Fields: fields})
	}
	return entries, nil
}
