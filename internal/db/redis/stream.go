package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/imgdex/internal/db"
)

// XAdd appends an entry with an auto-generated ID.
func (s *Store) XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("xadd %s: fields are required", stream)
	}
	args := []string{stream}
	if maxLen > 0 {
		args = append(args, "MAXLEN", "~", strconv.FormatInt(maxLen, 10))
	}
	args = append(args, "*")

	// Sorted field order keeps the command deterministic.
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		args = append(args, k, fields[k])
	}

	cmd := s.b().Arbitrary("XADD").Args(args...).Build()
	id, err := s.do(ctx, cmd).ToString()
	if err != nil {
		return "", &db.Error{Op: db.OpXAdd, Err: err}
	}
	return id, nil
}

// XRead reads entries after lastID. A timeout with no data returns an empty slice.
func (s *Store) XRead(
	ctx context.Context, stream, lastID string, count int64, block time.Duration,
) ([]db.StreamEntry, error) {
	if lastID == "" {
		lastID = "0"
	}
	args := []string{"COUNT", strconv.FormatInt(max(count, 1), 10)}
	blocking := block > 0
	if blocking {
		args = append(args, "BLOCK", strconv.FormatInt(block.Milliseconds(), 10))
	}
	args = append(args, "STREAMS", stream, lastID)

	var cmd rueidis.Completed
	if blocking {
		cmd = s.b().Arbitrary("XREAD").Args(args...).Blocking()
	} else {
		cmd = s.b().Arbitrary("XREAD").Args(args...).Build()
	}

	streams, err := s.do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, &db.Error{Op: db.OpXRead, Err: err}
	}

	raw := streams[stream]
	out := make([]db.StreamEntry, 0, len(raw))
	for _, e := range raw {
		out = append(out, db.StreamEntry{ID: e.ID, Fields: e.FieldValues})
	}
	return out, nil
}
