package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"quotesync/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads back what Writer published.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps the client of an existing Writer.
func NewReader(w *Writer) *Reader {
	return &Reader{client: w.client}
}

// Latest returns the cached latest values for ticker, sorted by series name.
// A ticker that was never published yields an empty slice.
func (r *Reader) Latest(ctx context.Context, ticker string) ([]model.IndicatorResult, error) {
	fields, err := r.client.HGetAll(ctx, latestKey(ticker)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", latestKey(ticker), err)
	}

	out := make([]model.IndicatorResult, 0, len(fields))
	for name, data := range fields {
		var res model.IndicatorResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("redis decode %s/%s: %w", ticker, name, err)
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Candidates returns the last published screen, or nil if none is cached.
func (r *Reader) Candidates(ctx context.Context) ([]model.Candidate, error) {
	data, err := r.client.Get(ctx, candidatesKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", candidatesKey, err)
	}

	var out []model.Candidate
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("redis decode candidates: %w", err)
	}
	return out, nil
}
