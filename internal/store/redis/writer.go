package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"quotesync/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Daily values stay useful until the next sync, a weekend included.
	defaultLatestTTL = 96 * time.Hour

	candidatesKey     = "screen:candidates:latest"
	candidatesChannel = "pub:screen:candidates"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes the newest indicator values and screening results.
//
// Keys:
//
//	ind:latest:<TICKER>        hash, series name → IndicatorResult JSON
//	screen:candidates:latest   string, JSON array of the last screen
//
// Every write is also PUBLISHed on pub:ind:<TICKER> or pub:screen:candidates.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	w := newWriter(goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx).Err(); err != nil {
		w.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return w, nil
}

func newWriter(client *goredis.Client) *Writer {
	return &Writer{client: client, ttl: defaultLatestTTL}
}

func latestKey(ticker string) string     { return "ind:latest:" + ticker }
func latestChannel(ticker string) string { return "pub:ind:" + ticker }

// PublishLatest writes results in a single pipeline: one HSET per ticker,
// refreshed TTL, and a PUBLISH per result.
func (w *Writer) PublishLatest(ctx context.Context, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	touched := make(map[string]bool)
	for i := range results {
		r := &results[i]
		data := string(r.JSON())
		pipe.HSet(ctx, latestKey(r.Ticker), r.Name, data)
		pipe.Publish(ctx, latestChannel(r.Ticker), data)
		touched[r.Ticker] = true
	}
	for ticker := range touched {
		pipe.Expire(ctx, latestKey(ticker), w.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis latest pipeline (%d results): %w", len(results), err)
	}
	return nil
}

// PublishCandidates replaces the stored screen with candidates and announces it.
func (w *Writer) PublishCandidates(ctx context.Context, candidates []model.Candidate) error {
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	pipe := w.client.Pipeline()
	pipe.Set(ctx, candidatesKey, data, w.ttl)
	pipe.Publish(ctx, candidatesChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis candidates pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
