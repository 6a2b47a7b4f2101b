package redis

import (
	"context"
	"log"
	"sync"

	"quotesync/internal/model"
)

// pendingWrite is a publish held while the breaker was open.
type pendingWrite struct {
	kind       publishKind
	latest     []model.IndicatorResult
	candidates []model.Candidate
}

// BufferedWriter guards a publisher with a Breaker. Publishes refused by the
// breaker are held (oldest dropped beyond the buffer size) and replayed in
// order once a trial publish succeeds. It satisfies model.LatestPublisher.
type BufferedWriter struct {
	pub     model.LatestPublisher
	breaker *Breaker
	ctx     context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int
}

// NewBufferedWriter wraps pub. ctx bounds replays started by the breaker
// closing. maxBufferSize <= 0 means 1000.
func NewBufferedWriter(ctx context.Context, pub model.LatestPublisher, b *Breaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bw := &BufferedWriter{
		pub:     pub,
		breaker: b,
		ctx:     ctx,
		buffer:  make([]pendingWrite, 0, 64),
		maxBuf:  maxBufferSize,
	}
	b.mu.Lock()
	b.onClose = bw.flush
	b.mu.Unlock()
	return bw
}

// PublishLatest publishes one ticker's latest values. While the breaker is
// open the values are held and nil is returned.
func (bw *BufferedWriter) PublishLatest(ctx context.Context, results []model.IndicatorResult) error {
	return bw.publish(pendingWrite{kind: kindLatest, latest: results}, func() error {
		return bw.pub.PublishLatest(ctx, results)
	})
}

// PublishCandidates publishes a screen, held like PublishLatest.
func (bw *BufferedWriter) PublishCandidates(ctx context.Context, candidates []model.Candidate) error {
	return bw.publish(pendingWrite{kind: kindCandidates, candidates: candidates}, func() error {
		return bw.pub.PublishCandidates(ctx, candidates)
	})
}

func (bw *BufferedWriter) publish(pw pendingWrite, fn func() error) error {
	if !bw.breaker.allow() {
		bw.hold(pw)
		return nil
	}
	err := fn()
	bw.breaker.record(pw.kind, err)
	return err
}

func (bw *BufferedWriter) hold(pw pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if pw.kind == kindCandidates {
		// Only the newest screen matters.
		kept := bw.buffer[:0]
		for _, b := range bw.buffer {
			if b.kind != kindCandidates {
				kept = append(kept, b)
			}
		}
		bw.buffer = kept
	}
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		if p := bw.breaker.prom; p != nil {
			p.RedisBufferDropped.Inc()
		}
	}
	bw.buffer = append(bw.buffer, pw)

	if p := bw.breaker.prom; p != nil {
		p.RedisBufferedWrites.WithLabelValues(string(pw.kind)).Inc()
	}
}

// flush replays held publishes. Each goes through the breaker again, so a
// relapse stops the replay and re-holds the rest.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 64)
	bw.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	flushed := 0
	for i, pw := range toFlush {
		if !bw.breaker.allow() {
			for _, rest := range toFlush[i:] {
				bw.hold(rest)
			}
			break
		}
		var err error
		if pw.kind == kindCandidates {
			err = bw.pub.PublishCandidates(bw.ctx, pw.candidates)
		} else {
			err = bw.pub.PublishLatest(bw.ctx, pw.latest)
		}
		bw.breaker.record(pw.kind, err)
		if err != nil {
			log.Printf("[redis] replay %s: %v", pw.kind, err)
			continue
		}
		flushed++
	}
	log.Printf("[redis] replayed %d/%d held publishes", flushed, len(toFlush))
}

// PendingCount returns the number of held publishes.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close replays what it can and closes the publisher.
func (bw *BufferedWriter) Close() error {
	if bw.breaker.State() == StateClosed {
		bw.flush()
	} else if n := bw.PendingCount(); n > 0 {
		log.Printf("[redis] dropping %d held publishes, circuit %s", n, bw.breaker.State())
	}
	return bw.pub.Close()
}
