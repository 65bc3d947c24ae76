// Package analytics records user queries off the request path and
// aggregates them for the admin dashboard.
package analytics

import (
	"context"
	"sync"
	"time"

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

// Store persists audit records. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveQuery(ctx context.Context, rec models.AuditRecord) error
}

// Searcher finds logged queries similar to query and buckets them by hour.
type Searcher interface {
	SearchQueries(ctx context.Context, query string, limit int, radius float64) (*models.QueryFrequency, error)
}

const DefaultTimeout = 15 * time.Second

// Sink writes audit records in detached goroutines. Failures, including
// panics in the store, are logged and never reach the caller.
type Sink struct {
	store   Store
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

type Option func(*Sink)

func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

func NewSink(store Store, options ...Option) *Sink {
	s := &Sink{
		store:   store,
		timeout: DefaultTimeout,
		now:     time.Now,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Record schedules query for storage and returns immediately. The write
// outlives ctx cancellation but keeps its values for tracing.
func (s *Sink) Record(ctx context.Context, query string) {
	rec := models.NewAuditRecord(query, s.now())
	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		logger := logging.Component("analytics").WithField("record_id", rec.ID)

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("analytics write panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()

		if err := s.store.SaveQuery(ctx, rec); err != nil {
			logger.WithError(err).Warn("failed to store query for analytics")
			return
		}
		logger.Debug("query stored for analytics")
	}()
}

// Wait blocks until in-flight writes finish or ctx is done.
func (s *Sink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
