// Package faq loads, caches and translates the FAQ list shown by the chat
// widget.
package faq

import (
	"context"
	"sync/atomic"
	"time"

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

const DefaultTTL = 300 * time.Second

// Source fetches the current FAQ list from the tenant store, already
// remapped to {heading, subheading}.
type Source interface {
	Fetch(ctx context.Context) ([]models.FAQ, error)
}

type entry struct {
	faqs []models.FAQ
	at   time.Time
}

// Cache serves FAQs from memory until the TTL expires. Concurrent refreshes
// are allowed; the last one to finish wins.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	current atomic.Pointer[entry]
}

type CacheOption func(*Cache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(source Source, ttl time.Duration, options ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// Get returns the cached list while it is younger than the TTL, otherwise
// refetches. Callers must not modify the returned slice.
func (c *Cache) Get(ctx context.Context) ([]models.FAQ, error) {
	now := c.now()

	if e := c.current.Load(); e != nil && now.Sub(e.at) < c.ttl {
		logging.Component("faq").Debug("using cached FAQs")
		return e.faqs, nil
	}

	logging.Component("faq").Info("retrieving FAQs from store")

	faqs, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.current.Store(&entry{faqs: faqs, at: now})
	return faqs, nil
}
