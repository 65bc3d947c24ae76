package faq

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot/internal/models"
)

// MockSource counts fetches and returns a fresh slice each time.
type MockSource struct {
	fetches atomic.Int32
	err     error
}

func (m *MockSource) Fetch(context.Context) ([]models.FAQ, error) {
	m.fetches.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []models.FAQ{
		{Heading: "Parking", Subheading: []string{"Where do I park?", "Is it free?"}},
		{Heading: "Library", Subheading: []string{}},
	}, nil
}

// upperTranslator upper-cases text after a random delay so completion order
// differs from submission order.
type upperTranslator struct {
	fail string
}

func (u upperTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
	if text == u.fail {
		return "", errors.New("translation failed")
	}
	return lang + ":" + strings.ToUpper(text), nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestCacheWithinTTL(t *testing.T) {
	source := &MockSource{}
	clk := &clock{t: time.Unix(1000, 0)}
	cache := NewCache(source, DefaultTTL, WithClock(clk.Now))

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	clk.t = clk.t.Add(299 * time.Second)
	second, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.fetches.Load())
	assert.Same(t, &first[0], &second[0])
}

func TestCacheExpiry(t *testing.T) {
	source := &MockSource{}
	clk := &clock{t: time.Unix(1000, 0)}
	cache := NewCache(source, DefaultTTL, WithClock(clk.Now))

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	clk.t = clk.t.Add(300 * time.Second)
	second, err := cache.Get(context.Background())
	require.NoError(t, err)
	third, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.fetches.Load())
	assert.NotSame(t, &first[0], &second[0])
	assert.Same(t, &second[0], &third[0])
}

func TestCacheFetchError(t *testing.T) {
	source := &MockSource{err: errors.New("store down")}
	cache := NewCache(source, 0)

	_, err := cache.Get(context.Background())
	require.Error(t, err)

	// Failures are not cached
	source.err = nil
	faqs, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, faqs, 2)
	assert.Equal(t, int32(2), source.fetches.Load())
}

func TestTranslatePreservesOrder(t *testing.T) {
	faqs := []models.FAQ{
		{Heading: "a", Subheading: []string{"a1", "a2", "a3"}},
		{Heading: "b", Subheading: []string{}},
		{Heading: "c", Subheading: []string{"c1"}},
	}

	for range 10 {
		got, err := Translate(context.Background(), upperTranslator{}, faqs, "fr")
		require.NoError(t, err)

		assert.Equal(t, []models.FAQ{
			{Heading: "fr:A", Subheading: []string{"fr:A1", "fr:A2", "fr:A3"}},
			{Heading: "fr:B", Subheading: []string{}},
			{Heading: "fr:C", Subheading: []string{"fr:C1"}},
		}, got)
	}

	// input untouched
	assert.Equal(t, "a", faqs[0].Heading)
}

func TestTranslateFailsWholeBatch(t *testing.T) {
	faqs := []models.FAQ{
		{Heading: "a", Subheading: []string{"a1", "bad"}},
		{Heading: "b"},
	}

	got, err := Translate(context.Background(), upperTranslator{fail: "bad"}, faqs, "fr")
	require.Error(t, err)
	assert.Nil(t, got)
}

func TestTranslateEmpty(t *testing.T) {
	got, err := Translate(context.Background(), upperTranslator{}, []models.FAQ{}, "fr")
	require.NoError(t, err)
	assert.Empty(t, got)
}
