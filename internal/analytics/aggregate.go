package analytics

import (
	"slices"
	"time"

	"rag-chatbot/internal/models"
)

// BucketLayout formats hour buckets.
const BucketLayout = "2006-01-02T15:04:05Z"

// AggregateHourly counts timestamps per UTC hour, oldest bucket first.
func AggregateHourly(timestamps []time.Time) *models.QueryFrequency {
	out := &models.QueryFrequency{Result: []models.FrequencyBucket{}}
	if len(timestamps) == 0 {
		return out
	}

	counts := make(map[time.Time]int)
	for _, ts := range timestamps {
		counts[ts.UTC().Truncate(time.Hour)]++
	}

	hours := make([]time.Time, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	slices.SortFunc(hours, func(a, b time.Time) int { return a.Compare(b) })

	for _, h := range hours {
		out.Result = append(out.Result, models.FrequencyBucket{
			Datetime:  h.Format(BucketLayout),
			Frequency: counts[h],
		})
		out.Frequency += counts[h]
	}

	return out
}
