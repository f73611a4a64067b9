package spike

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Направления динамики всплесков.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	topSourcesLimit = 5
)

// SourceCount — число всплесков источника.
type SourceCount struct {
	SourceID uuid.UUID `json:"source_id"`
	Count    int       `json:"spike_count"`
}

// Analytics — сводка всплесков задачи за период.
type Analytics struct {
	Total      int           `json:"total_spikes"`
	AvgScore   float64       `json:"avg_spike_score"`
	TopSources []SourceCount `json:"top_sources"`
	Trend      string        `json:"spike_trend"`
}

// Analytics считает сводку за последние days дней.
func (d *Detector) Analytics(ctx context.Context, jobID uuid.UUID, days int) (Analytics, error) {
	if days <= 0 {
		days = 30
	}
	events, err := d.spikes.ListSpikesSince(ctx, jobID, d.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return Analytics{}, fmt.Errorf("события задачи: %w", err)
	}
	out := Analytics{Trend: TrendStable, TopSources: []SourceCount{}}
	if len(events) == 0 {
		return out, nil
	}

	scores := make([]float64, len(events))
	counts := make(map[uuid.UUID]int)
	for i, e := range events {
		scores[i] = e.SpikeScore
		counts[e.SourceID]++
	}
	out.Total = len(events)
	out.AvgScore = round(mean(scores), 3)

	for id, n := range counts {
		out.TopSources = append(out.TopSources, SourceCount{SourceID: id, Count: n})
	}
	sort.Slice(out.TopSources, func(i, j int) bool {
		if out.TopSources[i].Count != out.TopSources[j].Count {
			return out.TopSources[i].Count > out.TopSources[j].Count
		}
		return out.TopSources[i].SourceID.String() < out.TopSources[j].SourceID.String()
	})
	if len(out.TopSources) > topSourcesLimit {
		out.TopSources = out.TopSources[:topSourcesLimit]
	}
	out.Trend = trendOf(scores)
	return out, nil
}

// trendOf сравнивает средние первой и второй половины ряда в порядке обнаружения.
func trendOf(scores []float64) string {
	mid := len(scores) / 2
	first := mean(scores[:mid])
	second := mean(scores[mid:])
	switch {
	case second > first*1.1:
		return TrendIncreasing
	case second < first*0.9:
		return TrendDecreasing
	}
	return TrendStable
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
