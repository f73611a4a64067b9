package newsletter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/usecase/schedule"
	"creatorpulse/internal/usecase/spike"
)

// SpikeSource — обнаружение и учёт всплесков.
type SpikeSource interface {
	Detect(ctx context.Context, jobID uuid.UUID, opts spike.Options) ([]domain.SpikeEvent, error)
	OpenSpikes(ctx context.Context, jobID uuid.UUID) ([]domain.SpikeEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
}

// TrendSource — оценки трендов и релевантность текста.
type TrendSource interface {
	DetectForKeywords(ctx context.Context, keywords []string, region string) []domain.TrendRecord
	Relevance(ctx context.Context, content string, keywords []string) (float64, error)
	Trending(ctx context.Context, limit int) ([]domain.TrendRecord, error)
}

// Signals решает, есть ли сигнал для задач по контенту и трендам.
type Signals struct {
	spikes SpikeSource
	trends TrendSource
	window time.Duration
}

// NewSignals создаёт шлюз сигналов.
func NewSignals(spikes SpikeSource, trends TrendSource, window time.Duration) *Signals {
	return &Signals{spikes: spikes, trends: trends, window: window}
}

// ContentSignal сначала запускает обнаружение, затем проверяет открытые всплески задачи.
func (s *Signals) ContentSignal(ctx context.Context, job domain.AutoNewsletterJob, cfg domain.ContentBasedSchedule) (bool, string, error) {
	if _, err := s.spikes.Detect(ctx, job.ID, spike.Options{Threshold: cfg.SpikeThreshold, Window: s.window}); err != nil {
		return false, "", err
	}
	open, err := s.spikes.OpenSpikes(ctx, job.ID)
	if err != nil {
		return false, "", err
	}
	if len(open) == 0 {
		return false, "нет всплесков", nil
	}
	return true, fmt.Sprintf("открытых всплесков: %d", len(open)), nil
}

// TrendSignal срабатывает, если хотя бы одно ключевое слово достигло порога.
// Нулевая оценка означает отсутствие данных и сигналом не считается.
func (s *Signals) TrendSignal(ctx context.Context, job domain.AutoNewsletterJob, cfg domain.TrendBasedSchedule) (bool, string, error) {
	for _, r := range s.trends.DetectForKeywords(ctx, cfg.CleanKeywords(), cfg.Region) {
		if r.Score > 0 && r.Score >= cfg.Threshold {
			return true, fmt.Sprintf("тренд %q: %.2f", r.Keyword, r.Score), nil
		}
	}
	return false, "тренды ниже порога", nil
}

var _ schedule.Gate = (*Signals)(nil)
