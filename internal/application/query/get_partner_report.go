// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PARTNER REPORT QUERY
// Отчёт пары партнёров: свои метрики полностью, метрики партнёра - только
// поля, которые партнёр разрешил в своей строке B->A.
// ══════════════════════════════════════════════════════════════════════════════

// GetPartnerReportQuery содержит параметры отчёта.
type GetPartnerReportQuery struct {
	// OwnerID - кто смотрит отчёт.
	OwnerID shared.UserID

	// PartnerID - чьи метрики маскируются.
	PartnerID shared.UserID

	// Start, End - включительный диапазон дат. Оба нулевые = текущая неделя.
	Start timeutil.Date
	End   timeutil.Date
}

// Validate проверяет параметры запроса.
func (q GetPartnerReportQuery) Validate() error {
	if !q.OwnerID.IsValid() {
		return shared.ValidationError("accountability", "PartnerReport", "owner id is missing or malformed")
	}
	if !q.PartnerID.IsValid() {
		return shared.ValidationError("accountability", "PartnerReport", "partner id is missing or malformed")
	}
	if q.OwnerID == q.PartnerID {
		return shared.ErrSelfPartnership
	}
	if q.Start.IsZero() != q.End.IsZero() {
		return shared.ValidationError("accountability", "PartnerReport", "start and end must be given together")
	}
	if !q.Start.IsZero() && q.Start.After(q.End) {
		return shared.ValidationError("accountability", "PartnerReport", "start is after end")
	}
	return nil
}

// ReportRange - диапазон отчёта.
type ReportRange struct {
	Start timeutil.Date `json:"start"`
	End   timeutil.Date `json:"end"`
}

// PartnerReport - результат. Скрытые поля партнёра - null.
type PartnerReport struct {
	OK      bool                   `json:"ok"`
	Range   ReportRange            `json:"range"`
	Owner   accountability.Metrics `json:"owner"`
	Partner accountability.Metrics `json:"partner"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetPartnerReportHandler обрабатывает запрос отчёта.
type GetPartnerReportHandler struct {
	relationships accountability.Repository
	aggregator    *metrics.Aggregator
	resolver      *timeutil.WeekResolver

	// commitmentBypass - показывать commitmentRate партнёра независимо от флага.
	commitmentBypass bool
	now              func() time.Time
}

// NewGetPartnerReportHandler создаёт обработчик.
func NewGetPartnerReportHandler(
	relationships accountability.Repository,
	aggregator *metrics.Aggregator,
	resolver *timeutil.WeekResolver,
	commitmentBypass bool,
) *GetPartnerReportHandler {
	if resolver == nil {
		resolver = timeutil.DefaultResolver
	}
	return &GetPartnerReportHandler{
		relationships:    relationships,
		aggregator:       aggregator,
		resolver:         resolver,
		commitmentBypass: commitmentBypass,
		now:              time.Now,
	}
}

// Handle строит отчёт. Без двух активных направлений - ErrNotMutual (403),
// метрики при этом даже не считаются.
func (h *GetPartnerReportHandler) Handle(ctx context.Context, q GetPartnerReportQuery) (*PartnerReport, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ab, ba, err := h.relationships.GetPair(ctx, q.OwnerID, q.PartnerID)
	if err != nil {
		return nil, shared.ComputeError("accountability", "PartnerReport", err)
	}
	if !accountability.IsMutual(ab, ba) {
		return nil, shared.ErrNotMutual
	}

	rng := ReportRange{Start: q.Start, End: q.End}
	if rng.Start.IsZero() {
		rng.Start = h.resolver.CurrentWeekStart(h.now())
		rng.End = rng.Start.AddDays(timeutil.DaysPerWeek - 1)
	}
	from := rng.Start.StartIn(h.resolver.Location())
	to := rng.End.AddDays(1).StartIn(h.resolver.Location()).Add(-time.Millisecond)

	summaries, err := h.aggregator.Compute(ctx, []shared.UserID{q.OwnerID, q.PartnerID}, from, to)
	if err != nil {
		return nil, err
	}

	return &PartnerReport{
		OK:      true,
		Range:   rng,
		Owner:   accountability.FullMetrics(summaries[q.OwnerID]),
		Partner: accountability.Mask(summaries[q.PartnerID], ba.Visibility, h.commitmentBypass),
	}, nil
}
