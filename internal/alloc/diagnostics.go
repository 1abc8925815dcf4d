package alloc

import (
	"context"

	"allocplan/internal/logging"
)

// Reasons recorded when part of a plan cannot be satisfied.
const (
	ReasonEmptyMatrix        = "empty_matrix"
	ReasonEmptyBucket        = "empty_bucket"
	ReasonNoCityPairs        = "no_city_pairs"
	ReasonNoWeeks            = "no_weeks"
	ReasonZeroSeasonalWeight = "zero_seasonal_weight"
	ReasonWeekCapReached     = "week_cap_reached"
	ReasonNegativeWeekBucket = "negative_week_bucket"
)

// Diagnostic explains why a cell, route or week was left out of the plan.
type Diagnostic struct {
	Reason       string   `json:"reason"`
	Cell         string   `json:"cell,omitempty"`
	OriginCityID string   `json:"originCityId,omitempty"`
	DestCityID   string   `json:"destCityId,omitempty"`
	Week         *ISOWeek `json:"week,omitempty"`
	Samples      int      `json:"samples,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

// Diagnostics collects skip reasons and mirrors each one to the logger.
type Diagnostics struct {
	ctx   context.Context
	log   logging.Logger
	items []Diagnostic
}

func newDiagnostics(ctx context.Context, log logging.Logger) *Diagnostics {
	if log == nil {
		log = logging.Noop()
	}
	return &Diagnostics{ctx: ctx, log: log}
}

func (d *Diagnostics) add(diag Diagnostic) {
	if d == nil {
		return
	}
	d.items = append(d.items, diag)
	fields := []logging.Field{logging.String("reason", diag.Reason)}
	if diag.Cell != "" {
		fields = append(fields, logging.String("cell", diag.Cell))
	}
	if diag.OriginCityID != "" {
		fields = append(fields, logging.String("origin_city", diag.OriginCityID), logging.String("dest_city", diag.DestCityID))
	}
	if diag.Week != nil {
		fields = append(fields, logging.Int("iso_year", diag.Week.Year), logging.Int("iso_week", diag.Week.Week))
	}
	if diag.Samples != 0 {
		fields = append(fields, logging.Int("samples", diag.Samples))
	}
	d.log.Warn(d.ctx, diag.Detail, fields...)
}

// Items returns the recorded diagnostics in order.
func (d *Diagnostics) Items() []Diagnostic {
	if d == nil {
		return nil
	}
	return d.items
}

// CountByReason tallies diagnostics per reason.
func CountByReason(items []Diagnostic) map[string]int {
	if len(items) == 0 {
		return nil
	}
	out := map[string]int{}
	for _, d := range items {
		out[d.Reason]++
	}
	return out
}
