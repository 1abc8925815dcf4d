// Package alloc generates allocation plans: it turns a sample budget, a date
// range, a set of cities and nodes, and the distribution policies into scheduled
// origin-node to destination-node shipments.
//
// The pipeline is NormalizeMatrix -> BucketCities -> DistributeRoutes -> per route
// EnumerateWeeks and SplitUniform/SplitSeasonal -> per week BalancedPairs ->
// RandomDateInWeek. Picking the day inside a week is the only random step and its
// source is injectable.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"allocplan/internal/logging"
	"allocplan/internal/model"
)

// ErrInvalidInput is wrapped by every boundary validation failure.
var ErrInvalidInput = errors.New("invalid allocation input")

const dateLayout = "2006-01-02"

type Input struct {
	TotalSamples int
	StartDate    time.Time
	EndDate      time.Time
	Cities       []model.City
	Nodes        []model.Node
	Matrix       model.CityMatrix
	UseSeasonal  bool
	Seasonal     model.SeasonalDistribution
	// MaxSamplesPerWeek caps how many entries one origin node sends in a single
	// ISO week across the plan. Zero means no cap.
	MaxSamplesPerWeek int
	// Seed fixes the day sampler for this call when non-zero.
	Seed int64
}

type Result struct {
	Matrix      model.CityMatrix           `json:"cityDistributionMatrix"`
	Seasonal    model.SeasonalDistribution `json:"seasonalDistribution"`
	Routes      []CityPairRoute            `json:"routes"`
	Weeks       []ISOWeek                  `json:"weeks"`
	Entries     []model.AllocationEntry    `json:"entries"`
	Diagnostics []Diagnostic               `json:"diagnostics,omitempty"`
}

// RoutedSamples is the sum of route sample counts.
func (r Result) RoutedSamples() int {
	n := 0
	for _, rt := range r.Routes {
		n += rt.Samples
	}
	return n
}

// Limits bounds the size of a single plan. Zero fields take the DefaultLimits value.
type Limits struct {
	MaxTotalSamples int
	MaxRangeDays    int
}

var DefaultLimits = Limits{MaxTotalSamples: 1_000_000, MaxRangeDays: 3660}

func (l Limits) orDefault() Limits {
	if l.MaxTotalSamples <= 0 {
		l.MaxTotalSamples = DefaultLimits.MaxTotalSamples
	}
	if l.MaxRangeDays <= 0 {
		l.MaxRangeDays = DefaultLimits.MaxRangeDays
	}
	return l
}

// Validate checks the caller contract under DefaultLimits. A reversed date range
// is not an error; it produces an empty plan.
func Validate(in Input) error {
	return ValidateWithin(in, DefaultLimits)
}

// ValidateWithin is Validate with explicit size limits.
func ValidateWithin(in Input, lim Limits) error {
	lim = lim.orDefault()
	if in.TotalSamples <= 0 {
		return fmt.Errorf("%w: totalSamples must be > 0, got %d", ErrInvalidInput, in.TotalSamples)
	}
	if in.TotalSamples > lim.MaxTotalSamples {
		return fmt.Errorf("%w: totalSamples must be <= %d, got %d", ErrInvalidInput, lim.MaxTotalSamples, in.TotalSamples)
	}
	if in.MaxSamplesPerWeek < 0 {
		return fmt.Errorf("%w: maxSamplesPerWeek must be >= 0", ErrInvalidInput)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return fmt.Errorf("%w: startDate and endDate are required", ErrInvalidInput)
	}
	if start := dateOnly(in.StartDate); dateOnly(in.EndDate).After(start.AddDate(0, 0, lim.MaxRangeDays-1)) {
		return fmt.Errorf("%w: date range must span at most %d days", ErrInvalidInput, lim.MaxRangeDays)
	}
	for i, v := range in.Matrix.Values() {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: matrix cell %s must be within [0,100], got %d", ErrInvalidInput, model.MatrixCells[i].Name, v)
		}
	}
	if in.UseSeasonal {
		for i, v := range in.Seasonal.Values() {
			if v < 0 || v > 100 {
				return fmt.Errorf("%w: seasonal %s must be within [0,100], got %d", ErrInvalidInput, time.Month(i+1), v)
			}
		}
	}
	for _, c := range in.Cities {
		if !c.Classification.Valid() {
			return fmt.Errorf("%w: city %s has unknown classification %q", ErrInvalidInput, c.ID, c.Classification)
		}
	}
	return nil
}

type Option func(*Engine)

// WithLogger sets where diagnostics are logged.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithLimits overrides DefaultLimits for every call.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l.orDefault() }
}

// WithSeed makes every call use a sampler seeded with seed.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.newSampler = func() DaySampler { return rand.New(rand.NewSource(seed)) }
	}
}

// WithSampler supplies a fresh DaySampler for each call.
func WithSampler(f func() DaySampler) Option {
	return func(e *Engine) {
		if f != nil {
			e.newSampler = f
		}
	}
}

// Engine holds no per-call state and may be shared between goroutines.
type Engine struct {
	log        logging.Logger
	limits     Limits
	newSampler func() DaySampler
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:    logging.Noop(),
		limits: DefaultLimits,
		newSampler: func() DaySampler {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type capKey struct {
	node string
	week ISOWeek
}

// Generate runs the full pipeline. Only caller contract violations and context
// cancellation return an error; unsatisfiable parts are skipped and reported in
// Result.Diagnostics.
func (e *Engine) Generate(ctx context.Context, in Input) (Result, error) {
	if err := ValidateWithin(in, e.limits); err != nil {
		return Result{}, err
	}
	diag := newDiagnostics(ctx, e.log)
	sampler := e.newSampler()
	if in.Seed != 0 {
		sampler = rand.New(rand.NewSource(in.Seed))
	}

	res := Result{Matrix: NormalizeMatrix(in.Matrix)}
	if in.UseSeasonal {
		res.Seasonal = NormalizeSeasonal(in.Seasonal)
	}
	// An all-zero matrix means no distribution was configured, not "spread evenly".
	if in.Matrix.Total() == 0 {
		res.Matrix = in.Matrix
		diag.add(Diagnostic{
			Reason:  ReasonEmptyMatrix,
			Samples: in.TotalSamples,
			Detail:  "city distribution matrix is empty",
		})
		res.Diagnostics = diag.Items()
		return res, nil
	}

	buckets := BucketCities(in.Cities, in.Nodes)
	res.Routes = DistributeRoutes(in.TotalSamples, buckets, res.Matrix, diag)
	res.Weeks = EnumerateWeeks(in.StartDate, in.EndDate)
	if len(res.Weeks) == 0 {
		if len(res.Routes) > 0 {
			diag.add(Diagnostic{
				Reason:  ReasonNoWeeks,
				Samples: res.RoutedSamples(),
				Detail:  fmt.Sprintf("date range %s..%s contains no weeks", in.StartDate.Format(dateLayout), in.EndDate.Format(dateLayout)),
			})
		}
		res.Diagnostics = diag.Items()
		return res, nil
	}

	useSeasonal := in.UseSeasonal
	if useSeasonal {
		if _, ok := SplitSeasonal(1, res.Weeks, res.Seasonal); !ok {
			diag.add(Diagnostic{
				Reason: ReasonZeroSeasonalWeight,
				Detail: "seasonal curve gives every week zero weight, falling back to uniform",
			})
			useSeasonal = false
		}
	}

	used := map[capKey]int{}
	for _, rt := range res.Routes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var perWeek []int
		if useSeasonal {
			perWeek, _ = SplitSeasonal(rt.Samples, res.Weeks, res.Seasonal)
		} else {
			perWeek = SplitUniform(rt.Samples, res.Weeks)
		}
		origins, dests := buckets.Nodes[rt.OriginCityID], buckets.Nodes[rt.DestCityID]
		for i, w := range res.Weeks {
			count := perWeek[i]
			if count < 0 {
				week := w
				diag.add(Diagnostic{
					Reason:       ReasonNegativeWeekBucket,
					Cell:         rt.Cell,
					OriginCityID: rt.OriginCityID,
					DestCityID:   rt.DestCityID,
					Week:         &week,
					Samples:      -count,
					Detail:       fmt.Sprintf("seasonal rounding left week %d-W%02d at %d; the other weeks carry the surplus", w.Year, w.Week, count),
				})
			}
			if count <= 0 {
				continue
			}
			dropped := 0
			for p := range BalancedPairs(origins, dests, count) {
				if in.MaxSamplesPerWeek > 0 {
					k := capKey{node: p.Origin, week: w}
					if used[k] >= in.MaxSamplesPerWeek {
						dropped++
						continue
					}
					used[k]++
				}
				date := RandomDateInWeek(w.Year, w.Week, sampler)
				res.Entries = append(res.Entries, model.AllocationEntry{
					Seq:               len(res.Entries) + 1,
					OriginNodeID:      p.Origin,
					DestinationNodeID: p.Dest,
					ScheduledDate:     date.Format(dateLayout),
					ISOYear:           w.Year,
					ISOWeek:           w.Week,
					Month:             int(date.Month()),
					Year:              date.Year(),
				})
			}
			if dropped > 0 {
				week := w
				diag.add(Diagnostic{
					Reason:       ReasonWeekCapReached,
					Cell:         rt.Cell,
					OriginCityID: rt.OriginCityID,
					DestCityID:   rt.DestCityID,
					Week:         &week,
					Samples:      dropped,
					Detail:       fmt.Sprintf("origin nodes reached %d samples in week %d-W%02d", in.MaxSamplesPerWeek, w.Year, w.Week),
				})
			}
		}
	}
	res.Diagnostics = diag.Items()
	return res, nil
}
