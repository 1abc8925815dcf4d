package model

import "time"

// Classification tiers cities along the axes of the distribution matrix.
type Classification string

const (
	ClassA Classification = "A"
	ClassB Classification = "B"
	ClassC Classification = "C"
)

// DefaultClassification is applied to cities that carry no classification.
const DefaultClassification = ClassB

// Classes lists the tiers in matrix order.
var Classes = []Classification{ClassA, ClassB, ClassC}

// Valid reports whether c is A, B, C or empty (empty resolves to the default).
func (c Classification) Valid() bool {
	switch c {
	case "", ClassA, ClassB, ClassC:
		return true
	}
	return false
}

// OrDefault returns c, or DefaultClassification when c is empty.
func (c Classification) OrDefault() Classification {
	if c == "" {
		return DefaultClassification
	}
	return c
}

type City struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId,omitempty"`
	Name           string         `json:"name,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Active         bool           `json:"active"`
}

type Node struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	CityID   string `json:"cityId"`
	Name     string `json:"name,omitempty"`
	Active   bool   `json:"active"`
}

type CityInput struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	Classification Classification `json:"classification,omitempty"`
	Active         *bool          `json:"active,omitempty"`
}

type NodeInput struct {
	ID     string `json:"id,omitempty"`
	CityID string `json:"cityId"`
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}

// CityMatrix holds the percent of total samples routed from class-X to class-Y cities.
// A zero cell counts as unset.
type CityMatrix struct {
	AA int `json:"aa" yaml:"aa"`
	AB int `json:"ab" yaml:"ab"`
	AC int `json:"ac" yaml:"ac"`
	BA int `json:"ba" yaml:"ba"`
	BB int `json:"bb" yaml:"bb"`
	BC int `json:"bc" yaml:"bc"`
	CA int `json:"ca" yaml:"ca"`
	CB int `json:"cb" yaml:"cb"`
	CC int `json:"cc" yaml:"cc"`
}

// MatrixCell names one cell of the city matrix.
type MatrixCell struct {
	Name   string
	Origin Classification
	Dest   Classification
}

// MatrixCells is the fixed enumeration order AA,AB,AC,BA,BB,BC,CA,CB,CC.
var MatrixCells = []MatrixCell{
	{"AA", ClassA, ClassA}, {"AB", ClassA, ClassB}, {"AC", ClassA, ClassC},
	{"BA", ClassB, ClassA}, {"BB", ClassB, ClassB}, {"BC", ClassB, ClassC},
	{"CA", ClassC, ClassA}, {"CB", ClassC, ClassB}, {"CC", ClassC, ClassC},
}

// Values returns the cells in MatrixCells order.
func (m CityMatrix) Values() []int {
	return []int{m.AA, m.AB, m.AC, m.BA, m.BB, m.BC, m.CA, m.CB, m.CC}
}

// CityMatrixFrom builds a matrix from values in MatrixCells order.
func CityMatrixFrom(v []int) CityMatrix {
	var m CityMatrix
	if len(v) != 9 {
		return m
	}
	m.AA, m.AB, m.AC = v[0], v[1], v[2]
	m.BA, m.BB, m.BC = v[3], v[4], v[5]
	m.CA, m.CB, m.CC = v[6], v[7], v[8]
	return m
}

// Total is the sum of all cells.
func (m CityMatrix) Total() int { return sum(m.Values()) }

// SeasonalDistribution holds one percentage per calendar month.
type SeasonalDistribution struct {
	Jan int `json:"jan" yaml:"jan"`
	Feb int `json:"feb" yaml:"feb"`
	Mar int `json:"mar" yaml:"mar"`
	Apr int `json:"apr" yaml:"apr"`
	May int `json:"may" yaml:"may"`
	Jun int `json:"jun" yaml:"jun"`
	Jul int `json:"jul" yaml:"jul"`
	Aug int `json:"aug" yaml:"aug"`
	Sep int `json:"sep" yaml:"sep"`
	Oct int `json:"oct" yaml:"oct"`
	Nov int `json:"nov" yaml:"nov"`
	Dec int `json:"dec" yaml:"dec"`
}

// Values returns the months January..December.
func (s SeasonalDistribution) Values() []int {
	return []int{s.Jan, s.Feb, s.Mar, s.Apr, s.May, s.Jun, s.Jul, s.Aug, s.Sep, s.Oct, s.Nov, s.Dec}
}

// SeasonalFrom builds a curve from twelve monthly values.
func SeasonalFrom(v []int) SeasonalDistribution {
	var s SeasonalDistribution
	if len(v) != 12 {
		return s
	}
	s.Jan, s.Feb, s.Mar, s.Apr, s.May, s.Jun = v[0], v[1], v[2], v[3], v[4], v[5]
	s.Jul, s.Aug, s.Sep, s.Oct, s.Nov, s.Dec = v[6], v[7], v[8], v[9], v[10], v[11]
	return s
}

// Month returns the percentage for a calendar month.
func (s SeasonalDistribution) Month(m time.Month) int {
	if m < time.January || m > time.December {
		return 0
	}
	return s.Values()[m-1]
}

func (s SeasonalDistribution) Total() int { return sum(s.Values()) }

func sum(v []int) int {
	t := 0
	for _, x := range v {
		t += x
	}
	return t
}

// Policy is a tenant's stored distribution defaults.
type Policy struct {
	Matrix            CityMatrix           `json:"cityDistributionMatrix" yaml:"cityDistributionMatrix"`
	UseSeasonal       bool                 `json:"useSeasonalDistribution" yaml:"useSeasonalDistribution"`
	Seasonal          SeasonalDistribution `json:"seasonalDistribution" yaml:"seasonalDistribution"`
	MaxSamplesPerWeek int                  `json:"maxSamplesPerWeek" yaml:"maxSamplesPerWeek"`
}

// AllocationEntry is one scheduled origin-node to destination-node shipment.
type AllocationEntry struct {
	Seq               int    `json:"seq"`
	OriginNodeID      string `json:"originNodeId"`
	DestinationNodeID string `json:"destinationNodeId"`
	ScheduledDate     string `json:"scheduledDate"`
	ISOYear           int    `json:"isoYear"`
	ISOWeek           int    `json:"isoWeek"`
	Month             int    `json:"month"`
	Year              int    `json:"year"`
}

// GeneratePlanRequest is the body of POST /v1/plans/generate. Nil policy fields fall
// back to the tenant's stored policy.
type GeneratePlanRequest struct {
	TenantID                string                `json:"tenantId,omitempty"`
	Name                    string                `json:"name,omitempty"`
	TotalSamples            int                   `json:"totalSamples"`
	StartDate               string                `json:"startDate"`
	EndDate                 string                `json:"endDate"`
	CityDistributionMatrix  *CityMatrix           `json:"cityDistributionMatrix,omitempty"`
	UseSeasonalDistribution *bool                 `json:"useSeasonalDistribution,omitempty"`
	SeasonalDistribution    *SeasonalDistribution `json:"seasonalDistribution,omitempty"`
	MaxSamplesPerWeek       *int                  `json:"maxSamplesPerWeek,omitempty"`
	Seed                    int64                 `json:"seed,omitempty"`
	DryRun                  bool                  `json:"dryRun,omitempty"`
}

// PlanSummary describes what the engine produced.
type PlanSummary struct {
	RequestedSamples int            `json:"requestedSamples"`
	RoutedSamples    int            `json:"routedSamples"`
	Entries          int            `json:"entries"`
	Routes           int            `json:"routes"`
	Weeks            int            `json:"weeks"`
	Diagnostics      map[string]int `json:"diagnostics,omitempty"`
}

type Plan struct {
	ID                string               `json:"id"`
	TenantID          string               `json:"tenantId"`
	Name              string               `json:"name,omitempty"`
	Status            string               `json:"status"`
	TotalSamples      int                  `json:"totalSamples"`
	StartDate         string               `json:"startDate"`
	EndDate           string               `json:"endDate"`
	Matrix            CityMatrix           `json:"cityDistributionMatrix"`
	UseSeasonal       bool                 `json:"useSeasonalDistribution"`
	Seasonal          SeasonalDistribution `json:"seasonalDistribution"`
	MaxSamplesPerWeek int                  `json:"maxSamplesPerWeek"`
	Summary           PlanSummary          `json:"summary"`
	CreatedAt         string               `json:"createdAt"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
