package models

// GroupingMode selects how observations are keyed during aggregation
type GroupingMode int

const (
	// MonthlyMode groups by "YYYY-MM" over the country,city,month,day,year,avgTemp layout
	MonthlyMode GroupingMode = iota
	// YearlyMode groups by "YYYY" over the _,dateLike,tempMax,tempMin,tempMean layout
	YearlyMode
)

// String returns string representation of the grouping mode
func (m GroupingMode) String() string {
	switch m {
	case MonthlyMode:
		return "monthly"
	case YearlyMode:
		return "yearly"
	default:
		return "unknown"
	}
}

// Observation represents one parsed row of the monthly layout.
// Month and year are kept as the raw text they were read from so
// that key derivation reproduces the input exactly.
type Observation struct {
	Country   string
	City      string
	MonthText string
	DayText   string
	YearText  string
	AvgTemp   float64
}

// YearRow represents one parsed row of the yearly layout
type YearRow struct {
	Year     string  `json:"year"`
	DateLike string  `json:"date"`
	TempMax  float64 `json:"temp_max"`
	TempMin  float64 `json:"temp_min"`
	TempMean float64 `json:"temp_mean"`
}

// PeriodKey identifies a grouping period: "YYYY-MM" or "YYYY".
// Keys order lexically, which for well-formed input is chronological.
type PeriodKey string

// MonthlyKey derives the year-month key of an observation.
// A one-character month gets a single leading zero; anything
// longer is passed through as-is.
func MonthlyKey(obs Observation) PeriodKey {
	month := obs.MonthText
	if len(month) == 1 {
		month = "0" + month
	}
	return PeriodKey(obs.YearText + "-" + month)
}

// YearlyKey derives the year key of a yearly-layout row
func YearlyKey(row YearRow) PeriodKey {
	return PeriodKey(row.Year)
}

// Aggregate is a running max/min/sum/count over the temperatures of one period
type Aggregate struct {
	Max   float64
	Min   float64
	Sum   float64
	Count int64
}

// NewAggregate returns the singleton aggregate for a first temperature
func NewAggregate(t float64) *Aggregate {
	return &Aggregate{Max: t, Min: t, Sum: t, Count: 1}
}

// Add folds one temperature into the aggregate
func (a *Aggregate) Add(t float64) {
	if a.Count == 0 {
		*a = Aggregate{Max: t, Min: t, Sum: t, Count: 1}
		return
	}
	a.Max = max(a.Max, t)
	a.Min = min(a.Min, t)
	a.Sum += t
	a.Count++
}

// Merge folds another aggregate into a
func (a *Aggregate) Merge(other Aggregate) {
	if other.Count == 0 {
		return
	}
	if a.Count == 0 {
		*a = other
		return
	}
	a.Max = max(a.Max, other.Max)
	a.Min = min(a.Min, other.Min)
	a.Sum += other.Sum
	a.Count += other.Count
}

// Mean returns Sum/Count, or 0 for an empty aggregate
func (a Aggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// PeriodStat is the reported form of one aggregate
type PeriodStat struct {
	Key   PeriodKey `json:"key" db:"period_key"`
	Max   float64   `json:"max" db:"max_temperature"`
	Min   float64   `json:"min" db:"min_temperature"`
	Mean  float64   `json:"mean" db:"mean_temperature"`
	Count int64     `json:"count" db:"observation_count"`
}

// Stat converts an aggregate into its reported form
func (a Aggregate) Stat(key PeriodKey) PeriodStat {
	return PeriodStat{
		Key:   key,
		Max:   a.Max,
		Min:   a.Min,
		Mean:  a.Mean(),
		Count: a.Count,
	}
}
