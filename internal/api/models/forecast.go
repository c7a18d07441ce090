package models

// Forecast is the power forecast of a plant, or of every plant when the plant
// is "all". Power is in integer watts; a null value is a gap.
type Forecast struct {
	RunID      string    `json:"runId"`
	Kind       string    `json:"kind"`
	Plant      string    `json:"plant"`
	Inverter   string    `json:"inverter,omitempty"`
	Array      string    `json:"array,omitempty"`
	CreatedAt  Timestamp `json:"createdAt"`
	ValidFrom  Timestamp `json:"validFrom"`
	ValidUntil Timestamp `json:"validUntil"`
	Interval   string    `json:"interval"`

	// Points is the power of the whole selection.
	Points []PowerPoint `json:"points"`

	// Plants breaks the selection down per plant and inverter.
	Plants []PlantPower `json:"plants"`

	Sources     []SourceSummary `json:"sources,omitempty"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// PowerPoint is the power at one time.
type PowerPoint struct {
	Time Timestamp `json:"time"`
	ACW  *int      `json:"acW"`
	DCW  *int      `json:"dcW"`
	Gap  string    `json:"gap,omitempty"`
}

// PlantPower is one plant's power series.
type PlantPower struct {
	Name      string          `json:"name"`
	CapacityW int             `json:"capacityW"`
	Points    []PowerPoint    `json:"points"`
	Inverters []InverterPower `json:"inverters"`
}

// InverterPower is one inverter's power series.
type InverterPower struct {
	Name       string       `json:"name"`
	NameplateW int          `json:"nameplateW"`
	Clipped    int          `json:"clipped"`
	Points     []PowerPoint `json:"points"`
}

// SourceSummary reports one weather source's part in a forecast.
type SourceSummary struct {
	Name        string         `json:"name"`
	OK          bool           `json:"ok"`
	ErrorKind   string         `json:"errorKind,omitempty"`
	Error       string         `json:"error,omitempty"`
	FetchedAt   *Timestamp     `json:"fetchedAt,omitempty"`
	Contributed map[string]int `json:"contributed,omitempty"`
}

// Diagnostics collects the quality notes of a forecast.
type Diagnostics struct {
	Gaps           int            `json:"gaps"`
	Clipped        int            `json:"clipped"`
	Clamps         map[string]int `json:"clamps,omitempty"`
	SourceFailures []string       `json:"sourceFailures,omitempty"`
}

// Energy is the energy a plant is expected to produce per period.
type Energy struct {
	RunID    string `json:"runId"`
	Kind     string `json:"kind"`
	Plant    string `json:"plant"`
	Period   string `json:"period"`
	TimeZone string `json:"timeZone"`

	Buckets []EnergyBucket `json:"buckets"`

	// TotalWh is null when any bucket is incomplete.
	TotalWh *int `json:"totalWh"`

	Cumulative []CumulativePoint `json:"cumulative"`
}

// EnergyBucket is the energy produced in one period.
type EnergyBucket struct {
	Start    Timestamp `json:"start"`
	End      Timestamp `json:"end"`
	Wh       int       `json:"wh"`
	Complete bool      `json:"complete"`
}

// CumulativePoint is the energy produced since the start of the forecast.
// Wh is null once a gap has been met.
type CumulativePoint struct {
	Time Timestamp `json:"time"`
	Wh   *int      `json:"wh"`
}

// RefreshRequest optionally overrides the refresh horizon.
type RefreshRequest struct {
	Horizon string `json:"horizon,omitempty"`
}

// RefreshResult summarizes a stored forecast run.
type RefreshResult struct {
	RunID          string    `json:"runId"`
	CreatedAt      Timestamp `json:"createdAt"`
	ValidUntil     Timestamp `json:"validUntil"`
	Plants         []string  `json:"plants"`
	Gaps           int       `json:"gaps"`
	SourceFailures []string  `json:"sourceFailures,omitempty"`
}
