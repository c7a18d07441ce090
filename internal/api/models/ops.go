package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SourcesStatus lists the weather sources in priority order.
type SourcesStatus struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Sources []SourceStatus `json:"sources"`
}

// SourceStatus represents the status of one weather source.
type SourceStatus struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Priority is 1 for the most trusted source.
	Priority      int          `json:"priority"`
	MaxHorizon    string       `json:"maxHorizon,omitempty"`
	Status        HealthStatus `json:"status"`
	Circuit       string       `json:"circuit"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}
