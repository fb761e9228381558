package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall agent status.
type SystemStatus struct {
	Status    HealthStatus           `json:"status"`
	Time      Timestamp              `json:"time"`
	Upstreams []UpstreamStatus       `json:"upstreams"`
	Poller    map[string]interface{} `json:"poller"`
	Schedule  ScheduleStatus         `json:"schedule"`
	Anomalies []Anomaly              `json:"anomalies,omitempty"`
}

// UpstreamStatus is the circuit state of a remote dependency.
type UpstreamStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// ScheduleStatus summarizes the schedule store.
type ScheduleStatus struct {
	Visits      int        `json:"visits"`
	RefreshedAt *Timestamp `json:"refreshedAt,omitempty"`
}
