package domain

import "time"

// ExperimentStatus represents the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentStatusActive    ExperimentStatus = "active"
	ExperimentStatusCompleted ExperimentStatus = "completed"
)

// Metric identifies the primary metric an experiment optimizes for.
type Metric string

const (
	MetricSuccessRate    Metric = "success_rate"
	MetricConversionRate Metric = "conversion_rate"
	MetricSatisfaction   Metric = "satisfaction"
	MetricCost           Metric = "cost"
)

// Experiment represents a multi-variant online experiment.
type Experiment struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	PrimaryMetric Metric           `json:"primary_metric"`
	Variants      []Variant        `json:"variants"`
	Status        ExperimentStatus `json:"status"`
	MinSampleSize int              `json:"min_sample_size"`
	AutoOptimize  bool             `json:"auto_optimize"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	WinnerID      string           `json:"winner_id,omitempty"`
}

// Variant is one arm of an experiment.
// Invariant: traffic percentages across an experiment's variants sum to 100.
type Variant struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Config         map[string]any `json:"config,omitempty"`
	TrafficPercent float64        `json:"traffic_percent"`
	IsControl      bool           `json:"is_control"`
}

// Assignment maps (experiment, user) to a variant. Sticky: created once,
// immutable thereafter.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	UserID       string    `json:"user_id"`
	VariantID    string    `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// ResultRecord is one observed outcome for an assignment. Append-only.
type ResultRecord struct {
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	Success      bool      `json:"success"`
	LatencyMs    int64     `json:"latency_ms"`
	Cost         float64   `json:"cost"`
	Satisfaction float64   `json:"satisfaction"` // 0-5 scale
	Converted    bool      `json:"converted"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// VariantStats aggregates recorded outcomes for a single variant.
type VariantStats struct {
	VariantID       string  `json:"variant_id"`
	VariantName     string  `json:"variant_name"`
	Samples         int64   `json:"samples"`
	Successes       int64   `json:"successes"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	AvgCost         float64 `json:"avg_cost"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
	Conversions     int64   `json:"conversions"`
	ConversionRate  float64 `json:"conversion_rate"`
	TrafficPercent  float64 `json:"traffic_percent"`
}

// Significance holds the outcome of the two-variant z-test.
type Significance struct {
	Tested        bool    `json:"tested"` // false when not a two-variant comparison
	ZScore        float64 `json:"z_score"`
	PValue        float64 `json:"p_value"`
	IsSignificant bool    `json:"is_significant"` // p < 0.05
	Reason        string  `json:"reason,omitempty"`
}

// ExperimentResults is the full analysis returned to callers.
type ExperimentResults struct {
	ExperimentID string        `json:"experiment_id"`
	Variants     []VariantStats `json:"variants"`
	Significance Significance  `json:"significance"`
	Winner       *VariantStats `json:"winner,omitempty"`
}
