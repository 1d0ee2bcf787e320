package domain

import "time"

// VersionStatus represents the lifecycle state of a model version.
type VersionStatus string

const (
	VersionStatusTesting VersionStatus = "testing"
	VersionStatusActive  VersionStatus = "active"
	VersionStatusRetired VersionStatus = "retired"
)

// ModelVersion is a named model variant within a task domain.
// (Domain, Name) is unique; registration upserts on that pair.
type ModelVersion struct {
	Domain         string        `json:"domain"`
	Name           string        `json:"name"`
	BaseModel      string        `json:"base_model"`
	Status         VersionStatus `json:"status"`
	TrafficPercent float64       `json:"traffic_percent"` // 0-100
	IsDefault      bool          `json:"is_default,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Active reports whether the version can receive traffic.
func (v ModelVersion) Active() bool {
	return v.Status != VersionStatusRetired && v.TrafficPercent > 0
}
