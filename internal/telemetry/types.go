// Package telemetry synthesizes the mock cauldron network data shown on the
// dashboard: live readings, ticket discrepancies and an hourly history.
//
// Nothing here keeps state between calls. Every synthesizer draws from an
// explicit Source so callers control reproducibility.
package telemetry

import "time"

// Descriptor is the static description of one cauldron.
type Descriptor struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	MaxVolume  float64 `json:"maxVolume" yaml:"max_volume"`
	BaseVolume float64 `json:"baseVolume,omitempty" yaml:"base_volume"`
}

// Status is the dashboard state of a cauldron reading.
type Status string

const (
	StatusNormal     Status = "normal"
	StatusCollecting Status = "collecting"
	StatusWarning    Status = "warning"
	StatusCritical   Status = "critical"
)

// Reading is one simulated live sample for a cauldron.
type Reading struct {
	Descriptor
	CurrentVolume     float64 `json:"currentVolume"`
	FillRate          float64 `json:"fillRate"`
	TimeToFullMinutes int     `json:"timeToFullMinutes"`
	Status            Status  `json:"status"`
	HasDiscrepancy    bool    `json:"hasDiscrepancy"`
}

// Ticket is a recorded courier transport ticket.
type Ticket struct {
	ID         string  `json:"ticketId" yaml:"ticket_id"`
	CauldronID string  `json:"cauldronId" yaml:"cauldron_id"`
	Date       string  `json:"date" yaml:"date"`
	Volume     float64 `json:"volume" yaml:"amount_collected"`
	Courier    string  `json:"courier" yaml:"courier_id"`
}

// Severity grades the magnitude of a discrepancy variance.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Discrepancy is a synthesized mismatch between a ticket and the drain it claims.
type Discrepancy struct {
	ID             string   `json:"id"`
	CauldronID     string   `json:"cauldronId"`
	CauldronName   string   `json:"cauldronName"`
	Date           string   `json:"date"`
	Courier        string   `json:"courier,omitempty"`
	ExpectedVolume float64  `json:"expectedVolume"`
	ActualVolume   float64  `json:"actualVolume"`
	Variance       float64  `json:"variance"`
	Severity       Severity `json:"severity"`
	Resolved       bool     `json:"resolved"`
	Description    string   `json:"description"`
}

// HistoryPoint is one hour of the historical playback series.
type HistoryPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Label     string         `json:"label"`
	Values    map[string]int `json:"values"`
}
