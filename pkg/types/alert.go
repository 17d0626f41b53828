package types

import "time"

// AlertSeverity ranks how urgently an alert needs operator attention.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "INFO"
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is raised by the risk monitor or the coordinator when a rule is
// violated. Alerts are keyed by Type for cooldown/deduplication.
type Alert struct {
	Type      string            `json:"type"`
	Severity  AlertSeverity     `json:"severity"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
}
