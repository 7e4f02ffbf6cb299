package models

import "time"

type Condition string

const (
	CondGT              Condition = "gt"
	CondLT              Condition = "lt"
	CondGTE             Condition = "gte"
	CondLTE             Condition = "lte"
	CondEQ              Condition = "eq"
	CondNEQ             Condition = "neq"
	CondPctChangeAbove  Condition = "pct_change_above"
	CondPctChangeBelow  Condition = "pct_change_below"
)

type Aggregation string

const (
	AggSum Aggregation = "sum"
	AggAvg Aggregation = "avg"
	AggMin Aggregation = "min"
	AggMax Aggregation = "max"
	AggCnt Aggregation = "count"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// KPIThreshold is the current-state view of a versioned threshold rule.
type KPIThreshold struct {
	ID                string      `json:"id"`
	KPIName           string      `json:"kpiName"`
	Category          string      `json:"category"`
	Condition         Condition   `json:"condition"`
	ThresholdValue    float64     `json:"thresholdValue"`
	WarningThreshold  *float64    `json:"warningThreshold,omitempty"`
	CriticalThreshold *float64    `json:"criticalThreshold,omitempty"`
	Aggregation       Aggregation `json:"aggregation"`
	AggregationPeriod string      `json:"aggregationPeriod"`
	Severity          Severity    `json:"severity"`
	Enabled           bool        `json:"enabled"`
	CooldownMinutes   int         `json:"cooldownMinutes"`
	Channels          []string    `json:"channels"`
	Recipients        []string    `json:"recipients"`
	CurrentVersion    int         `json:"currentVersion"`
	LastAlertAt       *time.Time  `json:"lastAlertAt,omitempty"`
}

// KPIThresholdVersion is one immutable snapshot of a threshold's
// configuration. effectiveTo is nil for the current version.
type KPIThresholdVersion struct {
	ID            string       `json:"id"`
	ThresholdID   string       `json:"thresholdId"`
	Version       int          `json:"version"`
	IsCurrent     bool         `json:"isCurrent"`
	EffectiveFrom time.Time    `json:"effectiveFrom"`
	EffectiveTo   *time.Time   `json:"effectiveTo,omitempty"`
	Snapshot      KPIThreshold `json:"snapshot"`
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSnoozed      AlertStatus = "snoozed"
)

type NotificationRecord struct {
	Channel      string    `json:"channel"`
	Recipient    string    `json:"recipient"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	SentAt       time.Time `json:"sentAt"`
}

type KPIAlert struct {
	ID                string                 `json:"id"`
	ThresholdID       string                 `json:"thresholdId"`
	KPIName           string                 `json:"kpiName"`
	Severity          Severity               `json:"severity"`
	Status            AlertStatus            `json:"status"`
	CurrentValue      float64                `json:"currentValue"`
	ThresholdValue    float64                `json:"thresholdValue"`
	DeviationPercent  float64                `json:"deviationPercent"`
	Message           string                 `json:"message"`
	Context           map[string]interface{} `json:"context,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	AcknowledgedBy    *string                `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt    *time.Time             `json:"acknowledgedAt,omitempty"`
	ResolvedBy        *string                `json:"resolvedBy,omitempty"`
	ResolvedAt        *time.Time             `json:"resolvedAt,omitempty"`
	SnoozedUntil      *time.Time             `json:"snoozedUntil,omitempty"`
	NotificationsSent []NotificationRecord   `json:"notificationsSent,omitempty"`
	NotificationCount int                    `json:"notificationCount"`
}
