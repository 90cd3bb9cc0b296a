// Package alerting provides operator notification channels for the
// position bot.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for routine lifecycle notifications.
	SeverityInfo Severity = iota
	// SeverityWarning is for degraded conditions the loops recover from.
	SeverityWarning
	// SeverityCritical is for conditions requiring operator action.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity, message and
	// key/value fields.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key/value fields to a bullet list.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, fields[i+1])
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventPositionOpening is sent when an opening order is submitted.
	EventPositionOpening AlertEvent = "position_opening"
	// EventPositionClosing is sent when a stop trigger submits a closing order.
	EventPositionClosing AlertEvent = "position_closing"
	// EventPositionClosed is sent when a closing order fully fills.
	EventPositionClosed AlertEvent = "position_closed"
	// EventOrderCancelled is sent when an in-flight order cancels at the venue.
	EventOrderCancelled AlertEvent = "order_cancelled"
	// EventInFlightOverdue is sent when an order stays unfilled past the
	// configured maximum in-flight duration.
	EventInFlightOverdue AlertEvent = "inflight_overdue"
	// EventVenueUnavailable is sent when the exchange reports it is not
	// accepting trades.
	EventVenueUnavailable AlertEvent = "venue_unavailable"
	// EventRollback is sent when an operator rolls back an in-flight order.
	EventRollback AlertEvent = "rollback"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventVenueUnavailable:
		return SeverityCritical
	case EventInFlightOverdue, EventOrderCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
