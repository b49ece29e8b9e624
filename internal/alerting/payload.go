package alerting

import (
	"fmt"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
)

const (
	// PayloadEvent sends the alert event fields as they are.
	PayloadEvent = "event"
	// PayloadCustom wraps message and timestamp in a custom intrusion_alert envelope.
	PayloadCustom = "custom"
)

const customType = "intrusion_alert"

// PayloadFunc renders an AlertEvent into the structured map sent over the call.
type PayloadFunc func(event models.AlertEvent) map[string]any

// NewPayload returns the payload renderer for the given format.
func NewPayload(format string) (PayloadFunc, error) {
	switch format {
	case "", PayloadEvent:
		return EventPayload, nil
	case PayloadCustom:
		return CustomPayload, nil
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
}

// EventPayload renders the alert event fields with the timestamp in unix seconds.
func EventPayload(event models.AlertEvent) map[string]any {
	return map[string]any{
		"trigger":   event.Trigger,
		"message":   event.Message,
		"count":     event.Count,
		"timestamp": unixSeconds(event),
		"alert_id":  event.ID,
	}
}

// CustomPayload wraps message and timestamp in the intrusion_alert custom event.
func CustomPayload(event models.AlertEvent) map[string]any {
	return map[string]any{
		"type":        "custom",
		"custom_type": customType,
		"data": map[string]any{
			"message":   event.Message,
			"timestamp": unixSeconds(event),
		},
	}
}

func unixSeconds(event models.AlertEvent) float64 {
	return float64(event.Timestamp.UnixNano()) / 1e9
}
