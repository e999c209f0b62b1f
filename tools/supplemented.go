package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/types"
)

// SupplementedRegistrations returns the scheduling tools recovered from
// original_source (look_up_availability / confirm_appointment) but not
// present in spec.md's distillation. They are registered per-config, not
// built in, and return canned structured results matching the original's
// TODO-marked placeholders (SPEC_FULL.md §4.5) — their purpose here is to
// exercise the schema-validation and tool-result round-trip path, not to
// model a real scheduling backend.
func SupplementedRegistrations(logger *zap.Logger) []Registration {
	return []Registration{
		lookUpAvailabilityTool(logger),
		confirmAppointmentTool(logger),
	}
}

type availabilityArgs struct {
	Date string `json:"date"`
}

func lookUpAvailabilityTool(logger *zap.Logger) Registration {
	spec := types.ToolSpec{
		Name:        "lookUpAvailability",
		Description: "Look up available appointment slots for a given date.",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"date": {"type": "string", "description": "Date to check, e.g. 2026-08-10"}},
			"required": ["date"]
		}`),
	}
	return Registration{
		Spec: spec,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var a availabilityArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if a.Date == "" {
				return nil, fmt.Errorf("date is required")
			}
			logger.Info("availability lookup requested", zap.String("date", a.Date))
			return textResult(fmt.Sprintf(
				"I found several available slots on %s: 9:00 AM, 2:00 PM, and 4:30 PM", a.Date,
			)), nil
		},
	}
}

type confirmAppointmentArgs struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func confirmAppointmentTool(logger *zap.Logger) Registration {
	spec := types.ToolSpec{
		Name:        "confirmAppointment",
		Description: "Confirm an appointment for a given date and time.",
		ParameterSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date": {"type": "string"},
				"time": {"type": "string"}
			},
			"required": ["date", "time"]
		}`),
	}
	return Registration{
		Spec: spec,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var a confirmAppointmentArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if a.Date == "" || a.Time == "" {
				return nil, fmt.Errorf("date and time are required")
			}
			logger.Info("appointment confirmation requested", zap.String("date", a.Date), zap.String("time", a.Time))
			return textResult(fmt.Sprintf(
				"Perfect! I've confirmed your appointment for %s at %s. You should receive a confirmation email shortly.",
				a.Date, a.Time,
			)), nil
		},
	}
}
