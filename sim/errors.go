package sim

import (
	"fmt"
	"time"
)

// ScheduleGapError reports a schedule lookup that matched no segment.
// It indicates malformed configuration and is never retried.
type ScheduleGapError struct {
	Schedule  string
	TimeOfDay time.Duration
}

func (e *ScheduleGapError) Error() string {
	return fmt.Sprintf("schedule %q: no segment covers %s", e.Schedule, formatTimeOfDay(e.TimeOfDay))
}

// InvalidCommandError reports a pump command that violates device-state rules.
type InvalidCommandError struct {
	Time            time.Time
	Command         string
	Rate            float64
	DurationMinutes float64
	Reason          string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("pump command %s(rate=%g, duration=%gmin) at %s: %s",
		e.Command, e.Rate, e.DurationMinutes, e.Time.Format(time.RFC3339), e.Reason)
}

// ControllerOutputError reports a decision record with a missing key or an
// unexpected value shape.
type ControllerOutputError struct {
	Time       time.Time
	Controller string
	Key        string
	Reason     string
}

func (e *ControllerOutputError) Error() string {
	return fmt.Sprintf("controller %q at %s: recommendation key %q: %s",
		e.Controller, e.Time.Format(time.RFC3339), e.Key, e.Reason)
}

// ConfigurationError reports a missing or invalid collaborator at construction.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Component, e.Reason)
}

func formatTimeOfDay(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
