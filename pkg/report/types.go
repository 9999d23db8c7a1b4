// Package report provides the JSON run report.
//
// Layout of a run directory:
//   - report.json: run index, rewritten atomically on every update
//   - screenshots/<scenario>.png: screenshots captured by the artifact policy
//   - hierarchy/<scenario>.xml: page sources captured by the artifact policy
//
// report.json is the single source of truth for scenario status.
package report

import (
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the report file of one run on one platform.
type Index struct {
	Version     string          `json:"version"`
	RunID       string          `json:"runId"`
	UpdateSeq   uint64          `json:"updateSeq"`
	Status      core.StepStatus `json:"status"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Device      Device          `json:"device"`
	App         App             `json:"app"`
	Runner      RunnerInfo      `json:"runner"`
	Summary     Summary         `json:"summary"`
	Scenarios   []ScenarioEntry `json:"scenarios"`
}

// Device contains device information.
type Device struct {
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform"` // ios, android
}

// App contains application information.
type App struct {
	ID   string `json:"id,omitempty"` // Bundle ID or package name
	Path string `json:"path,omitempty"`
}

// RunnerInfo contains screen-runner information.
type RunnerInfo struct {
	Version string `json:"version"`
	Server  string `json:"server"` // Appium server URL
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// ScenarioEntry is the index entry for a scenario.
type ScenarioEntry struct {
	Index       int               `json:"index"` // Original position
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      core.StepStatus   `json:"status"`
	SessionID   string            `json:"sessionId,omitempty"`
	UpdateSeq   uint64            `json:"updateSeq"`
	StartTime   *time.Time        `json:"startTime,omitempty"`
	EndTime     *time.Time        `json:"endTime,omitempty"`
	Duration    *int64            `json:"duration,omitempty"` // milliseconds
	Error       *Error            `json:"error,omitempty"`
	Attachments []core.Attachment `json:"attachments,omitempty"`
}

// Error contains error details.
type Error struct {
	Category string `json:"category"` // assertion, timeout, connection, app, config, unknown
	Message  string `json:"message"`
}

// NewError converts a scenario error for the report. Nil stays nil.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	category := core.CategoryOf(err).String()
	if category == core.ErrCategoryNone.String() {
		category = "unknown"
	}
	return &Error{Category: category, Message: err.Error()}
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// ScenarioUpdate contains the fields to update in the index for a scenario.
type ScenarioUpdate struct {
	Status      core.StepStatus
	SessionID   string
	StartTime   *time.Time
	EndTime     *time.Time
	Duration    *int64
	Error       *Error
	Attachments []core.Attachment
}
