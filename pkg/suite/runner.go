package suite

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/drivers"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
	"github.com/devicelab-dev/screen-runner/pkg/report"
	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
)

// cleanupTimeout bounds artifact capture and session teardown, which run
// even when the run context was cancelled.
const cleanupTimeout = 30 * time.Second

// SessionFactory opens remote sessions. *drivers.Factory implements it.
type SessionFactory interface {
	NewSession(ctx context.Context, platform string) (*drivers.Session, error)
}

var _ SessionFactory = (*drivers.Factory)(nil)

// Config configures the scenario runner.
type Config struct {
	OutputDir   string // Report root; the run writes to <OutputDir>/<RunID>
	RunID       string // Generated when empty
	Platform    string
	Device      string // Reported device name
	App         string // Reported app path
	Server      string // Reported Appium server URL
	Version     string // Reported runner version
	Parallelism int    // Max concurrent scenarios (<= 1 = sequential)
	StopOnFail  bool   // Skip remaining scenarios after the first failure
	Artifacts   core.ArtifactConfig
	Registry    *locators.Registry // nil = locators.Default()

	// Prepare adjusts each screen before its scenario runs.
	Prepare func(m *mainscreen.MainScreen)

	// Live progress callbacks
	OnScenarioStart func(name string)
	OnScenarioEnd   func(result ScenarioResult)
}

// ScenarioResult contains the outcome of a single scenario.
type ScenarioResult struct {
	ID          string
	Name        string
	Status      core.StepStatus
	SessionID   string
	Duration    time.Duration
	Err         error
	Attachments []core.Attachment
}

// RunResult contains the outcome of a run on one platform.
type RunResult struct {
	RunID      string
	Platform   string
	Dir        string // Run directory holding report.json and artifacts
	Status     core.StepStatus
	Total      int
	Passed     int
	Failed     int
	Errored    int
	Skipped    int
	Duration   time.Duration // Wall clock
	Scenarios  []ScenarioResult
	ReportPath string
}

// OK reports whether no scenario failed or errored.
func (r *RunResult) OK() bool {
	return r.Failed == 0 && r.Errored == 0
}

// Runner executes scenarios, one fresh session each.
type Runner struct {
	factory SessionFactory
	config  Config
}

// NewRunner creates a Runner.
func NewRunner(factory SessionFactory, cfg Config) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Registry == nil {
		cfg.Registry = locators.Default()
	}
	return &Runner{factory: factory, config: cfg}
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.config.RunID
}

// Run executes all scenarios and writes report.json.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) (*RunResult, error) {
	dir := filepath.Join(r.config.OutputDir, r.config.RunID)
	index := report.NewIndex(r.config.RunID, Names(scenarios),
		report.Device{Platform: string(drivers.ParsePlatform(r.config.Platform)), Name: r.config.Device},
		report.App{Path: r.config.App},
		report.RunnerInfo{Version: r.config.Version, Server: r.config.Server},
	)
	writer, err := report.NewIndexWriter(dir, index)
	if err != nil {
		return nil, err
	}
	if err := writer.Start(); err != nil {
		return nil, err
	}

	logger.Info("Run %s started: %d scenarios on %s", r.config.RunID, len(scenarios), index.Device.Platform)
	start := time.Now()
	results := r.executeScenarios(ctx, scenarios, writer)
	wallClock := time.Since(start)

	if err := writer.End(); err != nil {
		return nil, err
	}

	result := r.buildRunResult(results, wallClock)
	result.Dir = dir
	result.ReportPath = writer.Path()
	logger.Info("Run %s finished: %s (%d passed, %d failed, %d errored, %d skipped)",
		result.RunID, result.Status, result.Passed, result.Failed, result.Errored, result.Skipped)
	return result, nil
}

// executeScenarios runs scenarios sequentially or with bounded parallelism.
func (r *Runner) executeScenarios(ctx context.Context, scenarios []Scenario, writer *report.IndexWriter) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	entries := writer.Snapshot().Scenarios

	var stopAll atomic.Bool
	var g errgroup.Group
	g.SetLimit(max(r.config.Parallelism, 1))

	for i := range scenarios {
		g.Go(func() error {
			id := entries[i].ID
			if reason := r.skipReason(ctx, &stopAll); reason != "" {
				results[i] = r.skipScenario(id, scenarios[i].Name, reason, writer)
				return nil
			}

			results[i] = r.executeScenario(ctx, id, scenarios[i], writer)
			if r.config.StopOnFail && !results[i].Status.IsSuccess() {
				stopAll.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) skipReason(ctx context.Context, stopAll *atomic.Bool) string {
	if ctx.Err() != nil {
		return "run cancelled"
	}
	if stopAll.Load() {
		return "run stopped"
	}
	return ""
}

func (r *Runner) skipScenario(id, name, reason string, writer *report.IndexWriter) ScenarioResult {
	logger.Info("Scenario %s skipped: %s", name, reason)
	result := ScenarioResult{ID: id, Name: name, Status: core.StatusSkipped, Err: errors.New(reason)}
	if err := writer.UpdateScenario(id, report.ScenarioUpdate{
		Status: core.StatusSkipped,
		Error:  &report.Error{Category: "skipped", Message: reason},
	}); err != nil {
		logger.Warn("Failed to update report for %s: %v", name, err)
	}
	r.notifyEnd(result)
	return result
}

// executeScenario opens a session, runs the scenario, captures artifacts
// and quits the session.
func (r *Runner) executeScenario(ctx context.Context, id string, sc Scenario, writer *report.IndexWriter) ScenarioResult {
	start := time.Now()
	result := ScenarioResult{ID: id, Name: sc.Name}
	if r.config.OnScenarioStart != nil {
		r.config.OnScenarioStart(sc.Name)
	}
	logger.Info("Scenario %s started", sc.Name)
	r.update(id, sc.Name, report.ScenarioUpdate{Status: core.StatusRunning, StartTime: &start}, writer)

	session, err := r.factory.NewSession(ctx, r.config.Platform)
	if err == nil {
		result.SessionID = session.Info.SessionID
		err = r.runScenario(ctx, sc, session)
		result.Attachments = r.capture(ctx, session, sc.Name, core.StatusFromError(err), writer.Dir())

		quitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if qerr := session.Quit(quitCtx); qerr != nil {
			logger.Warn("Failed to quit session %s: %v", result.SessionID, qerr)
		}
		cancel()
	}

	end := time.Now()
	result.Err = err
	result.Status = core.StatusFromError(err)
	result.Duration = end.Sub(start)
	if err != nil {
		logger.Error("Scenario %s %s: %v", sc.Name, result.Status, err)
	} else {
		logger.Info("Scenario %s passed in %s", sc.Name, result.Duration)
	}

	ms := result.Duration.Milliseconds()
	r.update(id, sc.Name, report.ScenarioUpdate{
		Status:      result.Status,
		SessionID:   result.SessionID,
		EndTime:     &end,
		Duration:    &ms,
		Error:       report.NewError(err),
		Attachments: result.Attachments,
	}, writer)
	r.notifyEnd(result)
	return result
}

func (r *Runner) runScenario(ctx context.Context, sc Scenario, session *drivers.Session) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewExecutionError(core.ErrCategoryApp, "SCENARIO_PANIC", "scenario panicked").
				WithDetails(map[string]interface{}{"panic": rec})
		}
	}()

	m := mainscreen.New(session, r.config.Registry)
	if r.config.Prepare != nil {
		r.config.Prepare(m)
	}
	return sc.Run(ctx, m)
}

// capture saves the artifacts the policy asks for. Capture errors are
// logged and never change the scenario outcome.
func (r *Runner) capture(ctx context.Context, collector core.ArtifactCollector, name string, status core.StepStatus, dir string) []core.Attachment {
	if !r.config.Artifacts.ShouldCapture(status) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var attachments []core.Attachment
	save := func(a core.Attachment) {
		if err := report.SaveAttachment(dir, a); err != nil {
			logger.Warn("Failed to save %s for %s: %v", a.Name, name, err)
			return
		}
		a.Body = nil
		attachments = append(attachments, a)
	}

	if r.config.Artifacts.Screenshot {
		if data, err := collector.Screenshot(ctx); err != nil {
			logger.Warn("Failed to take screenshot for %s: %v", name, err)
		} else {
			save(core.NewScreenshotAttachment(report.ScreenshotPath(name), data))
		}
	}
	if r.config.Artifacts.PageSource {
		if src, err := collector.Source(ctx); err != nil {
			logger.Warn("Failed to capture page source for %s: %v", name, err)
		} else {
			save(core.NewHierarchyAttachment(report.HierarchyPath(name), []byte(src)))
		}
	}
	return attachments
}

func (r *Runner) update(id, name string, update report.ScenarioUpdate, writer *report.IndexWriter) {
	if err := writer.UpdateScenario(id, update); err != nil {
		logger.Warn("Failed to update report for %s: %v", name, err)
	}
}

func (r *Runner) notifyEnd(result ScenarioResult) {
	if r.config.OnScenarioEnd != nil {
		r.config.OnScenarioEnd(result)
	}
}

// buildRunResult aggregates scenario results into a run result.
func (r *Runner) buildRunResult(results []ScenarioResult, wallClock time.Duration) *RunResult {
	result := &RunResult{
		RunID:     r.config.RunID,
		Platform:  string(drivers.ParsePlatform(r.config.Platform)),
		Total:     len(results),
		Duration:  wallClock,
		Scenarios: results,
		Status:    core.StatusPassed,
	}

	for _, sr := range results {
		switch sr.Status {
		case core.StatusPassed:
			result.Passed++
		case core.StatusFailed:
			result.Failed++
		case core.StatusErrored:
			result.Errored++
		case core.StatusSkipped:
			result.Skipped++
		}
	}

	switch {
	case result.Errored > 0:
		result.Status = core.StatusErrored
	case result.Failed > 0:
		result.Status = core.StatusFailed
	}
	return result
}
