package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/core"
)

// FileName is the report file inside a run directory.
const FileName = "report.json"

// NewIndex builds the report skeleton with every scenario pending.
func NewIndex(runID string, scenarios []string, device Device, app App, runner RunnerInfo) *Index {
	index := &Index{
		Version:   Version,
		RunID:     runID,
		Status:    core.StatusPending,
		Device:    device,
		App:       app,
		Runner:    runner,
		Scenarios: make([]ScenarioEntry, len(scenarios)),
	}
	for i, name := range scenarios {
		index.Scenarios[i] = ScenarioEntry{
			Index:  i,
			ID:     fmt.Sprintf("scenario-%03d", i),
			Name:   name,
			Status: core.StatusPending,
		}
	}
	return index
}

// IndexWriter provides thread-safe updates to the report index.
// Scenario goroutines can update the index concurrently; every update is
// written to disk before the call returns.
type IndexWriter struct {
	mu    sync.Mutex
	dir   string
	path  string
	index *Index
}

// NewIndexWriter creates the run directory and writes the skeleton.
func NewIndexWriter(dir string, index *Index) (*IndexWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	w := &IndexWriter{
		dir:   dir,
		path:  filepath.Join(dir, FileName),
		index: index,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w, w.flushLocked()
}

// Dir returns the run directory.
func (w *IndexWriter) Dir() string {
	return w.dir
}

// Path returns the report.json path.
func (w *IndexWriter) Path() string {
	return w.path
}

// Start marks the run as started.
func (w *IndexWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Status = core.StatusRunning
	w.index.StartTime = time.Now()
	return w.flushLocked()
}

// UpdateScenario applies an update to the scenario with the given ID.
func (w *IndexWriter) UpdateScenario(id string, update ScenarioUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.entry(id)
	if entry == nil {
		return fmt.Errorf("unknown scenario %q", id)
	}
	entry.Status = update.Status
	if update.SessionID != "" {
		entry.SessionID = update.SessionID
	}
	if update.StartTime != nil {
		entry.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		entry.EndTime = update.EndTime
	}
	if update.Duration != nil {
		entry.Duration = update.Duration
	}
	if update.Error != nil {
		entry.Error = update.Error
	}
	entry.Attachments = append(entry.Attachments, update.Attachments...)
	entry.UpdateSeq++
	return w.flushLocked()
}

// End marks the run as complete.
func (w *IndexWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()
	return w.flushLocked()
}

// Snapshot returns a copy of the current index.
func (w *IndexWriter) Snapshot() Index {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := *w.index
	snap.Scenarios = append([]ScenarioEntry(nil), w.index.Scenarios...)
	return snap
}

func (w *IndexWriter) entry(id string) *ScenarioEntry {
	for i := range w.index.Scenarios {
		if w.index.Scenarios[i].ID == id {
			return &w.index.Scenarios[i]
		}
	}
	return nil
}

// flushLocked writes the index while holding the lock.
func (w *IndexWriter) flushLocked() error {
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()
	return atomicWriteJSON(w.path, w.index)
}

// computeSummary calculates summary from scenario statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, sc := range w.index.Scenarios {
		s.Total++
		switch sc.Status {
		case core.StatusPassed:
			s.Passed++
		case core.StatusFailed:
			s.Failed++
		case core.StatusErrored:
			s.Errored++
		case core.StatusSkipped:
			s.Skipped++
		case core.StatusRunning:
			s.Running++
		case core.StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from scenarios.
// Any errored scenario makes the run errored, otherwise any failure fails it.
func (w *IndexWriter) computeRunStatus() core.StepStatus {
	status := core.StatusPassed
	for _, sc := range w.index.Scenarios {
		switch {
		case !sc.Status.IsTerminal():
			return core.StatusRunning
		case sc.Status == core.StatusErrored:
			status = core.StatusErrored
		case sc.Status == core.StatusFailed && status != core.StatusErrored:
			status = core.StatusFailed
		}
	}
	return status
}

// Read loads a report.json file.
func Read(path string) (*Index, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- report path chosen by the caller
	if err != nil {
		return nil, err
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &index, nil
}

// atomicWriteJSON writes v to a temp file next to path and renames it into
// place so readers never see a partial report.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
