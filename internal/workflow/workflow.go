// Package workflow implements the upload/train/deploy state machine for a
// project: dataset validation and upload, asynchronous training with progress
// polling, and gated model deployment.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"predictops/internal/api"
	"predictops/internal/domain"
	"predictops/internal/store"
)

// RequiredFiles maps the backend's logical multipart keys to the dataset
// filenames it expects. Matching is by filename only, case-insensitive.
var RequiredFiles = map[string]string{
	"1": "equipment_usage.csv",
	"2": "failure_logs.csv",
	"3": "maintenance_history.csv",
	"4": "sensor_data.csv",
}

// TrainingFinishedMarker is the stage result the training call must report
// for the attempt to count as successful.
const TrainingFinishedMarker = "--- Stage 2 Finished ---"

var (
	ErrFilesMissing       = errors.New("required files missing")
	ErrPhaseActive        = errors.New("another phase is active")
	ErrUploadRequired     = errors.New("upload must complete before training")
	ErrTrainingActive     = errors.New("training already running")
	ErrTrainingIncomplete = errors.New("training must complete before deploy")
	ErrTrainingFailed     = errors.New("training failed")
	ErrEmptyTraining      = errors.New("training response is empty")
)

// Phase gates which stage's controls are live. At most one phase is active
// at a time.
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseUpload Phase = "upload"
	PhaseTrain  Phase = "train"
	PhaseDeploy Phase = "deploy"
)

// Backend is the subset of the API client the workflow drives.
type Backend interface {
	UploadFiles(ctx context.Context, parts map[string]api.NamedFile) error
	StartTraining(ctx context.Context) (map[string]string, error)
	Progress(ctx context.Context) (domain.TrainingProgress, error)
	DeployModel(ctx context.Context) error
}

// Status is a point-in-time snapshot of the workflow state.
type Status struct {
	Phase         Phase
	SelectedFiles []string
	MissingFiles  []string
	Uploading     bool
	UploadDone    bool
	UploadError   string
	Training      bool
	TrainingDone  bool
	MarkerSeen    bool
	Progress      int
	Checkpoint    string
	PollError     string
	Deploying     bool
	DeployMessage string
	DeployError   string
}

// Workflow owns the per-project phase state machine. All methods are safe
// for concurrent use; the progress poller runs on its own goroutine and is
// torn down by completion, failure, or Close.
type Workflow struct {
	mu      sync.Mutex
	backend Backend

	projectID string
	events    *store.Writer

	pollInterval time.Duration
	status       Status

	cancelPoll context.CancelFunc
	pollDone   chan struct{}
}

type Option func(*Workflow)

// WithEvents attaches an audit event writer.
func WithEvents(w *store.Writer, projectID string) Option {
	return func(wf *Workflow) {
		wf.events = w
		wf.projectID = projectID
	}
}

// WithPollInterval overrides the default 10s progress poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(wf *Workflow) { wf.pollInterval = d }
}

func New(backend Backend, opts ...Option) *Workflow {
	wf := &Workflow{
		backend:      backend,
		pollInterval: 10 * time.Second,
		status:       Status{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(wf)
	}
	return wf
}

// Status returns a copy of the current state.
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.SelectedFiles = append([]string(nil), w.status.SelectedFiles...)
	s.MissingFiles = append([]string(nil), w.status.MissingFiles...)
	return s
}

// SelectFiles replaces the selection buffer wholesale and clears any prior
// upload result so a fresh drop always starts clean.
func (w *Workflow) SelectFiles(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.SelectedFiles = append([]string(nil), paths...)
	w.status.MissingFiles = nil
	w.status.UploadError = ""
	w.status.UploadDone = false
}

// MissingRequired returns the required filenames absent from names, ordered
// by the manifest's logical keys. Matching ignores case and directories.
func MissingRequired(names []string) []string {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[strings.ToLower(filepath.Base(n))] = true
	}
	keys := make([]string, 0, len(RequiredFiles))
	for k := range RequiredFiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var missing []string
	for _, k := range keys {
		if !have[strings.ToLower(RequiredFiles[k])] {
			missing = append(missing, RequiredFiles[k])
		}
	}
	return missing
}

// Upload validates the selection against the manifest and posts the files.
// A failed upload keeps the selection so the same files can be retried.
func (w *Workflow) Upload(ctx context.Context) error {
	w.mu.Lock()
	if w.status.Phase != PhaseIdle {
		w.mu.Unlock()
		return ErrPhaseActive
	}
	files := append([]string(nil), w.status.SelectedFiles...)
	missing := MissingRequired(files)
	if len(missing) > 0 {
		w.status.MissingFiles = missing
		w.status.UploadError = "missing required files: " + strings.Join(missing, ", ")
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFilesMissing, strings.Join(missing, ", "))
	}
	w.status.Phase = PhaseUpload
	w.status.Uploading = true
	w.status.MissingFiles = nil
	w.status.UploadError = ""
	w.mu.Unlock()

	err := w.postFiles(ctx, files)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Uploading = false
	w.status.Phase = PhaseIdle
	if err != nil {
		w.status.UploadError = err.Error()
		w.record(ctx, "upload.failed", store.EventPayload{"error": err.Error()})
		return fmt.Errorf("upload files: %w", err)
	}
	w.status.UploadDone = true
	w.status.SelectedFiles = nil
	w.record(ctx, "upload.completed", store.EventPayload{"files": len(files)})
	return nil
}

func (w *Workflow) postFiles(ctx context.Context, files []string) error {
	parts := make(map[string]api.NamedFile, len(RequiredFiles))
	var closers []*os.File
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()
	for key, required := range RequiredFiles {
		var path string
		for _, candidate := range files {
			if strings.EqualFold(filepath.Base(candidate), required) {
				path = candidate
				break
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		closers = append(closers, f)
		parts[key] = api.NamedFile{Name: required, Reader: f}
	}
	return w.backend.UploadFiles(ctx, parts)
}

// StartTraining kicks off the remote training job and the progress poller.
// The returned channel receives the terminal outcome exactly once. The
// long-running training call and the poller race; whichever observes
// completion first stops the other.
func (w *Workflow) StartTraining(ctx context.Context) (<-chan error, error) {
	w.mu.Lock()
	if !w.status.UploadDone {
		w.mu.Unlock()
		return nil, ErrUploadRequired
	}
	if w.status.Phase != PhaseIdle {
		w.mu.Unlock()
		return nil, ErrPhaseActive
	}
	if w.status.Training {
		w.mu.Unlock()
		return nil, ErrTrainingActive
	}
	w.status.Phase = PhaseTrain
	w.status.Training = true
	w.status.TrainingDone = false
	w.status.MarkerSeen = false
	w.status.Progress = 0
	w.status.Checkpoint = ""
	w.status.PollError = ""

	pollCtx, cancel := context.WithCancel(ctx)
	w.cancelPoll = cancel
	w.pollDone = make(chan struct{})
	w.record(ctx, "training.started", nil)
	w.mu.Unlock()

	// Seed one progress fetch so the UI has a checkpoint before the first
	// tick.
	if p, err := w.backend.Progress(ctx); err == nil {
		w.applyProgress(p)
	}

	go w.poll(pollCtx)

	done := make(chan error, 1)
	go func() {
		res, err := w.backend.StartTraining(ctx)
		done <- w.finishTraining(ctx, res, err)
	}()
	return done, nil
}

func (w *Workflow) poll(ctx context.Context) {
	defer close(w.pollDone)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := w.backend.Progress(ctx)
			if err != nil {
				// Transient poll failures surface on the status but do not
				// stop the loop; only completion or a hard training failure
				// does.
				w.mu.Lock()
				w.status.PollError = err.Error()
				w.mu.Unlock()
				continue
			}
			if w.applyProgress(p) {
				return
			}
		}
	}
}

// applyProgress folds one poll result into the status, discarding stale
// responses so displayed progress never regresses. It reports whether the
// poller should stop.
func (w *Workflow) applyProgress(p domain.TrainingProgress) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.status.Training {
		return true
	}
	if p.Progress < w.status.Progress {
		return false
	}
	w.status.Progress = p.Progress
	w.status.Checkpoint = p.Step
	w.status.PollError = ""
	return p.Progress >= 100
}

// finishTraining settles the attempt from the long-running call's result.
// The completion marker must be present; anything else fails the attempt
// and reverts the phase so training can be retried.
func (w *Workflow) finishTraining(ctx context.Context, res map[string]string, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelPoll != nil {
		w.cancelPoll()
		w.cancelPoll = nil
	}
	w.status.Training = false
	if err == nil {
		if len(res) == 0 {
			err = ErrEmptyTraining
		} else {
			marker := false
			for _, v := range res {
				if v == TrainingFinishedMarker {
					marker = true
					break
				}
			}
			if !marker {
				err = fmt.Errorf("%w: completion marker not reported", ErrTrainingFailed)
			}
		}
	}
	if err != nil {
		w.status.Phase = PhaseIdle
		w.status.Checkpoint = "Training error"
		w.record(ctx, "training.failed", store.EventPayload{"error": err.Error()})
		return err
	}
	w.status.Progress = 100
	w.status.Checkpoint = "Model training completed."
	w.status.TrainingDone = true
	w.status.MarkerSeen = true
	w.status.Phase = PhaseDeploy
	w.record(ctx, "training.completed", nil)
	return nil
}

// Deploy ships the trained model. It is rejected until training reached
// 100% and the completion marker was observed.
func (w *Workflow) Deploy(ctx context.Context) error {
	w.mu.Lock()
	if !w.status.TrainingDone || !w.status.MarkerSeen || w.status.Progress < 100 {
		w.mu.Unlock()
		return ErrTrainingIncomplete
	}
	if w.status.Deploying {
		w.mu.Unlock()
		return ErrPhaseActive
	}
	w.status.Deploying = true
	w.status.DeployMessage = ""
	w.status.DeployError = ""
	w.mu.Unlock()

	err := w.backend.DeployModel(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Deploying = false
	if err != nil {
		w.status.DeployError = err.Error()
		w.record(ctx, "deploy.failed", store.EventPayload{"error": err.Error()})
		return fmt.Errorf("deploy model: %w", err)
	}
	w.status.DeployMessage = "Deployment successful."
	w.status.Phase = PhaseIdle
	w.record(ctx, "deploy.completed", nil)
	return nil
}

// Close tears down any live poller. Safe to call more than once.
func (w *Workflow) Close() {
	w.mu.Lock()
	cancel := w.cancelPoll
	done := w.pollDone
	w.cancelPoll = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (w *Workflow) record(ctx context.Context, evtType string, payload store.EventPayload) {
	if w.events == nil {
		return
	}
	// Audit writes are best-effort; a logging failure never fails the
	// operation itself.
	_ = w.events.Record(context.WithoutCancel(ctx), evtType, w.projectID, payload)
}
