// Package devserver is a local stand-in for the prediction backend. It
// serves the full console API surface with fixture data and a simulated
// training job, so the CLI and the workflow can be exercised end to end
// without the real agent stack.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"predictops/internal/domain"
	"predictops/internal/workflow"
)

// Config for the stand-in backend.
type Config struct {
	// JWTSecret enables bearer-token auth when non-empty.
	JWTSecret string
	// TrainDuration is how long the simulated training job runs.
	TrainDuration time.Duration
	Now           func() time.Time
}

// apiError models the backend's {"error": "..."} envelope.
type apiError struct {
	status  int
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, msg string) huma.StatusError {
	return &apiError{status: status, Message: msg}
}

// Server holds the fixture state behind the stand-in API.
type Server struct {
	cfg Config

	mu       sync.Mutex
	projects []domain.ProjectRecord
	uploaded map[string]string

	trainStart time.Time
	training   bool
	trained    bool
	deployed   bool
}

// New returns an HTTP handler exposing the stand-in backend API.
func New(cfg Config) http.Handler {
	if cfg.TrainDuration <= 0 {
		cfg.TrainDuration = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg}

	router := chi.NewRouter()
	if cfg.JWTSecret != "" {
		router.Use(newAuthMiddleware(cfg.JWTSecret))
	}

	hcfg := huma.DefaultConfig("Predictive Maintenance Backend (dev)", "0.1.0")
	hcfg.DocsPath = ""
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	api := humachi.New(router, hcfg)

	registerMachines(api, s)
	registerProjects(api, s)
	registerChat(api, s)
	registerTraining(api, s)
	registerLiveData(api, s)

	// Multipart upload bypasses huma; the form keys are the manifest keys.
	router.Post("/files/upload", s.handleUpload)

	return router
}

func (s *Server) now() time.Time { return s.cfg.Now() }

var machineCatalogue = []domain.Machine{
	{MachineID: "M001", Name: "Hydraulic Press 01"},
	{MachineID: "M002", Name: "CNC Lathe 02"},
	{MachineID: "M003", Name: "Conveyor Drive 03"},
}

var machineDefaults = map[string]domain.MachineDefaults{
	"M001": {
		MachineID: "M001", MachineName: "Hydraulic Press 01", MachineType: "press",
		AFR: "13.2", Current: "34.0", Pressure: "101325.0", RPM: "1200.0",
		Temperature: "72.5", VibrationMax: "0.42", Duration: "24",
	},
	"M002": {
		MachineID: "M002", MachineName: "CNC Lathe 02", MachineType: "lathe",
		AFR: "14.0", Current: "28.5", Pressure: "99800.0", RPM: "2400.0",
		Temperature: "65.0", VibrationMax: "0.31", Duration: "24",
	},
	"M003": {
		MachineID: "M003", MachineName: "Conveyor Drive 03", MachineType: "conveyor",
		AFR: "13.7", Current: "18.2", Pressure: "100500.0", RPM: "900.0",
		Temperature: "58.3", VibrationMax: "0.55", Duration: "24",
	},
}

func registerMachines(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "machine-list",
		Method:      http.MethodGet,
		Path:        "/api/machine_list",
		Summary:     "Machine catalogue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Machine `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Machine `json:"body"`
		}{Body: machineCatalogue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "machine-defaults",
		Method:      http.MethodGet,
		Path:        "/api/machine_defaults",
		Summary:     "Machine baseline parameters",
	}, func(ctx context.Context, input *struct {
		MachineID string `query:"machine_id"`
	}) (*struct {
		Body domain.MachineDefaults `json:"body"`
	}, error) {
		d, ok := machineDefaults[input.MachineID]
		if !ok {
			return nil, newAPIError(http.StatusNotFound, fmt.Sprintf("machine %s not found", input.MachineID))
		}
		return &struct {
			Body domain.MachineDefaults `json:"body"`
		}{Body: d}, nil
	})
}

func registerProjects(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "project-list",
		Method:      http.MethodGet,
		Path:        "/api/project_list",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ProjectRecord `json:"body"`
	}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := append([]domain.ProjectRecord(nil), s.projects...)
		return &struct {
			Body []domain.ProjectRecord `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/api/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.ProjectRecord `json:"body"`
	}) (*struct {
		Body domain.ProjectRecord `json:"body"`
	}, error) {
		name := strings.TrimSpace(input.Body.Name)
		if name == "" {
			return nil, newAPIError(http.StatusBadRequest, "project name is required")
		}
		rec := domain.ProjectRecord{ID: uuid.New().String(), Name: name}
		s.mu.Lock()
		s.projects = append(s.projects, rec)
		s.mu.Unlock()
		return &struct {
			Body domain.ProjectRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/api/projects",
		Summary:     "Delete project by name",
	}, func(ctx context.Context, input *struct {
		Name string `query:"name"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, rec := range s.projects {
			if rec.Name == input.Name {
				s.projects = append(s.projects[:i], s.projects[i+1:]...)
				return &struct {
					Body map[string]string `json:"body"`
				}{Body: map[string]string{"message": "deleted"}}, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, fmt.Sprintf("project %q not found", input.Name))
	})
}

func registerChat(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Conversational dispatch",
	}, func(ctx context.Context, input *struct {
		Body domain.ChatRequest `json:"body"`
	}) (*struct {
		Body json.RawMessage `json:"body"`
	}, error) {
		payload, err := s.dispatch(input.Body)
		if err != nil {
			return nil, err
		}
		raw, merr := json.Marshal(payload)
		if merr != nil {
			return nil, newAPIError(http.StatusInternalServerError, merr.Error())
		}
		return &struct {
			Body json.RawMessage `json:"body"`
		}{Body: raw}, nil
	})
}

// dispatch routes a chat request on its command sentinel; anything else is
// answered as free text.
func (s *Server) dispatch(req domain.ChatRequest) (any, error) {
	switch req.Message {
	case domain.MessageSystemHealth:
		return domain.HealthCheck{
			DataAgent:       "ok",
			PredictionAgent: "ok",
			SimulationAgent: "ok",
			OverallStatus:   "healthy",
			Timestamp:       s.now().UTC().Format(time.RFC3339),
			Version:         "0.1.0",
		}, nil
	case domain.MessagePredictFailure:
		if req.MachineID == "" {
			return nil, newAPIError(http.StatusBadRequest, "machine_id is required")
		}
		return predictionFor(req.MachineID), nil
	case domain.MessageSimulationRun:
		if req.MachineID == "" {
			return nil, newAPIError(http.StatusBadRequest, "machine_id is required")
		}
		if req.SimulationData == nil {
			return nil, newAPIError(http.StatusBadRequest, "simulation_data is required")
		}
		return simulate(req.MachineID, *req.SimulationData), nil
	default:
		return map[string]string{
			"response": "I can run simulations, predict failures, and report system health. Select a machine to get started.",
		}, nil
	}
}

func predictionFor(machineID string) domain.PredictionReport {
	report := domain.PredictionReport{MachineID: machineID}
	// M003 plays the degraded machine in the fixture set.
	if machineID == "M003" {
		report.FailurePredictions = []domain.FailurePrediction{
			{FailureType: "Bearing Failure", Probability: 0.27, RecommendedAction: "inspect_bearings"},
			{FailureType: "Belt Wear", Probability: 0.11, RecommendedAction: "replace_belt"},
		}
	}
	return report
}

// simulate derives a deterministic failure probability from how far the
// overridden parameters drift from baseline, scaled by duration.
func simulate(machineID string, data domain.SimulationData) domain.SimulationReport {
	drift := 0.0
	names := make([]string, 0, len(data.FixedParameters))
	for name := range data.FixedParameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		base := data.InitialValues[name]
		if base == 0 {
			continue
		}
		drift += math.Abs(data.FixedParameters[name]-base) / math.Abs(base)
	}
	prob := drift * (data.DurationHours / 24.0) * 0.5
	if prob > 0.95 {
		prob = 0.95
	}
	report := domain.SimulationReport{
		MachineID:                 machineID,
		DurationHours:             data.DurationHours,
		OverallFailureProbability: prob,
	}
	if prob < 0.05 {
		report.FailurePredictions = []domain.FailurePrediction{
			{FailureType: "Normal", Probability: 1 - prob},
		}
		report.RecommendedAction = "continue_monitoring"
		return report
	}
	report.FailurePredictions = []domain.FailurePrediction{
		{FailureType: "Overheating", Probability: prob},
		{FailureType: "Bearing Failure", Probability: prob * 0.6},
	}
	report.RecommendedAction = "schedule_maintenance"
	return report
}

func registerTraining(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "run-script",
		Method:      http.MethodPost,
		Path:        "/files/run-script",
		Summary:     "Run the training pipeline",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		s.mu.Lock()
		if len(s.uploaded) < len(workflow.RequiredFiles) {
			s.mu.Unlock()
			return nil, newAPIError(http.StatusBadRequest, "dataset upload incomplete")
		}
		if s.training {
			s.mu.Unlock()
			return nil, newAPIError(http.StatusConflict, "training already running")
		}
		s.training = true
		s.trained = false
		s.trainStart = s.now()
		dur := s.cfg.TrainDuration
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.training = false
			s.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(dur):
		}

		s.mu.Lock()
		s.training = false
		s.trained = true
		s.mu.Unlock()
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"stage": workflow.TrainingFinishedMarker}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "progress",
		Method:      http.MethodGet,
		Path:        "/files/progress",
		Summary:     "Training progress checkpoint",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.TrainingProgress `json:"body"`
	}, error) {
		return &struct {
			Body domain.TrainingProgress `json:"body"`
		}{Body: s.progress()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deploy-model",
		Method:      http.MethodPost,
		Path:        "/files/deploy-model",
		Summary:     "Deploy the trained model",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.trained {
			return nil, newAPIError(http.StatusBadRequest, "no trained model to deploy")
		}
		s.deployed = true
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"message": "model deployed"}}, nil
	})
}

var trainingSteps = []string{
	"Loading datasets",
	"Feature engineering",
	"Training model",
	"Validating model",
	"Finalizing",
}

func (s *Server) progress() domain.TrainingProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trained {
		return domain.TrainingProgress{Progress: 100, Step: "Completed"}
	}
	if !s.training {
		return domain.TrainingProgress{Progress: 0, Step: "Idle"}
	}
	frac := float64(s.now().Sub(s.trainStart)) / float64(s.cfg.TrainDuration)
	if frac > 0.99 {
		frac = 0.99
	}
	if frac < 0 {
		frac = 0
	}
	step := trainingSteps[int(frac*float64(len(trainingSteps)))]
	return domain.TrainingProgress{Progress: int(frac * 100), Step: step}
}

// handleUpload validates that every manifest key arrives with a file part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	received := make(map[string]string)
	for key := range workflow.RequiredFiles {
		parts := r.MultipartForm.File[key]
		if len(parts) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file part %q", key))
			return
		}
		received[key] = parts[0].Filename
	}
	s.mu.Lock()
	s.uploaded = received
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "upload complete"})
}

func registerLiveData(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "live-data",
		Method:      http.MethodGet,
		Path:        "/api/live_data",
		Summary:     "Live sensor readings",
	}, func(ctx context.Context, input *struct {
		MachineID string `query:"machine_id"`
	}) (*struct {
		Body []domain.SensorReading `json:"body"`
	}, error) {
		d, ok := machineDefaults[input.MachineID]
		if !ok {
			return nil, newAPIError(http.StatusNotFound, fmt.Sprintf("machine %s not found", input.MachineID))
		}
		return &struct {
			Body []domain.SensorReading `json:"body"`
		}{Body: s.readingsFor(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "failure-history",
		Method:      http.MethodGet,
		Path:        "/live-data/failures/{machine_id}",
		Summary:     "Failure history",
	}, func(ctx context.Context, input *struct {
		MachineID string `path:"machine_id"`
	}) (*struct {
		Body []domain.FailureRecord `json:"body"`
	}, error) {
		var out []domain.FailureRecord
		if input.MachineID == "M003" {
			out = []domain.FailureRecord{
				{MachineID: "M003", Timestamp: "2026-06-14T09:12:00Z", FailureType: "Bearing Failure"},
				{MachineID: "M003", Timestamp: "2026-03-02T17:40:00Z", FailureType: "Belt Wear"},
			}
		}
		return &struct {
			Body []domain.FailureRecord `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "maintenance-history",
		Method:      http.MethodGet,
		Path:        "/live-data/maintenance/{machine_id}",
		Summary:     "Maintenance history",
	}, func(ctx context.Context, input *struct {
		MachineID string `path:"machine_id"`
	}) (*struct {
		Body []domain.MaintenanceRecord `json:"body"`
	}, error) {
		var out []domain.MaintenanceRecord
		if input.MachineID == "M003" {
			out = []domain.MaintenanceRecord{
				{MachineID: "M003", Timestamp: "2026-06-15T08:00:00Z", MaintenanceAction: "replace_bearings"},
			}
		}
		return &struct {
			Body []domain.MaintenanceRecord `json:"body"`
		}{Body: out}, nil
	})
}

// readingsFor fabricates a short run of readings around the baseline.
func (s *Server) readingsFor(d domain.MachineDefaults) []domain.SensorReading {
	base := domain.SensorReading{
		MachineID:    d.MachineID,
		AFR:          parseOr(d.AFR, 14),
		Current:      parseOr(d.Current, 20),
		Pressure:     parseOr(d.Pressure, 101325),
		RPM:          parseOr(d.RPM, 1000),
		Temperature:  parseOr(d.Temperature, 60),
		VibrationMax: parseOr(d.VibrationMax, 0.4),
	}
	now := s.now().UTC()
	out := make([]domain.SensorReading, 0, 5)
	for i := 0; i < 5; i++ {
		r := base
		jitter := 1 + 0.01*float64(i%3-1)
		r.Timestamp = now.Add(-time.Duration(4-i) * time.Minute).Format(time.RFC3339)
		r.Temperature = base.Temperature * jitter
		r.VibrationMax = base.VibrationMax * jitter
		out = append(out, r)
	}
	return out
}

func parseOr(s string, fallback float64) float64 {
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return fallback
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
