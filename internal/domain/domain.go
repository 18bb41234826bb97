package domain

import "time"

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ProjectRecord is the backend's project shape. The name travels under the
// literal "project name" key.
type ProjectRecord struct {
	ID   string `json:"id"`
	Name string `json:"project name"`
}

type Machine struct {
	MachineID string `json:"machine_id"`
	Name      string `json:"name"`
}

// MachineDefaults carries a machine's baseline operating parameters. The
// backend transmits every numeric field as a string; they are normalized to
// numbers only when a simulation payload is built.
type MachineDefaults struct {
	MachineID    string `json:"machine_id"`
	MachineName  string `json:"machine_name"`
	MachineType  string `json:"machine_type"`
	AFR          string `json:"afr"`
	Current      string `json:"current"`
	Pressure     string `json:"pressure"`
	RPM          string `json:"rpm"`
	Temperature  string `json:"temperature"`
	VibrationMax string `json:"vibration_max"`
	Duration     string `json:"duration"`
}

// ParameterNames lists the tunable simulation fields in display order.
var ParameterNames = []string{"afr", "current", "pressure", "rpm", "temperature", "vibration_max"}

// Parameters returns the tunable fields keyed by wire name. Duration is not
// included; it is sent separately as duration_hours.
func (m MachineDefaults) Parameters() map[string]string {
	return map[string]string{
		"afr":           m.AFR,
		"current":       m.Current,
		"pressure":      m.Pressure,
		"rpm":           m.RPM,
		"temperature":   m.Temperature,
		"vibration_max": m.VibrationMax,
	}
}

// SetParameter replaces a single field, leaving the rest untouched.
func (m *MachineDefaults) SetParameter(name, value string) bool {
	switch name {
	case "afr":
		m.AFR = value
	case "current":
		m.Current = value
	case "pressure":
		m.Pressure = value
	case "rpm":
		m.RPM = value
	case "temperature":
		m.Temperature = value
	case "vibration_max":
		m.VibrationMax = value
	case "duration":
		m.Duration = value
	default:
		return false
	}
	return true
}

// ChatRequest is the shared conversational request shape for free text and
// the structured commands.
type ChatRequest struct {
	Message        string          `json:"message"`
	MachineID      string          `json:"machine_id,omitempty"`
	SimulationData *SimulationData `json:"simulation_data,omitempty"`
}

// Structured command sentinels recognized by the agent backend.
const (
	MessageSimulationRun  = "__simulation_run"
	MessagePredictFailure = "__predict_failure"
	MessageSystemHealth   = "__system_health"
)

// SimulationData is the payload attached to a __simulation_run dispatch.
// InitialValues holds the full numeric baseline; FixedParameters only the
// fields the user overrode.
type SimulationData struct {
	InitialValues   map[string]float64 `json:"initial_values"`
	FixedParameters map[string]float64 `json:"fixed_parameters"`
	DurationHours   float64            `json:"duration_hours"`
}

type HealthCheck struct {
	DataAgent       string `json:"data_agent"`
	PredictionAgent string `json:"prediction_agent"`
	SimulationAgent string `json:"simulation_agent"`
	OverallStatus   string `json:"overall_status"`
	Timestamp       string `json:"timestamp"`
	Version         string `json:"version"`
}

type FailurePrediction struct {
	FailureType       string  `json:"failure_type"`
	Probability       float64 `json:"probability"`
	RecommendedAction string  `json:"recommended_action"`
}

type PredictionReport struct {
	MachineID          string              `json:"machine_id"`
	FailurePredictions []FailurePrediction `json:"failure_predictions"`
}

type SimulationReport struct {
	MachineID                 string              `json:"machine_id"`
	DurationHours             float64             `json:"duration_hours"`
	OverallFailureProbability float64             `json:"overall_failure_probability"`
	FailurePredictions        []FailurePrediction `json:"failure_predictions"`
	RecommendedAction         string              `json:"recommended_action"`
}

type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// PayloadKind discriminates the message payload union.
type PayloadKind string

const (
	KindText       PayloadKind = "text"
	KindHealth     PayloadKind = "health_check"
	KindPrediction PayloadKind = "prediction_check"
	KindSimulation PayloadKind = "simulation_check"
)

// Message is one transcript entry. Exactly one payload field matching Kind
// is set. Revealed is a cosmetic two-phase visibility flag and never gates
// transcript correctness.
type Message struct {
	ID         string            `json:"id"`
	Sender     Sender            `json:"sender"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       PayloadKind       `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Health     *HealthCheck      `json:"health,omitempty"`
	Prediction *PredictionReport `json:"prediction,omitempty"`
	Simulation *SimulationReport `json:"simulation,omitempty"`
	Revealed   bool              `json:"revealed"`
}

type TrainingProgress struct {
	Progress int    `json:"progress"`
	Step     string `json:"step"`
}

type SensorReading struct {
	MachineID    string  `json:"Machine_ID"`
	Timestamp    string  `json:"Timestamp"`
	AFR          float64 `json:"AFR"`
	Current      float64 `json:"Current"`
	Pressure     float64 `json:"Pressure"`
	RPM          float64 `json:"RPM"`
	Temperature  float64 `json:"Temperature"`
	VibrationMax float64 `json:"Vibration_Max"`
}

type FailureRecord struct {
	MachineID   string `json:"Machine_ID"`
	Timestamp   string `json:"Timestamp"`
	FailureType string `json:"Failure_Type"`
}

type MaintenanceRecord struct {
	MachineID         string `json:"Machine_ID"`
	Timestamp         string `json:"Timestamp"`
	MaintenanceAction string `json:"Maintenance_Action"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	Payload   string `json:"payload_json"`
}
