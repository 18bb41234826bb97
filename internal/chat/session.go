// Package chat implements the agent conversation: an append-only transcript,
// free-text dispatch, and the structured simulation, prediction, and health
// commands with typed response payloads.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"predictops/internal/domain"
)

// Backend is the subset of the API client the session drives.
type Backend interface {
	Chat(ctx context.Context, req domain.ChatRequest, out any) error
	MachineDefaults(ctx context.Context, machineID string) (domain.MachineDefaults, error)
}

const welcomeMessage = "Hello! How can I help you today?"

// Session mediates one conversation with the agent backend. All methods are
// safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	backend  Backend
	messages []domain.Message
	sending  bool

	baseline *domain.MachineDefaults
	edited   *domain.MachineDefaults

	revealDelay time.Duration
	timers      []*time.Timer

	Now func() time.Time
}

type Option func(*Session)

// WithRevealDelay sets the cosmetic delay before a message is marked
// revealed. Zero reveals immediately.
func WithRevealDelay(d time.Duration) Option {
	return func(s *Session) { s.revealDelay = d }
}

func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		Now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mu.Lock()
	welcome := s.newMessage(domain.SenderSystem)
	welcome.Kind = domain.KindText
	welcome.Text = welcomeMessage
	welcome.Revealed = true
	s.messages = append(s.messages, welcome)
	s.mu.Unlock()
	return s
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Sending reports whether a dispatch is in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// SelectMachine fetches fresh defaults for the machine and makes it the
// session's simulation context. The fetched copy is kept as the diff
// baseline; edits apply to a working copy.
func (s *Session) SelectMachine(ctx context.Context, machineID string) (domain.MachineDefaults, error) {
	defaults, err := s.backend.MachineDefaults(ctx, machineID)
	if err != nil {
		return domain.MachineDefaults{}, err
	}
	if defaults.Duration == "" {
		defaults.Duration = "24"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	baseline := defaults
	edited := defaults
	s.baseline = &baseline
	s.edited = &edited
	return defaults, nil
}

// SetParameter patches one field of the working copy, retaining the rest.
func (s *Session) SetParameter(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edited == nil {
		return fmt.Errorf("no machine selected")
	}
	if !s.edited.SetParameter(name, value) {
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}

// Selected returns the working copy of the selected machine, if any.
func (s *Session) Selected() (domain.MachineDefaults, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edited == nil {
		return domain.MachineDefaults{}, false
	}
	return *s.edited, true
}

// SendText dispatches free text and appends the plain reply. The user
// message is appended optimistically before the call goes out.
func (s *Session) SendText(ctx context.Context, text string) (domain.Message, error) {
	s.appendText(domain.SenderUser, text)
	s.setSending(true)
	var reply struct {
		Response string `json:"response"`
	}
	err := s.backend.Chat(ctx, domain.ChatRequest{Message: text}, &reply)
	s.setSending(false)
	if err != nil {
		return s.appendText(domain.SenderSystem, dispatchErrorText(err)), err
	}
	return s.appendText(domain.SenderSystem, reply.Response), nil
}

// RunSimulation diffs the working copy against the baseline and dispatches
// a __simulation_run command for the selected machine.
func (s *Session) RunSimulation(ctx context.Context) (domain.Message, error) {
	s.mu.Lock()
	if s.baseline == nil || s.edited == nil {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("no machine selected")
	}
	baseline := *s.baseline
	edited := *s.edited
	s.mu.Unlock()

	data, err := SimulationPayload(baseline, edited)
	if err != nil {
		return domain.Message{}, err
	}
	s.appendText(domain.SenderUser, simulationSummary(edited))
	s.setSending(true)
	var report domain.SimulationReport
	err = s.backend.Chat(ctx, domain.ChatRequest{
		Message:        domain.MessageSimulationRun,
		MachineID:      edited.MachineID,
		SimulationData: &data,
	}, &report)
	s.setSending(false)
	if err != nil {
		return s.appendText(domain.SenderSystem, dispatchErrorText(err)), err
	}
	return s.appendPayload(domain.KindSimulation, domain.Message{Simulation: &report}), nil
}

// RunPrediction dispatches a __predict_failure command for the selected
// machine.
func (s *Session) RunPrediction(ctx context.Context) (domain.Message, error) {
	s.mu.Lock()
	if s.edited == nil {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("no machine selected")
	}
	machineID := s.edited.MachineID
	s.mu.Unlock()

	s.setSending(true)
	var report domain.PredictionReport
	err := s.backend.Chat(ctx, domain.ChatRequest{
		Message:   domain.MessagePredictFailure,
		MachineID: machineID,
	}, &report)
	s.setSending(false)
	if err != nil {
		return s.appendText(domain.SenderSystem, dispatchErrorText(err)), err
	}
	return s.appendPayload(domain.KindPrediction, domain.Message{Prediction: &report}), nil
}

// RunHealthCheck dispatches a __system_health command.
func (s *Session) RunHealthCheck(ctx context.Context) (domain.Message, error) {
	s.setSending(true)
	var report domain.HealthCheck
	err := s.backend.Chat(ctx, domain.ChatRequest{Message: domain.MessageSystemHealth}, &report)
	s.setSending(false)
	if err != nil {
		return s.appendText(domain.SenderSystem, dispatchErrorText(err)), err
	}
	return s.appendPayload(domain.KindHealth, domain.Message{Health: &report}), nil
}

// Close stops any pending reveal timers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// SimulationPayload builds the simulation dispatch payload: the full numeric
// baseline as initial values, and only the fields whose numeric value differs
// from baseline as fixed parameters.
func SimulationPayload(baseline, edited domain.MachineDefaults) (domain.SimulationData, error) {
	init := make(map[string]float64, len(domain.ParameterNames))
	fixed := make(map[string]float64)
	baseParams := baseline.Parameters()
	editParams := edited.Parameters()
	for _, name := range domain.ParameterNames {
		b, err := strconv.ParseFloat(baseParams[name], 64)
		if err != nil {
			return domain.SimulationData{}, fmt.Errorf("baseline %s: %w", name, err)
		}
		init[name] = b
		e, err := strconv.ParseFloat(editParams[name], 64)
		if err != nil {
			return domain.SimulationData{}, fmt.Errorf("%s: %w", name, err)
		}
		if e != b {
			fixed[name] = e
		}
	}
	dur, err := strconv.ParseFloat(edited.Duration, 64)
	if err != nil {
		return domain.SimulationData{}, fmt.Errorf("duration: %w", err)
	}
	return domain.SimulationData{
		InitialValues:   init,
		FixedParameters: fixed,
		DurationHours:   dur,
	}, nil
}

func simulationSummary(m domain.MachineDefaults) string {
	name := m.MachineName
	if name == "" {
		name = m.MachineID
	}
	return fmt.Sprintf("Simulation Data:\nMachine: %s\nAir to Fuel Ratio: %s\nCurrent: %s Amperes\nPressure: %s Pa\nRPM: %s\nTemperature: %s°C\nVibrations: %s\nDuration: %s",
		name, m.AFR, m.Current, m.Pressure, m.RPM, m.Temperature, m.VibrationMax, m.Duration)
}

func dispatchErrorText(err error) string {
	return "Sorry, that request failed: " + err.Error()
}

func (s *Session) setSending(v bool) {
	s.mu.Lock()
	s.sending = v
	s.mu.Unlock()
}

func (s *Session) newMessage(sender domain.Sender) domain.Message {
	return domain.Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Timestamp: s.Now(),
	}
}

func (s *Session) appendText(sender domain.Sender, text string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.newMessage(sender)
	m.Kind = domain.KindText
	m.Text = text
	return s.appendLocked(m)
}

func (s *Session) appendPayload(kind domain.PayloadKind, payload domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.newMessage(domain.SenderSystem)
	m.Kind = kind
	m.Health = payload.Health
	m.Prediction = payload.Prediction
	m.Simulation = payload.Simulation
	return s.appendLocked(m)
}

// appendLocked adds a message and schedules its reveal. Reveal is purely an
// entrance-transition concern; the message is in the transcript either way.
func (s *Session) appendLocked(m domain.Message) domain.Message {
	if s.revealDelay <= 0 {
		m.Revealed = true
		s.messages = append(s.messages, m)
		return m
	}
	s.messages = append(s.messages, m)
	id := m.ID
	s.timers = append(s.timers, time.AfterFunc(s.revealDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.messages {
			if s.messages[i].ID == id {
				s.messages[i].Revealed = true
				return
			}
		}
	}))
	return m
}
