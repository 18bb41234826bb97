// Package render formats transcript messages and typed report payloads for
// the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"predictops/internal/domain"
)

// UnknownFailureType is shown in place of the backend's "Normal" sentinel
// when it leaks into a simulation result.
const UnknownFailureType = "Unknown"

const healthyText = "No failures predicted. The machine appears to be operating normally."

// Message writes one transcript entry. Typed payloads are rendered as
// tables; plain text passes through.
func Message(w io.Writer, m domain.Message) {
	switch m.Kind {
	case domain.KindHealth:
		if m.Health != nil {
			Health(w, *m.Health)
			return
		}
	case domain.KindPrediction:
		if m.Prediction != nil {
			Prediction(w, *m.Prediction)
			return
		}
	case domain.KindSimulation:
		if m.Simulation != nil {
			Simulation(w, *m.Simulation)
			return
		}
	}
	fmt.Fprintln(w, m.Text)
}

// Health writes the component status table for a health check report.
func Health(w io.Writer, h domain.HealthCheck) {
	fmt.Fprintln(w, "System Health Check")
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Component", "Status"})
	tw.AppendRow(table.Row{"Data Agent", h.DataAgent})
	tw.AppendRow(table.Row{"Prediction Agent", h.PredictionAgent})
	tw.AppendRow(table.Row{"Simulation Agent", h.SimulationAgent})
	tw.AppendRow(table.Row{"Overall", h.OverallStatus})
	tw.Render()
	if h.Timestamp != "" {
		fmt.Fprintf(w, "Checked at %s (version %s)\n", h.Timestamp, h.Version)
	}
}

// Prediction writes a failure prediction report. An empty prediction list
// means the machine is healthy, and says so instead of an empty table.
func Prediction(w io.Writer, p domain.PredictionReport) {
	fmt.Fprintf(w, "Failure Prediction for %s\n", p.MachineID)
	if len(p.FailurePredictions) == 0 {
		fmt.Fprintln(w, healthyText)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Failure Type", "Probability", "Recommended Action"})
	for _, fp := range p.FailurePredictions {
		tw.AppendRow(table.Row{fp.FailureType, Percent(fp.Probability), TitleCase(fp.RecommendedAction)})
	}
	tw.Render()
}

// Simulation writes a simulation outcome: the dominant failure mode, the
// overall probability, and the recommended action.
func Simulation(w io.Writer, s domain.SimulationReport) {
	fmt.Fprintf(w, "Simulation Result for %s (%.0fh)\n", s.MachineID, s.DurationHours)
	fmt.Fprintf(w, "Most likely failure: %s\n", dominantFailure(s.FailurePredictions))
	fmt.Fprintf(w, "Overall failure probability: %s\n", Percent(s.OverallFailureProbability))
	if s.RecommendedAction != "" {
		fmt.Fprintf(w, "Recommended action: %s\n", TitleCase(s.RecommendedAction))
	}
	if len(s.FailurePredictions) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Failure Type", "Probability"})
		for _, fp := range s.FailurePredictions {
			tw.AppendRow(table.Row{fp.FailureType, Percent(fp.Probability)})
		}
		tw.Render()
	}
}

// dominantFailure picks the highest-probability prediction. The "Normal"
// sentinel is not a failure mode; it maps to Unknown with no percentage.
func dominantFailure(preds []domain.FailurePrediction) string {
	if len(preds) == 0 {
		return UnknownFailureType
	}
	top := preds[0]
	for _, p := range preds[1:] {
		if p.Probability > top.Probability {
			top = p
		}
	}
	if strings.EqualFold(top.FailureType, "Normal") {
		return UnknownFailureType
	}
	return fmt.Sprintf("%s (%s)", top.FailureType, Percent(top.Probability))
}

// Percent formats a 0..1 probability with two decimals, e.g. 0.0110 → "1.10%".
func Percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

// TitleCase converts a snake_case token to spaced Title Case for display.
func TitleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
