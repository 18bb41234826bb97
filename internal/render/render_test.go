package render

import (
	"bytes"
	"strings"
	"testing"

	"predictops/internal/domain"
)

func TestPercent(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.0110, "1.10%"},
		{0.5, "50.00%"},
		{0, "0.00%"},
		{1, "100.00%"},
	}
	for _, c := range cases {
		if got := Percent(c.in); got != c.want {
			t.Fatalf("Percent(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"schedule_maintenance": "Schedule Maintenance",
		"inspect_bearings":     "Inspect Bearings",
		"replace":              "Replace",
		"":                     "",
	}
	for in, want := range cases {
		if got := TitleCase(in); got != want {
			t.Fatalf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPredictionEmptyMeansHealthy(t *testing.T) {
	var buf bytes.Buffer
	Prediction(&buf, domain.PredictionReport{MachineID: "M001"})
	out := buf.String()
	if !strings.Contains(out, "operating normally") {
		t.Fatalf("expected healthy sentence, got %q", out)
	}
	if strings.Contains(out, "Failure Type") {
		t.Fatalf("no table expected for empty predictions: %q", out)
	}
}

func TestPredictionTable(t *testing.T) {
	var buf bytes.Buffer
	Prediction(&buf, domain.PredictionReport{
		MachineID: "M003",
		FailurePredictions: []domain.FailurePrediction{
			{FailureType: "Bearing Failure", Probability: 0.0110, RecommendedAction: "inspect_bearings"},
		},
	})
	out := buf.String()
	if !strings.Contains(out, "1.10%") {
		t.Fatalf("probability not formatted: %q", out)
	}
	if !strings.Contains(out, "Inspect Bearings") {
		t.Fatalf("action not title-cased: %q", out)
	}
}

func TestSimulationNormalSentinelBecomesUnknown(t *testing.T) {
	var buf bytes.Buffer
	Simulation(&buf, domain.SimulationReport{
		MachineID:                 "M002",
		DurationHours:             24,
		OverallFailureProbability: 0.02,
		FailurePredictions: []domain.FailurePrediction{
			{FailureType: "Normal", Probability: 0.98},
		},
		RecommendedAction: "continue_monitoring",
	})
	out := buf.String()
	if !strings.Contains(out, "Most likely failure: Unknown") {
		t.Fatalf("Normal sentinel not mapped to Unknown: %q", out)
	}
	if strings.Contains(out, "Unknown (") {
		t.Fatalf("Unknown must not carry a percentage: %q", out)
	}
	if !strings.Contains(out, "Continue Monitoring") {
		t.Fatalf("action not title-cased: %q", out)
	}
}

func TestSimulationDominantFailure(t *testing.T) {
	var buf bytes.Buffer
	Simulation(&buf, domain.SimulationReport{
		MachineID:                 "M002",
		DurationHours:             48,
		OverallFailureProbability: 0.31,
		FailurePredictions: []domain.FailurePrediction{
			{FailureType: "Bearing Failure", Probability: 0.12},
			{FailureType: "Overheating", Probability: 0.31},
		},
	})
	out := buf.String()
	if !strings.Contains(out, "Most likely failure: Overheating (31.00%)") {
		t.Fatalf("dominant failure wrong: %q", out)
	}
	if !strings.Contains(out, "Overall failure probability: 31.00%") {
		t.Fatalf("overall probability wrong: %q", out)
	}
}

func TestMessageDispatchesOnKind(t *testing.T) {
	var buf bytes.Buffer
	Message(&buf, domain.Message{
		Kind:   domain.KindHealth,
		Health: &domain.HealthCheck{DataAgent: "ok", OverallStatus: "healthy"},
	})
	if !strings.Contains(buf.String(), "System Health Check") {
		t.Fatalf("health payload not rendered: %q", buf.String())
	}

	buf.Reset()
	Message(&buf, domain.Message{Kind: domain.KindText, Text: "hello"})
	if strings.TrimSpace(buf.String()) != "hello" {
		t.Fatalf("text message = %q", buf.String())
	}

	// A typed kind with a missing payload degrades to text rather than
	// panicking.
	buf.Reset()
	Message(&buf, domain.Message{Kind: domain.KindSimulation, Text: "fallback"})
	if strings.TrimSpace(buf.String()) != "fallback" {
		t.Fatalf("fallback = %q", buf.String())
	}
}
