package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"predictops/internal/domain"
)

func TestCreateProjectUsesLegacyNameKey(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(domain.ProjectRecord{ID: "p1", Name: body["project name"]})
	}))
	defer srv.Close()

	c := New(srv.URL)
	rec, err := c.CreateProject(context.Background(), "Line 7")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if body["project name"] != "Line 7" {
		t.Fatalf(`expected "project name" key, body = %v`, body)
	}
	if rec.Name != "Line 7" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDeleteProjectByNameQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("name"); got != "Line 7" {
			t.Fatalf("name query = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL).DeleteProject(context.Background(), "Line 7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"error":"project not found"}`, "project not found"},
		{`{"message":"bad things"}`, "bad things"},
		{`{"detail":"invalid file"}`, "invalid file"},
		{`{"response":"agent unavailable"}`, "agent unavailable"},
		{`not json`, "request failed"},
		{`{}`, "request failed"},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(c.body))
		}))
		_, err := New(srv.URL).ProjectList(context.Background())
		srv.Close()
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Message != c.want {
			t.Fatalf("body %q: message = %q, want %q", c.body, apiErr.Message, c.want)
		}
		if apiErr.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", apiErr.StatusCode)
		}
	}
}

func TestUploadFilesMultipartKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		for key, want := range map[string]string{"1": "equipment_usage.csv", "4": "sensor_data.csv"} {
			files := r.MultipartForm.File[key]
			if len(files) != 1 || files[0].Filename != want {
				t.Fatalf("part %q = %v", key, files)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	parts := map[string]NamedFile{
		"1": {Name: "equipment_usage.csv", Reader: strings.NewReader("a,b\n")},
		"4": {Name: "sensor_data.csv", Reader: strings.NewReader("c,d\n")},
	}
	if err := New(srv.URL).UploadFiles(context.Background(), parts); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Fatalf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]domain.Machine{})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Token = "sekrit"
	if _, err := c.MachineList(context.Background()); err != nil {
		t.Fatalf("machine list: %v", err)
	}
}

func TestChatDecodesIntoCallerShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode chat request: %v", err)
		}
		if req.Message != domain.MessageSystemHealth {
			t.Fatalf("message = %q", req.Message)
		}
		json.NewEncoder(w).Encode(domain.HealthCheck{OverallStatus: "healthy"})
	}))
	defer srv.Close()

	var out domain.HealthCheck
	if err := New(srv.URL).Chat(context.Background(), domain.ChatRequest{Message: domain.MessageSystemHealth}, &out); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.OverallStatus != "healthy" {
		t.Fatalf("out = %+v", out)
	}
}

func TestMachineDefaultsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/machine_defaults" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("machine_id"); got != "M002" {
			t.Fatalf("machine_id = %q", got)
		}
		json.NewEncoder(w).Encode(domain.MachineDefaults{MachineID: "M002", AFR: "14.0"})
	}))
	defer srv.Close()

	d, err := New(srv.URL).MachineDefaults(context.Background(), "M002")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if d.AFR != "14.0" {
		t.Fatalf("defaults = %+v", d)
	}
}
