package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/tripwire/internal/domain"
)

const doubleBookedJSON = `{"events": [
  {"id": "h1", "userId": "u1", "kind": "hotel", "amount": 480,
   "window": {"earliestStart": "2024-03-04T15:00:00+08:00", "latestEnd": "2024-03-05T11:00:00+08:00"},
   "location": {"city": "Shanghai"}},
  {"id": "h2", "userId": "u1", "kind": "hotel", "amount": 520,
   "window": {"earliestStart": "2024-03-04T15:00:00+08:00", "latestEnd": "2024-03-05T11:00:00+08:00"},
   "location": {"city": "Beijing"}}
]}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecodeEvents(t *testing.T) {
	t.Run("Envelope", func(t *testing.T) {
		events, err := decodeEvents([]byte(doubleBookedJSON))
		if err != nil {
			t.Fatalf("decodeEvents: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("Expected 2 events, got %d", len(events))
		}
	})

	t.Run("Array", func(t *testing.T) {
		events, err := decodeEvents([]byte(` [{"id": "a", "userId": "u", "kind": "taxi"}]`))
		if err != nil {
			t.Fatalf("decodeEvents: %v", err)
		}
		if len(events) != 1 || events[0].ID != "a" {
			t.Errorf("Unexpected events: %+v", events)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := decodeEvents([]byte("  ")); err == nil {
			t.Error("Expected error for empty input")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := decodeEvents([]byte(`{"events": [`)); err == nil {
			t.Error("Expected error for malformed input")
		}
	})
}

func TestRunScan(t *testing.T) {
	configPath = ""
	path := writeFile(t, "events.json", doubleBookedJSON)

	t.Run("JSON", func(t *testing.T) {
		var out bytes.Buffer
		if err := runScan(context.Background(), &out, path, "acme", "json", false); err != nil {
			t.Fatalf("runScan: %v", err)
		}
		var rep domain.Report
		if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if rep.Status != domain.StatusAlert {
			t.Errorf("Expected ALRT, got %s", rep.Status)
		}
		if rep.TenantID != "acme" {
			t.Errorf("Expected tenant acme, got %s", rep.TenantID)
		}
	})

	t.Run("Text", func(t *testing.T) {
		var out bytes.Buffer
		if err := runScan(context.Background(), &out, path, "acme", "text", false); err != nil {
			t.Fatalf("runScan: %v", err)
		}
		if !strings.HasPrefix(out.String(), "status: ALRT") {
			t.Errorf("Unexpected output: %q", out.String())
		}
	})

	t.Run("FailOnAlert", func(t *testing.T) {
		var out bytes.Buffer
		err := runScan(context.Background(), &out, path, "acme", "json", true)
		if !errors.Is(err, errAlert) {
			t.Errorf("Expected errAlert, got %v", err)
		}
	})

	t.Run("BadFormat", func(t *testing.T) {
		var out bytes.Buffer
		if err := runScan(context.Background(), &out, path, "acme", "yaml", false); err == nil {
			t.Error("Expected error for unknown format")
		}
	})

	t.Run("InvalidEvent", func(t *testing.T) {
		bad := writeFile(t, "bad.json", `[{"id": "x", "kind": "hotel"}]`)
		var out bytes.Buffer
		if err := runScan(context.Background(), &out, bad, "acme", "json", false); err == nil {
			t.Error("Expected validation error for event without user")
		}
	})
}

func TestSplitList(t *testing.T) {
	got := splitList(" acme, ,globex,")
	if len(got) != 2 || got[0] != "acme" || got[1] != "globex" {
		t.Errorf("Unexpected split: %v", got)
	}
	if splitList("") != nil {
		t.Error("Expected nil for empty list")
	}
}

func TestRulesCommand(t *testing.T) {
	configPath = ""
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"rules", "--env-file", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !strings.Contains(out.String(), "SEVERITY") {
		t.Errorf("Missing header: %q", out.String())
	}
}
