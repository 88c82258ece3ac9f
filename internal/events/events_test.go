package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPublisher_NilIsSafe(t *testing.T) {
	var p *Publisher
	p.Publish(ResultEvent{RequestID: "r1", Command: "ls", Status: "completed"})
	p.Close()
}

func TestResultEvent_JSONShape(t *testing.T) {
	code := 0
	ev := ResultEvent{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID: "req-1",
		Command:   "echo hi",
		Mode:      "autonomous",
		Status:    "completed",
		ExitCode:  &code,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, key := range []string{`"request_id":"req-1"`, `"mode":"autonomous"`, `"status":"completed"`, `"exit_code":0`} {
		if !strings.Contains(s, key) {
			t.Errorf("payload missing %s: %s", key, s)
		}
	}
}

func TestResultEvent_OmitsExitCodeWhenAbsent(t *testing.T) {
	data, err := json.Marshal(ResultEvent{RequestID: "req-2", Status: "denied"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "exit_code") {
		t.Errorf("denied event should omit exit_code: %s", data)
	}
}
