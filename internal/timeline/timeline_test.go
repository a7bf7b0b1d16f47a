package timeline

import (
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAddEventAndQuery(t *testing.T) {
	svc := newTestService(t)

	events := []*Event{
		{EventID: "e1", TraceID: "t1", AgentID: "main", SpanType: SpanLLM, Content: "call 1"},
		{EventID: "e2", TraceID: "t1", AgentID: "main", Depth: 0, SpanType: SpanTool, Content: "read_file"},
		{EventID: "e3", TraceID: "t1", AgentID: "main.sub.1", Depth: 1, SpanType: SpanSpawn, Content: "main.sub.1"},
		{EventID: "e4", TraceID: "other", AgentID: "main", SpanType: SpanSystem, Content: "unrelated"},
	}
	for _, ev := range events {
		if err := svc.AddEvent(ev); err != nil {
			t.Fatalf("AddEvent(%s): %v", ev.EventID, err)
		}
	}

	got, err := svc.EventsByTrace("t1")
	if err != nil {
		t.Fatalf("EventsByTrace: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].EventID != "e1" || got[2].EventID != "e3" {
		t.Fatalf("events out of insertion order: %v", got)
	}
	if got[2].Depth != 1 || got[2].SpanType != SpanSpawn {
		t.Fatalf("span fields lost: %+v", got[2])
	}
}

func TestAddEventDuplicateIgnored(t *testing.T) {
	svc := newTestService(t)

	ev := &Event{EventID: "dup", TraceID: "t1", AgentID: "main", SpanType: SpanTool, Content: "first"}
	if err := svc.AddEvent(ev); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	again := &Event{EventID: "dup", TraceID: "t1", AgentID: "main", SpanType: SpanTool, Content: "second"}
	if err := svc.AddEvent(again); err != nil {
		t.Fatalf("duplicate AddEvent: %v", err)
	}

	got, err := svc.EventsByTrace("t1")
	if err != nil {
		t.Fatalf("EventsByTrace: %v", err)
	}
	if len(got) != 1 || got[0].Content != "first" {
		t.Fatalf("duplicate not ignored: %v", got)
	}
}

func TestTraceTokens(t *testing.T) {
	svc := newTestService(t)

	if err := svc.RecordUsage("t1", "main", "gpt-4o", 100, 20); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := svc.RecordUsage("t1", "main.sub.1", "gpt-4o", 50, 10); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := svc.RecordUsage("other", "main", "gpt-4o", 999, 999); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	prompt, completion, err := svc.TraceTokens("t1")
	if err != nil {
		t.Fatalf("TraceTokens: %v", err)
	}
	if prompt != 150 || completion != 30 {
		t.Fatalf("tokens = %d/%d, want 150/30", prompt, completion)
	}
}
