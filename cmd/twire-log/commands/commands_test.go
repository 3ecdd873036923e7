package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
)

func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return data
}

func createTestCapture(t *testing.T, events []log.Event) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.twlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestBuildFilter(t *testing.T) {
	filter, err := BuildFilter("conn-1", "out", "router", "drop", "trades")
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if filter.ConnectionID != "conn-1" {
		t.Errorf("ConnectionID = %q, want conn-1", filter.ConnectionID)
	}
	if filter.Direction == nil || *filter.Direction != log.DirectionOut {
		t.Error("expected direction OUT")
	}
	if filter.Layer == nil || *filter.Layer != log.LayerRouter {
		t.Error("expected layer ROUTER")
	}
	if filter.Category == nil || *filter.Category != log.CategoryDrop {
		t.Error("expected category DROP")
	}
	if filter.Topic != "trades" {
		t.Errorf("Topic = %q, want trades", filter.Topic)
	}
}

func TestBuildFilterInvalid(t *testing.T) {
	if _, err := BuildFilter("", "sideways", "", "", ""); err == nil {
		t.Error("expected error for invalid direction")
	}
	if _, err := BuildFilter("", "", "kernel", "", ""); err == nil {
		t.Error("expected error for invalid layer")
	}
	if _, err := BuildFilter("", "", "", "noise", ""); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestViewFormatsEvents(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "conn-aaaa-bbbb",
			Direction:    log.DirectionOut,
			Layer:        log.LayerChunk,
			Category:     log.CategoryMessage,
			Topic:        "trades",
			Chunk:        &log.ChunkEvent{MessageID: "msg-1111-2222", Sequence: 0, Total: 3, Size: 512},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "conn-aaaa-bbbb",
			Direction:    log.DirectionIn,
			Layer:        log.LayerConnection,
			Category:     log.CategoryControl,
			Heartbeat:    &log.HeartbeatEvent{Type: log.HeartbeatPong, Missed: 2},
		},
	}

	path := createTestCapture(t, events)

	var buf bytes.Buffer
	if err := RunView(path, Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"[conn:conn-aaa]", "OUT", "CHUNK", "Sequence: 1/3", "Topic: trades", "PONG", "Missed: 2"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestViewAppliesFilter(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerRouter, Category: log.CategoryDrop,
			Drop: &log.DropEvent{SubscriptionID: 7, QueueDepth: 16, Policy: "drop_oldest"}},
		{Timestamp: ts, Layer: log.LayerWire, Category: log.CategoryMessage},
	}

	path := createTestCapture(t, events)

	filter, err := BuildFilter("", "", "router", "", "")
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Subscription: 7") {
		t.Errorf("expected drop details in output, got:\n%s", output)
	}
	if strings.Contains(output, "WIRE") {
		t.Errorf("wire event should have been filtered, got:\n%s", output)
	}
}

func TestExportWritesJSONL(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-1", Category: log.CategoryMessage, Topic: "ticks"},
		{Timestamp: ts, ConnectionID: "conn-2", Category: log.CategoryMessage},
	}

	path := createTestCapture(t, events)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, Filter{}, out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, out)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
}

func TestFilterWritesNewCapture(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-keep", Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "conn-drop", Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "conn-keep", Category: log.CategoryControl},
	}

	path := createTestCapture(t, events)
	out := filepath.Join(t.TempDir(), "filtered.twlog")

	if err := RunFilter(path, Filter{ConnectionID: "conn-keep"}, out); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	kept, err := reader.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept events, got %d", len(kept))
	}
	for _, e := range kept {
		if e.ConnectionID != "conn-keep" {
			t.Errorf("kept event for wrong connection: %s", e.ConnectionID)
		}
	}
}

func TestStatsOutput(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-aaaa-bbbb", Layer: log.LayerWire, Category: log.CategoryMessage, Topic: "trades"},
		{Timestamp: ts.Add(time.Minute), ConnectionID: "conn-aaaa-bbbb", Layer: log.LayerConnection, Category: log.CategoryControl,
			Heartbeat: &log.HeartbeatEvent{Type: log.HeartbeatPing, Missed: 1}},
		{Timestamp: ts, ConnectionID: "conn-cccc-dddd", Layer: log.LayerRouter, Category: log.CategoryDrop,
			Drop: &log.DropEvent{SubscriptionID: 1, QueueDepth: 8, Policy: "block"}},
		{Timestamp: ts, ConnectionID: "conn-cccc-dddd", Layer: log.LayerChunk, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerChunk, Message: "interleaved"}},
	}

	path := createTestCapture(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"Total Events: 4",
		"Connections: 2",
		"WIRE:",
		"ROUTER:",
		"trades:",
		"Drops: 1",
		"Errors: 1",
		"Heartbeats: 1 (peak missed: 1)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}
