package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cirrusvault/cirrus-go/pkg/log"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

const (
	connA = "aaaaaaaa-1111-2222-3333-444444444444"
	connB = "bbbbbbbb-1111-2222-3333-444444444444"
)

func sampleEvents() []log.Event {
	d := 1500 * time.Microsecond
	return []log.Event{
		{
			Timestamp: t0, ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerHandshake, Category: log.CategoryMessage, LocalRole: log.RoleClient,
			RemoteAddr: "127.0.0.1:6777",
			Handshake:  &log.HandshakeEvent{Step: "challenge"},
		},
		{
			Timestamp: t0.Add(time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerHandshake, Category: log.CategoryMessage,
			DeviceID: "alice@laptop", OrganizationID: "acme",
			Handshake: &log.HandshakeEvent{Step: "answer", AnswerType: "authenticated", APIVersion: "2.0"},
		},
		{
			Timestamp: t0.Add(2 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerHandshake, Category: log.CategoryMessage,
			DeviceID: "alice@laptop", OrganizationID: "acme",
			Handshake: &log.HandshakeEvent{Step: "result", Result: "ok"},
		},
		{
			Timestamp: t0.Add(3 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerApplication, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeRequest, Cmd: "ping"},
		},
		{
			Timestamp: t0.Add(4 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerApplication, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeResponse, Cmd: "ping", Status: "ok", ProcessingTime: &d},
		},
		{
			Timestamp: t0.Add(5 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgPing, Sequence: 7},
		},
		{
			Timestamp: t0.Add(time.Second), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose},
		},
		{
			Timestamp: t0.Add(2 * time.Second), ConnectionID: connB, Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryMessage, LocalRole: log.RoleBackend,
			Frame: &log.FrameEvent{Size: 12, Data: []byte{0xa1, 0x01}, Truncated: true},
		},
		{
			Timestamp: t0.Add(3 * time.Second), ConnectionID: connB, Direction: log.DirectionIn,
			Layer: log.LayerHandshake, Category: log.CategoryError, LocalRole: log.RoleBackend,
			Error: &log.ErrorEventData{Layer: log.LayerHandshake, Message: "unknown organization", Kind: "rejected", Context: "verify answer"},
		},
	}
}

func writeLog(t *testing.T, events []log.Event) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "probe.clog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFormatEvents(t *testing.T) {
	tests := []struct {
		name  string
		event log.Event
		want  []string
	}{
		{
			name:  "frame",
			event: sampleEvents()[7],
			want:  []string{"2026-03-02T09:30:02.000000Z", "[conn:bbbbbbbb]", "IN ", "TRANSPORT Frame", "Size: 12 bytes", "Data: a101 (truncated)"},
		},
		{
			name:  "handshake answer",
			event: sampleEvents()[1],
			want:  []string{"HANDSHAKE Handshake", "Identity: alice@laptop@acme", "Step: answer", "Answer: authenticated", "API version: 2.0"},
		},
		{
			name:  "response",
			event: sampleEvents()[4],
			want:  []string{"APPLICATION RESPONSE", "Cmd: ping", "Status: ok", "Duration: 1.500ms"},
		},
		{
			name:  "ping",
			event: sampleEvents()[5],
			want:  []string{"CTRL PING", "Seq: 7"},
		},
		{
			name:  "error",
			event: sampleEvents()[8],
			want:  []string{"HANDSHAKE Error", "Message: unknown organization", "Kind: rejected", "Context: verify answer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatEvent(&buf, tt.event)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestFormatCloseHasNoSequence(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[6])
	if strings.Contains(buf.String(), "Seq:") {
		t.Errorf("close event should not print a sequence:\n%s", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "0.500us"},
		{1500 * time.Microsecond, "1.500ms"},
		{2500 * time.Millisecond, "2.500s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Handshake"); err != nil || l != log.LayerHandshake {
		t.Errorf("ParseLayerFlag(Handshake) = %v, %v", l, err)
	}
	if l, err := ParseLayerFlag("app"); err != nil || l != log.LayerApplication {
		t.Errorf("ParseLayerFlag(app) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("OUT"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(OUT) = %v, %v", d, err)
	}
	if _, err := ParseDirectionFlag("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
	if c, err := ParseCategoryFlag("control"); err != nil || c != log.CategoryControl {
		t.Errorf("ParseCategoryFlag(control) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("snapshot"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestRunViewFiltered(t *testing.T) {
	path := writeLog(t, sampleEvents())

	layer := log.LayerHandshake
	var buf bytes.Buffer
	if err := RunView(path, log.Filter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	out := buf.String()

	if n := strings.Count(out, "[conn:"); n != 4 {
		t.Errorf("expected 4 handshake events, got %d:\n%s", n, out)
	}
	if strings.Contains(out, "CTRL") {
		t.Errorf("control events should be filtered out:\n%s", out)
	}
}

func TestRunViewMissingFile(t *testing.T) {
	if err := RunView(filepath.Join(t.TempDir(), "missing.clog"), log.Filter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCollectStats(t *testing.T) {
	stats, err := CollectStats(writeLog(t, sampleEvents()))
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}

	if stats.TotalEvents != 9 {
		t.Errorf("TotalEvents = %d, want 9", stats.TotalEvents)
	}
	if stats.EventsByLayer[log.LayerHandshake] != 4 {
		t.Errorf("handshake events = %d, want 4", stats.EventsByLayer[log.LayerHandshake])
	}
	if stats.HandshakeResults["ok"] != 1 {
		t.Errorf("ok results = %d, want 1", stats.HandshakeResults["ok"])
	}
	if stats.Commands["ping"] != 1 {
		t.Errorf("ping commands = %d, want 1", stats.Commands["ping"])
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if got := stats.TimeRange.End.Sub(stats.TimeRange.Start); got != 3*time.Second {
		t.Errorf("time range = %v, want 3s", got)
	}

	a := stats.Connections[connA]
	if a == nil {
		t.Fatal("connection A missing")
	}
	if a.Events != 7 || a.Pings != 1 || !a.Closed {
		t.Errorf("connection A = %+v", a)
	}
	if a.DeviceID != "alice@laptop" || a.OrganizationID != "acme" || a.Result != "ok" {
		t.Errorf("connection A identity = %+v", a)
	}
	if a.RemoteAddr != "127.0.0.1:6777" {
		t.Errorf("RemoteAddr = %q", a.RemoteAddr)
	}
	if b := stats.Connections[connB]; b == nil || b.Role != log.RoleBackend {
		t.Errorf("connection B = %+v", b)
	}
}

func TestRunStatsOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := RunStats(writeLog(t, sampleEvents()), &buf); err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	out := buf.String()
	for _, w := range []string{"Total Events: 9", "Connections: 2", "Handshake Results:", "ok:", "Identity: alice@laptop@acme", "Pings: 1", "Errors: 1"} {
		if !strings.Contains(out, w) {
			t.Errorf("stats output missing %q:\n%s", w, out)
		}
	}
	if strings.Index(out, "[aaaaaaaa]") > strings.Index(out, "[bbbbbbbb]") {
		t.Error("connections should be listed by first seen time")
	}
}

func TestRunFilter(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.clog")

	n, err := RunFilter(path, out, FilterOptions{
		ConnID:    connA,
		Category:  "control",
		TimeStart: t0.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if n != 2 {
		t.Errorf("filtered %d events, want 2", n)
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.TotalEvents != 2 || stats.EventsByCategory[log.CategoryControl] != 2 {
		t.Errorf("unexpected filtered content: %+v", stats)
	}
}

func TestFilterOptionsBuildErrors(t *testing.T) {
	bad := []FilterOptions{
		{TimeStart: "yesterday"},
		{TimeEnd: "tomorrow"},
		{Layer: "wire"},
		{Direction: "up"},
		{Category: "noise"},
	}
	for _, opts := range bad {
		if _, err := opts.Build(); err == nil {
			t.Errorf("Build(%+v) should fail", opts)
		}
	}
}

func TestRunExportJSONL(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "events.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e log.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 9 {
		t.Errorf("exported %d lines, want 9", lines)
	}
}

func TestRunExportCSV(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "events.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("got %d rows, want 10", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[3][9] != "result:ok" {
		t.Errorf("result detail = %q", rows[3][9])
	}
	if rows[5][9] != "ping:ok" {
		t.Errorf("response detail = %q", rows[5][9])
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	if err := RunExport(writeLog(t, nil), "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
