package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeEvents writes n NDJSON events named <prefix><i> to path.
func writeEvents(t *testing.T, path, prefix string, n int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	for i := 0; i < n; i++ {
		_, _ = fmt.Fprintf(f, "{\"ts\":\"2026-01-01T00:00:00Z\",\"component\":%q,\"event\":\"%s%d\"}\n", ComponentWriter, prefix, i)
	}
}

// readBundle returns the header and the events of an exported bundle.
func readBundle(t *testing.T, path string) (DiagBundle, []string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer func() { _ = f.Close() }()

	var (
		header DiagBundle
		events []string
	)
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		if i == 0 {
			if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
				t.Fatalf("unmarshal header: %v", err)
			}
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not an event: %v", i, err)
		}
		events = append(events, e.Event)
	}
	return header, events
}

func TestExport(t *testing.T) {
	tests := []struct {
		name        string
		rotated     []int // events per generation, .1 first
		live        int
		wantEvents  []string
		wantSources int
	}{
		{
			name:        "live file only",
			live:        3,
			wantEvents:  []string{"live0", "live1", "live2"},
			wantSources: 1,
		},
		{
			name:        "rotated generations oldest first",
			rotated:     []int{2, 1},
			live:        1,
			wantEvents:  []string{"gen2_0", "gen1_0", "gen1_1", "live0"},
			wantSources: 3,
		},
		{
			name:        "empty live file",
			rotated:     []int{1},
			wantEvents:  []string{"gen1_0"},
			wantSources: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "diag.ndjson")
			writeEvents(t, logPath, "live", tt.live)
			for i, n := range tt.rotated {
				gen := i + 1
				writeEvents(t, fmt.Sprintf("%s.%d", logPath, gen), fmt.Sprintf("gen%d_", gen), n)
			}
			dest := t.TempDir()

			path, lines, err := Export(logPath, dest)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			header, events := readBundle(t, path)

			if lines != len(tt.wantEvents) || header.EntryCount != lines {
				t.Errorf("lines = %d, entry_count = %d, want %d", lines, header.EntryCount, len(tt.wantEvents))
			}
			if strings.Join(events, ",") != strings.Join(tt.wantEvents, ",") {
				t.Errorf("events = %v, want %v", events, tt.wantEvents)
			}
			if len(header.Sources) != tt.wantSources || header.Sources[len(header.Sources)-1] != logPath {
				t.Errorf("sources = %v, want %d ending with the live file", header.Sources, tt.wantSources)
			}
			if header.GoVersion == "" || header.OS == "" || header.RecorderVersion == "" {
				t.Errorf("incomplete header %+v", header)
			}

			entries, _ := os.ReadDir(dest)
			if len(entries) != 1 {
				t.Errorf("dest has %d entries, want only the bundle", len(entries))
			}
			if base := filepath.Base(path); !strings.HasPrefix(base, "scenerec-diag-") || !strings.HasSuffix(base, ".ndjson") {
				t.Errorf("unexpected bundle name %s", base)
			}
		})
	}
}

func TestExport_MissingLiveFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "diag.ndjson")
	writeEvents(t, logPath+".1", "old", 2)

	_, _, err := Export(logPath, t.TempDir())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestExport_AfterRotation(t *testing.T) {
	t.Setenv(DebugEnv, "true")
	logPath := filepath.Join(t.TempDir(), "diag.ndjson")

	l, err := New(logPath, WithMaxSize(400), WithBackups(3))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		l.Log(LogEntry{Component: ComponentController, Event: EventRecordingStart, Reason: fmt.Sprintf("n%02d", i)})
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	path, lines, err := Export(logPath, t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	header, _ := readBundle(t, path)
	if len(header.Sources) < 2 {
		t.Fatalf("sources = %v, want rotated files included", header.Sources)
	}
	if lines == 0 || lines > 12 {
		t.Errorf("lines = %d, want between 1 and 12", lines)
	}
}
