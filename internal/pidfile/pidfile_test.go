package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// deadPID is above any Linux pid_max.
const deadPID = 1 << 30

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		existing string // file content before New; empty means no file
		wantErr  error
	}{
		{name: "no file"},
		{name: "stale pid", existing: strconv.Itoa(deadPID)},
		{name: "garbage content", existing: "not-a-pid"},
		{name: "live process", existing: strconv.Itoa(os.Getpid()), wantErr: ErrRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "scenerec.pid")
			if tt.existing != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(tt.existing), 0644); err != nil {
					t.Fatal(err)
				}
			}

			pf, err := New(path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(): %v", err)
			}
			defer func() { _ = pf.Remove() }()

			pid, running := ReadPID(path)
			if pid != os.Getpid() || !running {
				t.Errorf("ReadPID() = %d, %v; want %d, true", pid, running, os.Getpid())
			}
		})
	}
}

func TestRemove(t *testing.T) {
	t.Run("own pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scenerec.pid")
		pf, err := New(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := pf.Remove(); err != nil {
			t.Fatalf("Remove(): %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("pid file still present")
		}
	})

	t.Run("taken over by another process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scenerec.pid")
		pf, err := New(path)
		if err != nil {
			t.Fatal(err)
		}
		writePID(t, path, deadPID)
		if err := pf.Remove(); err != nil {
			t.Fatalf("Remove(): %v", err)
		}
		if pid, err := readPID(path); err != nil || pid != deadPID {
			t.Errorf("pid file = %d, %v; want it left at %d", pid, err, deadPID)
		}
	})

	t.Run("nil", func(t *testing.T) {
		var pf *PIDFile
		if err := pf.Remove(); err != nil {
			t.Errorf("nil Remove(): %v", err)
		}
	})
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if _, running := ReadPID(filepath.Join(dir, "missing.pid")); running {
		t.Error("missing pid file reported as running")
	}

	stale := filepath.Join(dir, "stale.pid")
	writePID(t, stale, deadPID)
	if pid, running := ReadPID(stale); pid != deadPID || running {
		t.Errorf("ReadPID(stale) = %d, %v; want %d, false", pid, running, deadPID)
	}
}

func TestGetPIDFilePath(t *testing.T) {
	t.Setenv("SCENEREC_HOME", "")
	t.Setenv("HOME", "/home/test")
	want := filepath.Join("/home/test", ".cache", "scenerec", "test-app.pid")
	if got := GetPIDFilePath("test-app"); got != want {
		t.Errorf("GetPIDFilePath() = %s, want %s", got, want)
	}

	t.Setenv("SCENEREC_HOME", "/run/scenerec")
	if got := GetPIDFilePath("test-app"); got != "/run/scenerec/test-app.pid" {
		t.Errorf("GetPIDFilePath() with SCENEREC_HOME = %s", got)
	}
}

func TestAlive(t *testing.T) {
	tests := []struct {
		pid  int
		want bool
	}{
		{os.Getpid(), true},
		{deadPID, false},
		{0, false},
		{-1, false},
	}
	for _, tt := range tests {
		if got := alive(tt.pid); got != tt.want {
			t.Errorf("alive(%d) = %v, want %v", tt.pid, got, tt.want)
		}
	}
}
