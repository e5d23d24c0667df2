package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// maxGenerations bounds how many rotated files Export looks for.
const maxGenerations = 10

// DiagBundle is the first line of an exported bundle. The log lines that
// follow are copied unchanged, oldest file first.
type DiagBundle struct {
	ExportedAt      string   `json:"exported_at"`
	RecorderVersion string   `json:"scenerec_version"`
	GoVersion       string   `json:"go_version"`
	OS              string   `json:"os"`
	Arch            string   `json:"arch"`
	LogFile         string   `json:"log_file"`
	Sources         []string `json:"sources"`
	EntryCount      int      `json:"entry_count"`
}

// Export bundles the diagnostic log at logPath, including any rotated
// generations next to it, into dest/scenerec-diag-<ts>.ndjson. It returns the
// bundle path and the number of log lines copied. The live file must exist.
func Export(logPath, dest string) (path string, lines int, err error) {
	if _, err := os.Stat(logPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	sources := generations(logPath)

	// Copy into a temp file first so the count is known for the header.
	body, err := os.CreateTemp(dest, ".scenerec-diag-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() {
		_ = body.Close()
		_ = os.Remove(body.Name())
	}()
	bw := bufio.NewWriter(body)
	for _, src := range sources {
		n, err := copyLines(bw, src)
		if err != nil {
			return "", 0, fmt.Errorf("read %s: %w", filepath.Base(src), err)
		}
		lines += n
	}
	if err := bw.Flush(); err != nil {
		return "", 0, err
	}

	header, err := json.Marshal(DiagBundle{
		ExportedAt:      time.Now().UTC().Format(time.RFC3339),
		RecorderVersion: Version,
		GoVersion:       runtime.Version(),
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		LogFile:         logPath,
		Sources:         sources,
		EntryCount:      lines,
	})
	if err != nil {
		return "", 0, err
	}

	outPath := filepath.Join(dest, "scenerec-diag-"+time.Now().UTC().Format("20060102T150405")+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()
	if _, err := out.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	if _, err := io.Copy(out, body); err != nil {
		return "", 0, err
	}
	return outPath, lines, nil
}

// generations lists logPath's rotated files oldest first, then logPath.
func generations(logPath string) []string {
	var older []string
	for i := 1; i <= maxGenerations; i++ {
		p := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(p); err != nil {
			break
		}
		older = append(older, p)
	}
	out := make([]string, 0, len(older)+1)
	for i := len(older) - 1; i >= 0; i-- {
		out = append(out, older[i])
	}
	return append(out, logPath)
}

// copyLines copies every non-empty line of src to w.
func copyLines(w io.Writer, src string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}
