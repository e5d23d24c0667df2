package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// LogCapture collects slog text output so tests can look for specific
// records. It is safe for the concurrent writers a controller produces.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLogCapture() *LogCapture {
	return &LogCapture{}
}

func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.Write(p)
}

// Logger returns a debug-level text logger writing into the capture.
func (lc *LogCapture) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(lc, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Records returns the captured lines whose message is msg.
func (lc *LogCapture) Records(msg string) []string {
	want := "msg=" + quoteIfNeeded(msg)
	var out []string
	for _, line := range strings.Split(lc.String(), "\n") {
		if strings.Contains(line, want) {
			out = append(out, line)
		}
	}
	return out
}

// quoteIfNeeded mirrors how the text handler renders a message.
func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " =\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
