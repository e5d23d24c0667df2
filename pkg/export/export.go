// Package export persists finished recordings outside the recorder's
// working directory: a local media library or an object store. Every sink
// reports an authorization value so permission problems are distinguishable
// from transfer failures.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiroq/scenerec/internal/fileutil"
)

var (
	ErrNotAuthorized = errors.New("export not authorized")
	ErrNoRecording   = errors.New("no recording to export")
	ErrNotConfigured = errors.New("export sink not configured")
)

// Authorization is the sink's permission state.
type Authorization int

const (
	NotDetermined Authorization = iota
	Authorized
	Denied
	Restricted
)

func (a Authorization) String() string {
	switch a {
	case NotDetermined:
		return "not_determined"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	default:
		return fmt.Sprintf("authorization(%d)", int(a))
	}
}

// Sink persists a finished recording.
type Sink interface {
	// Name identifies the sink in logs and metadata.
	Name() string
	// Authorization returns the cached permission state without prompting.
	Authorization() Authorization
	// RequestAuthorization resolves a NotDetermined state.
	RequestAuthorization(ctx context.Context) (Authorization, error)
	// Export copies the file at path and returns where it went.
	Export(ctx context.Context, path string) (string, error)
}

// Outcome is the result of one export attempt.
type Outcome struct {
	Exported      bool
	Authorization Authorization
	Destination   string
	Err           error
}

// Run exports path through sink. An undetermined authorization is requested
// first and the export retried once with the answer.
func Run(ctx context.Context, sink Sink, path string) Outcome {
	if sink == nil {
		return Outcome{Err: ErrNotConfigured}
	}
	auth := sink.Authorization()
	if path == "" {
		return Outcome{Authorization: auth, Err: ErrNoRecording}
	}
	if auth == NotDetermined {
		var err error
		auth, err = sink.RequestAuthorization(ctx)
		if err != nil {
			return Outcome{Authorization: auth, Err: fmt.Errorf("request %s authorization: %w", sink.Name(), err)}
		}
	}
	if auth != Authorized {
		return Outcome{Authorization: auth, Err: fmt.Errorf("%w: %s is %s", ErrNotAuthorized, sink.Name(), auth)}
	}
	dest, err := sink.Export(ctx, path)
	if err != nil {
		return Outcome{Authorization: auth, Err: fmt.Errorf("export to %s: %w", sink.Name(), err)}
	}
	return Outcome{Exported: true, Authorization: auth, Destination: dest}
}

// authCache holds a sink's last known authorization.
type authCache struct {
	mu   sync.Mutex
	auth Authorization
}

func (c *authCache) get() Authorization {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *authCache) set(a Authorization) Authorization {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
	return a
}

// Namer picks the object or file name a recording is exported under.
type Namer func(path string) string

// LibraryNamer names exports YYYY-MM-DD_HHMM_<label>.mp4 from the
// recording's modification time.
func LibraryNamer(label string) Namer {
	return func(path string) string {
		at := time.Now()
		if info, err := os.Stat(path); err == nil {
			at = info.ModTime()
		}
		return fileutil.LibraryBasename(at, label) + filepath.Ext(path)
	}
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
