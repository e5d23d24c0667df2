package audio

import (
	"os"
	"strings"
)

// Permission asks the platform for microphone access. done is invoked
// exactly once, possibly on another goroutine, after the user decides.
type Permission interface {
	RequestMicrophone(done func(granted bool))
}

// PermissionFunc adapts a function to the Permission interface.
type PermissionFunc func(done func(granted bool))

// RequestMicrophone calls f.
func (f PermissionFunc) RequestMicrophone(done func(granted bool)) { f(done) }

// StaticPermission answers every request with a fixed decision,
// asynchronously like a real prompt would.
type StaticPermission bool

// RequestMicrophone reports the fixed decision on a new goroutine.
func (p StaticPermission) RequestMicrophone(done func(granted bool)) {
	go done(bool(p))
}

// EnvPermission reads the decision from an environment variable whose
// value is "granted" or "denied". Anything else is treated as denied.
type EnvPermission string

// RequestMicrophone reports the decision found in the environment.
func (p EnvPermission) RequestMicrophone(done func(granted bool)) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(string(p))))
	go done(v == "granted" || v == "true" || v == "yes")
}
