// Package ipc is the file-based channel between the scenerec daemon and its
// control commands: a one-shot command file and a status.json snapshot,
// both under Dir().
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the runtime directory.
const HomeEnv = "SCENEREC_HOME"

// Command represents user commands from the CLI to the daemon
type Command string

const (
	CmdRecord Command = "record" // Start recording, or resume when paused
	CmdPause  Command = "pause"  // Pause the current session
	CmdStop   Command = "stop"   // Stop and keep the file
	CmdExport Command = "export" // Stop and hand the file to the export sink
	CmdQuit   Command = "quit"   // Shutdown daemon
)

// ParseCommand validates s as a command name.
func ParseCommand(s string) (Command, error) {
	cmd := Command(strings.ToLower(strings.TrimSpace(s)))
	switch cmd {
	case CmdRecord, CmdPause, CmdStop, CmdExport, CmdQuit:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command %q", s)
	}
}

// Dir returns $SCENEREC_HOME, or ~/.cache/scenerec when unset.
func Dir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	return filepath.Join(os.Getenv("HOME"), ".cache", "scenerec")
}

// CommandPath is the file the daemon watches for commands.
func CommandPath() string {
	return filepath.Join(Dir(), "cmd.txt")
}

// WriteCommand writes a command to the command file
func WriteCommand(cmd Command) error {
	if err := os.MkdirAll(Dir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(CommandPath(), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears the command file.
// Returns empty string if no command or file doesn't exist
func ReadCommand() (Command, error) {
	cmdPath := CommandPath()

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // No command pending
		}
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return "", err
	}

	cmd, err := ParseCommand(string(data))
	if err != nil {
		// Invalid command - ignore it
		return "", nil
	}
	return cmd, nil
}
