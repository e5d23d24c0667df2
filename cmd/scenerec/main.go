package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/scenerec/internal/config"
	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/internal/ipc"
	"github.com/tiroq/scenerec/internal/pidfile"
)

const appName = "scenerec"

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Record a rendered scene to fragmented MP4",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the recorder daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context(), cfgFile)
	},
}

var ctlCmd = &cobra.Command{
	Use:       "ctl <record|pause|stop|export|quit>",
	Short:     "Send a command to the running daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"record", "pause", "stop", "export", "quit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ipc.ParseCommand(args[0])
		if err != nil {
			return err
		}
		if _, running := pidfile.ReadPID(pidfile.GetPIDFilePath(appName)); !running {
			return errors.New("daemon is not running (start it with 'scenerec run')")
		}
		if err := ipc.WriteCommand(c); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", c)
		return nil
	},
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := ipc.ReadStatus()
		if err != nil {
			if os.IsNotExist(err) {
				return errors.New("no status published yet (is the daemon running?)")
			}
			return err
		}
		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Fprintf(out, "state:       %s\n", st.State)
		fmt.Fprintf(out, "microphone:  %s\n", st.Microphone)
		if st.SessionPath != "" {
			fmt.Fprintf(out, "session:     %s (%s)\n", st.SessionPath, st.WriterStatus)
			fmt.Fprintf(out, "duration:    %s\n", (time.Duration(st.DurationMs) * time.Millisecond).String())
			fmt.Fprintf(out, "frames:      %d written, %d dropped\n", st.FramesWritten, st.FramesDropped)
		}
		if st.LastRecording != "" {
			fmt.Fprintf(out, "last file:   %s\n", st.LastRecording)
		}
		if st.LastExport != "" {
			fmt.Fprintf(out, "last export: %s\n", st.LastExport)
		}
		if st.LastError != "" {
			fmt.Fprintf(out, "last error:  %s\n", st.LastError)
		}
		fmt.Fprintf(out, "updated:     %s\n", st.Timestamp.Format(time.RFC3339))
		return nil
	},
}

var diagDest string

var exportDiagCmd = &cobra.Command{
	Use:   "export-diag",
	Short: "Bundle the diagnostic log for a bug report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		diaglog.Version = Version
		path, n, err := diaglog.Export(cfg.Diag.Path, diagDest)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w (run with %s=true to enable logging)", err, diaglog.DebugEnv)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s (%d lines)\n", path, n)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, Version)
	},
}

func init() {
	defaultCfg := filepath.Join("$HOME", ".config", appName, appName+".yaml")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+defaultCfg+")")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status snapshot")
	exportDiagCmd.Flags().StringVar(&diagDest, "dest", ".", "directory for the bundle")

	rootCmd.AddCommand(runCmd, ctlCmd, statusCmd, exportDiagCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
