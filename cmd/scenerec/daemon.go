package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tiroq/scenerec/internal/config"
	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/internal/ipc"
	"github.com/tiroq/scenerec/internal/logging"
	"github.com/tiroq/scenerec/internal/pidfile"
	"github.com/tiroq/scenerec/internal/scene"
	"github.com/tiroq/scenerec/internal/statusfeed"
	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/container"
	"github.com/tiroq/scenerec/pkg/export"
	"github.com/tiroq/scenerec/pkg/frame"
	"github.com/tiroq/scenerec/pkg/recorder"
)

// MicPermissionEnv answers the microphone prompt on hosts without one.
const MicPermissionEnv = "SCENEREC_MIC_PERMISSION"

const (
	statusInterval  = time.Second
	shutdownTimeout = 10 * time.Second
)

// daemon owns the controller and everything that talks to it from outside
// the process.
type daemon struct {
	ctrl   *recorder.Controller
	logger *slog.Logger
	diag   *diaglog.Logger
	hub    *statusfeed.Hub

	quit     chan struct{}
	quitOnce sync.Once

	mu            sync.Mutex
	lastAction    string
	lastError     string
	lastRecording string
	lastExport    string
}

func newDaemon(logger *slog.Logger, diag *diaglog.Logger) *daemon {
	return &daemon{
		logger: logger,
		diag:   diag,
		quit:   make(chan struct{}),
	}
}

func runDaemon(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	logger := logging.L(diaglog.ComponentDaemon)

	diaglog.Version = Version
	diag, err := diaglog.New(cfg.Diag.Path, cfg.DiagOptions()...)
	if err != nil {
		logger.Warn("diagnostic log unavailable", logging.KeyError, err)
		diag = diaglog.NewNoOp()
	}
	defer func() { _ = diag.Close() }()

	pf, err := pidfile.New(pidfile.GetPIDFilePath(appName))
	if err != nil {
		return err
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			logger.Warn("failed to remove PID file", logging.KeyError, err)
		}
	}()

	sink, err := export.NewSink(ctx, cfg.ExportSink())
	if err != nil {
		logger.Warn("export disabled", "sink", cfg.Export.Sink, logging.KeyError, err)
		sink = nil
	}

	dev, err := newAudioDevice(cfg)
	if err != nil {
		logger.Warn("recording without audio", logging.KeyError, err)
		dev = nil
	}

	renderer := scene.NewRenderer()
	defer func() { _ = renderer.Close() }()
	source := frame.NewSceneSource(renderer, frame.StaticDisplay(cfg.Dimensions()),
		frame.WithSourceLogger(logging.L("frame-source")))

	d := newDaemon(logger, diag)
	session := sessionConfig(cfg)
	ctrlOpts := []recorder.Option{
		recorder.WithObserver(d),
		recorder.WithPreparer(renderer),
		recorder.WithSessionConfig(session),
		recorder.WithWriterOptions(
			container.WithQueueDepth(cfg.Container.QueueDepth),
			container.WithFragmentDuration(cfg.FragmentDuration()),
			container.WithMinFreeBytes(cfg.MinFreeBytes),
		),
		recorder.WithMetadata(cfg.Metadata, Version),
		recorder.WithLogger(slog.Default()),
		recorder.WithDiagLogger(diag),
	}
	if dev != nil {
		ctrlOpts = append(ctrlOpts, recorder.WithAudio(dev, audio.EnvPermission(MicPermissionEnv)))
	}
	if sink != nil {
		ctrlOpts = append(ctrlOpts, recorder.WithExportSink(sink))
	}
	d.ctrl = recorder.NewController(source, ctrlOpts...)

	if err := d.ctrl.Prepare(ctx, session); err != nil {
		return fmt.Errorf("prepare recorder: %w", err)
	}

	if cfg.Status.Listen != "" {
		d.hub = statusfeed.NewHub(d.handleRemote, logging.L("status-feed"))
		if err := d.hub.Listen(cfg.Status.Listen); err != nil {
			return fmt.Errorf("status feed: %w", err)
		}
		defer func() { _ = d.hub.Close() }()
		logger.Info("status feed listening", "addr", d.hub.Addr())
	}

	clock := frame.NewTickerClockFPS(cfg.Clock.FPS)
	clock.Start(d.ctrl.Tick)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go d.watchCommands(watchCtx)

	logger.Info("scenerec started",
		"version", Version,
		"output_dir", cfg.OutputDir,
		"width", cfg.Display.Width,
		"height", cfg.Display.Height,
		"fps", cfg.Clock.FPS,
		"audio", dev != nil,
		"export", cfg.Export.Sink,
	)
	d.publishStatus()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.publishStatus()
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			clock.Stop()
			d.shutdown()
			return nil
		case <-d.quit:
			logger.Info("shutting down", "reason", "quit command")
			clock.Stop()
			d.shutdown()
			return nil
		case <-ctx.Done():
			clock.Stop()
			d.shutdown()
			return ctx.Err()
		}
	}
}

func sessionConfig(cfg *config.Config) recorder.SessionConfig {
	return recorder.SessionConfig{
		OutputDir:            cfg.OutputDir,
		OptimizeForStreaming: cfg.Container.OptimizeForStreaming,
		Quality:              container.QualityPreset(cfg.Container.Quality),
	}
}

func newAudioDevice(cfg *config.Config) (audio.Device, error) {
	if !cfg.Audio.Enabled {
		return nil, nil
	}
	switch cfg.Audio.Device {
	case "", "tone":
		dev := audio.NewToneDevice(cfg.AudioFormat(), cfg.Audio.ToneHz)
		dev.SetTimeSource(frame.Now)
		return dev, nil
	case "gst":
		return newGstDevice(cfg.AudioFormat())
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Audio.Device)
	}
}

// shutdown finalizes an active session and waits for the file to close.
func (d *daemon) shutdown() {
	if s := d.ctrl.State(); s == recorder.StateRecording || s == recorder.StatePaused {
		d.ctrl.Stop(nil)
	}
	deadline := time.Now().Add(shutdownTimeout)
	for d.ctrl.Snapshot().Finalizing && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if d.ctrl.Snapshot().Finalizing {
		d.logger.Warn("session still finalizing at exit")
	}
	d.publishStatus()
}

// handleCommand processes a control command from the command file or the
// status feed.
func (d *daemon) handleCommand(cmd ipc.Command) error {
	d.logger.Info("received command", "command", string(cmd))
	d.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentDaemon,
		Event:     diaglog.EventCommandReceived,
		Reason:    string(cmd),
	})
	d.setAction(string(cmd))

	var err error
	switch cmd {
	case ipc.CmdRecord:
		d.ctrl.Record()
	case ipc.CmdPause:
		err = d.ctrl.Pause()
	case ipc.CmdStop:
		d.ctrl.Stop(nil)
	case ipc.CmdExport:
		d.ctrl.StopAndExport(d.onExported)
	case ipc.CmdQuit:
		d.quitOnce.Do(func() { close(d.quit) })
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		d.logger.Warn("command failed", "command", string(cmd), logging.KeyError, err)
		d.setError(err)
	}
	d.publishStatus()
	return err
}

func (d *daemon) handleRemote(command string) error {
	cmd, err := ipc.ParseCommand(command)
	if err != nil {
		return err
	}
	return d.handleCommand(cmd)
}

func (d *daemon) onExported(res recorder.ExportResult) {
	d.mu.Lock()
	switch {
	case res.Exported:
		d.lastExport = res.Destination
	case res.Err != nil:
		d.lastError = res.Err.Error()
	case res.Authorization != export.Authorized:
		d.lastError = "export " + res.Authorization.String()
	}
	d.mu.Unlock()
	d.publishStatus()
}

// OnRecordingEnded implements recorder.Observer.
func (d *daemon) OnRecordingEnded(path string, success bool) {
	d.mu.Lock()
	if success {
		d.lastRecording = path
	}
	d.mu.Unlock()
	if !success && path != "" {
		d.logger.Warn("discarding incomplete recording", "path", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove recording", "path", path, logging.KeyError, err)
		}
	}
	d.publishStatus()
}

// OnRecordingFailed implements recorder.Observer.
func (d *daemon) OnRecordingFailed(err error) {
	d.setError(err)
}

func (d *daemon) setAction(action string) {
	d.mu.Lock()
	d.lastAction = action
	d.mu.Unlock()
}

func (d *daemon) setError(err error) {
	d.mu.Lock()
	d.lastError = err.Error()
	d.mu.Unlock()
}

// status maps the controller view onto the published snapshot.
func (d *daemon) status() *ipc.StatusSnapshot {
	s := d.ctrl.Snapshot()
	d.mu.Lock()
	defer d.mu.Unlock()
	st := &ipc.StatusSnapshot{
		State:         s.State.String(),
		Microphone:    s.Microphone.String(),
		Finalizing:    s.Finalizing,
		SessionPath:   s.SessionPath,
		StartedAt:     s.StartedAt,
		DurationMs:    s.Duration.Milliseconds(),
		FramesWritten: s.Stats.FramesWritten,
		FramesDropped: s.Stats.FramesDropped,
		AudioWritten:  s.Stats.AudioWritten,
		NotReadyTicks: s.NotReadyTicks,
		Sessions:      s.Sessions,
		LastAction:    d.lastAction,
		LastError:     d.lastError,
		LastRecording: d.lastRecording,
		LastExport:    d.lastExport,
		Timestamp:     time.Now(),
		PID:           os.Getpid(),
	}
	if s.SessionPath != "" {
		st.WriterStatus = s.Writer.String()
	}
	if d.hub != nil {
		st.StatusFeedAddr = d.hub.Addr()
	}
	return st
}

func (d *daemon) publishStatus() {
	st := d.status()
	if err := ipc.WriteStatus(st); err != nil {
		d.logger.Warn("failed to write status", logging.KeyError, err)
	}
	if d.hub != nil {
		if err := d.hub.Publish(st); err != nil {
			d.logger.Warn("failed to publish status", logging.KeyError, err)
		}
	}
}

// watchCommands reacts to the command file, preferring fsnotify and
// falling back to polling its modification time.
func (d *daemon) watchCommands(ctx context.Context) {
	cmdPath := ipc.CommandPath()
	if err := os.MkdirAll(ipc.Dir(), 0755); err != nil {
		d.logger.Warn("failed to create command directory", logging.KeyError, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("fsnotify not available, falling back to polling", logging.KeyError, err)
		d.pollCommands(ctx, cmdPath)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			d.logger.Warn("failed to close watcher", logging.KeyError, err)
		}
	}()

	if err := watcher.Add(ipc.Dir()); err != nil {
		d.logger.Warn("failed to watch command directory, falling back to polling", logging.KeyError, err)
		d.pollCommands(ctx, cmdPath)
		return
	}
	d.logger.Debug("command watcher started", "mode", "fsnotify", "path", cmdPath)

	pollTicker := time.NewTicker(time.Second)
	defer pollTicker.Stop()
	lastCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				d.pollCommands(ctx, cmdPath)
				return
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// let the writer finish
				time.Sleep(50 * time.Millisecond)
				d.consumeCommand()
				lastCheck = time.Now()
			}
		case <-pollTicker.C:
			if info, err := os.Stat(cmdPath); err == nil && info.ModTime().After(lastCheck) {
				time.Sleep(50 * time.Millisecond)
				d.consumeCommand()
				lastCheck = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				d.pollCommands(ctx, cmdPath)
				return
			}
			d.logger.Warn("file watcher error", logging.KeyError, err)
		}
	}
}

func (d *daemon) pollCommands(ctx context.Context, cmdPath string) {
	d.logger.Debug("command watcher started", "mode", "polling", "path", cmdPath)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(cmdPath)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastCheck) {
				time.Sleep(50 * time.Millisecond)
				d.consumeCommand()
				lastCheck = time.Now()
			}
		}
	}
}

func (d *daemon) consumeCommand() {
	cmd, err := ipc.ReadCommand()
	if err != nil || cmd == "" {
		return
	}
	_ = d.handleCommand(cmd)
}
