package statemachine

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMachine() (*StateMachine, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	sm := NewStateMachine()
	sm.now = clock.now
	return sm, clock
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []string
		want  State
	}{
		{"initial", nil, StateUnknown},
		{"prepare", []string{"prepare"}, StateReadyToRecord},
		{"record from unknown", []string{"record"}, StateRecording},
		{"record twice", []string{"record", "record"}, StateRecording},
		{"pause", []string{"record", "pause"}, StatePaused},
		{"resume", []string{"record", "pause", "record"}, StateRecording},
		{"stop", []string{"record", "stop"}, StateReadyToRecord},
		{"stop while paused", []string{"record", "pause", "stop"}, StateReadyToRecord},
		{"stop when idle", []string{"prepare", "stop"}, StateReadyToRecord},
		{"stop from unknown", []string{"stop"}, StateUnknown},
		{"fail", []string{"record", "fail"}, StateReadyToRecord},
		{"reusable", []string{"record", "stop", "record"}, StateRecording},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, _ := newTestMachine()
			for _, step := range tt.steps {
				switch step {
				case "prepare":
					sm.Prepare()
				case "record":
					sm.Record()
				case "pause":
					if _, err := sm.Pause(); err != nil {
						t.Fatalf("Pause: %v", err)
					}
				case "stop":
					sm.Stop()
				case "fail":
					sm.Fail()
				}
			}
			if sm.State() != tt.want {
				t.Errorf("state = %v, want %v", sm.State(), tt.want)
			}
		})
	}
}

func TestPause_RequiresRecording(t *testing.T) {
	sm, _ := newTestMachine()
	if _, err := sm.Pause(); err == nil {
		t.Error("expected error pausing from unknown")
	}
	sm.Prepare()
	if _, err := sm.Pause(); err == nil {
		t.Error("expected error pausing when ready")
	}
}

func TestTransitionFlags(t *testing.T) {
	sm, _ := newTestMachine()
	if tr := sm.Record(); !tr.Changed() || tr.Resumed() {
		t.Errorf("first record = %+v", tr)
	}
	if tr := sm.Record(); tr.Changed() {
		t.Errorf("second record changed state: %+v", tr)
	}
	sm.Pause()
	if tr := sm.Record(); !tr.Resumed() {
		t.Errorf("record after pause = %+v, want resumed", tr)
	}
	if tr := sm.Stop(); tr.To != StateReadyToRecord || tr.From != StateRecording {
		t.Errorf("stop = %+v", tr)
	}
}

func TestRecordingDuration_ExcludesPause(t *testing.T) {
	sm, clock := newTestMachine()
	if sm.RecordingDuration() != 0 {
		t.Fatal("duration before record should be zero")
	}
	sm.Record()
	clock.advance(10 * time.Second)
	sm.Pause()
	clock.advance(5 * time.Second)
	if got := sm.RecordingDuration(); got != 10*time.Second {
		t.Errorf("duration while paused = %v, want 10s", got)
	}
	sm.Record()
	clock.advance(3 * time.Second)
	if got := sm.RecordingDuration(); got != 13*time.Second {
		t.Errorf("duration after resume = %v, want 13s", got)
	}
	sm.Stop()
	if sm.RecordingDuration() != 0 || !sm.StartedAt().IsZero() {
		t.Error("stop should reset the session clock")
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		StateUnknown:       "unknown",
		StateReadyToRecord: "ready_to_record",
		StateRecording:     "recording",
		StatePaused:        "paused",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
