package sidecar

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestState_Initial(t *testing.T) {
	st := NewState()
	if st.Ready() || st.Status() != StatusConnecting {
		t.Errorf("new state ready = %v status = %q, want connecting", st.Ready(), st.Status())
	}
	if st.LogPath() != "" || st.PID() != 0 || st.HasHandle() {
		t.Error("new state has a log path or handle")
	}
	if _, exited, err := st.CheckExit(); exited || err != nil {
		t.Errorf("CheckExit() = (%v, %v), want not exited", exited, err)
	}
	if st.TakeHandle() != nil {
		t.Error("TakeHandle() on empty state returned a handle")
	}
}

func TestState_TakeHandleOnce(t *testing.T) {
	h := startShell(t, "exit 5")
	st := NewState()
	st.SetLaunched(h, "/logs/b.log")

	if st.PID() != h.PID() || !st.HasHandle() {
		t.Fatalf("PID() = %d, want %d", st.PID(), h.PID())
	}
	if st.LaunchedAt().IsZero() {
		t.Error("LaunchedAt() is zero after SetLaunched")
	}

	if got := st.TakeHandle(); got != h {
		t.Fatalf("TakeHandle() = %v, want the launched handle", got)
	}
	if st.TakeHandle() != nil {
		t.Error("second TakeHandle() returned a handle")
	}
	if st.PID() != 0 {
		t.Errorf("PID() after take = %d, want 0", st.PID())
	}

	// The taken process is still observed for exit.
	waitExited(t, h)
	status, exited, err := st.CheckExit()
	if err != nil || !exited || status.Code != 5 {
		t.Errorf("CheckExit() = (%v, %v, %v), want exit code 5", status, exited, err)
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	st := NewState()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.SetReady(i%2 == 0)
			st.SetLaunched(nil, "/logs/b.log")
		}()
		go func() {
			defer wg.Done()
			_ = st.Status()
			_ = st.LogPath()
			_, _, _ = st.CheckExit()
		}()
	}
	wg.Wait()
	if st.LogPath() != "/logs/b.log" {
		t.Errorf("LogPath() = %q", st.LogPath())
	}
}

func TestEmitters(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	failing := EmitterFunc(func(string, any) error { return errors.New("socket closed") })

	err := Emitters{a, nil, failing, b}.Emit(EventReady, true)
	if err == nil || err.Error() != "socket closed" {
		t.Errorf("Emit() error = %v, want the failing member's error", err)
	}
	for i, r := range []*recordingEmitter{a, b} {
		if !slices.Equal(r.names(), []string{EventReady}) {
			t.Errorf("emitter %d got %v, want [%s]", i, r.names(), EventReady)
		}
	}
}

func TestOutcomeEmitter_Once(t *testing.T) {
	rec := &recordingEmitter{}
	o := &outcomeEmitter{next: rec}

	if err := o.failed("boom"); err != nil {
		t.Fatalf("failed() error = %v", err)
	}
	_ = o.ready()
	_ = o.failed("again")

	events := rec.snapshot()
	if len(events) != 1 || events[0].name != EventError || events[0].payload != "boom" {
		t.Errorf("events = %+v, want one backend-error", events)
	}
}
