package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/penates/penates/internal/bus"
	"github.com/penates/penates/internal/store"
)

func newTestScheduler(t *testing.T, fire FireFunc) (*Scheduler, *store.Store, *bus.EventBus) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	events := bus.NewEventBus(nil)
	s := New(st, events, fire, nil)
	t.Cleanup(s.Stop)
	return s, st, events
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in      string
		ok      bool
		oneShot bool
	}{
		{"0 8 * * *", true, false},
		{"*/5 * * * *", true, false},
		{"every 10 minutes", true, false},
		{"every 1 hour", true, false},
		{"2030-01-02T15:04:05Z", true, true},
		{"whenever", false, false},
		{"every banana minutes", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		sched, ts, err := parseSchedule(tc.in)
		if tc.ok && err != nil {
			t.Errorf("parseSchedule(%q): %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("parseSchedule(%q): expected error", tc.in)
			}
			continue
		}
		if tc.oneShot && ts == nil {
			t.Errorf("parseSchedule(%q): expected one-shot", tc.in)
		}
		if !tc.oneShot && sched == nil {
			t.Errorf("parseSchedule(%q): expected recurring schedule", tc.in)
		}
	}
}

func TestAddPublishesAndPersists(t *testing.T) {
	s, st, events := newTestScheduler(t, nil)
	ch, cancel := events.Subscribe()
	defer cancel()

	if _, err := s.Add("morning", "0 8 * * *", "good morning"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ev := <-ch
	if ev.Type != bus.EventSchedulerChanged || ev.Data["action"] != "added" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	jobs, _ := st.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("job not persisted")
	}

	if _, err := s.Add("broken", "not a schedule", "x"); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	jobs, _ = st.ListJobs()
	if len(jobs) != 1 {
		t.Fatal("invalid schedule was persisted")
	}
}

func TestRemove(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	job, _ := s.Add("cleanup", "every 5 minutes", "tidy up")

	if err := s.Remove(job.JobID); err != nil {
		t.Fatalf("Remove by id: %v", err)
	}
	if err := s.Remove("cleanup"); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestOneShotFiresAndSelfRemoves(t *testing.T) {
	var fired atomic.Int32
	s, st, _ := newTestScheduler(t, func(ctx context.Context, name, prompt string) {
		if prompt == "take out the bins" {
			fired.Add(1)
		}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A timestamp in the past fires shortly after arming.
	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	if _, err := s.Add("bins", past, "take out the bins"); err != nil {
		t.Fatalf("Add one-shot: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("one-shot job never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// The job removes itself once fired.
	deadline = time.After(5 * time.Second)
	for {
		jobs, _ := st.ListJobs()
		if len(jobs) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("one-shot job still persisted: %+v", jobs)
		case <-time.After(50 * time.Millisecond):
		}
	}
}
