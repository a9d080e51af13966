package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramkit/engram/internal/log"
	"github.com/engramkit/engram/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "schedule.db"), log.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func in(d time.Duration) string {
	return store.FormatTime(time.Now().Add(d))
}

func TestCreateAppointmentDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	when := in(24 * time.Hour)

	base := AppointmentParams{Title: "dentist", ScheduledDatetime: when, Location: "downtown"}

	firstID, duplicate, err := s.CreateAppointment(ctx, base)
	if err != nil {
		t.Fatalf("CreateAppointment() error = %v", err)
	}
	if duplicate {
		t.Error("first create reported duplicate")
	}

	tests := []struct {
		name          string
		params        AppointmentParams
		wantDuplicate bool
	}{
		{"identical", base, true},
		{"different location", AppointmentParams{Title: "dentist", ScheduledDatetime: when, Location: "uptown"}, false},
		{"different time", AppointmentParams{Title: "dentist", ScheduledDatetime: in(48 * time.Hour), Location: "downtown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, duplicate, err := s.CreateAppointment(ctx, tt.params)
			if err != nil {
				t.Fatalf("CreateAppointment() error = %v", err)
			}
			if duplicate != tt.wantDuplicate {
				t.Errorf("duplicate = %t, want %t", duplicate, tt.wantDuplicate)
			}
			if tt.wantDuplicate && id != firstID {
				t.Errorf("duplicate returned id %s, want existing %s", id, firstID)
			}
		})
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params AppointmentParams
	}{
		{"missing title", AppointmentParams{ScheduledDatetime: in(time.Hour)}},
		{"missing datetime", AppointmentParams{Title: "dentist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.CreateAppointment(ctx, tt.params); err == nil {
				t.Error("CreateAppointment() expected error, got nil")
			}
		})
	}
}

func TestCreateReminderDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := in(2 * time.Hour)

	firstID, duplicate, err := s.CreateReminder(ctx, ReminderParams{Content: "buy milk", DueDatetime: due})
	if err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}
	if duplicate {
		t.Error("first create reported duplicate")
	}

	secondID, duplicate, err := s.CreateReminder(ctx, ReminderParams{Content: "buy milk", DueDatetime: due})
	if err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}
	if !duplicate {
		t.Error("identical reminder not reported as duplicate")
	}
	if secondID != firstID {
		t.Errorf("duplicate returned id %s, want existing %s", secondID, firstID)
	}
}

func TestCompleteReminder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateReminder(ctx, ReminderParams{Content: "water plants", DueDatetime: in(time.Hour)})
	if err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}

	if err := s.CompleteReminder(ctx, id); err != nil {
		t.Fatalf("CompleteReminder() error = %v", err)
	}

	active, err := s.ActiveReminders(ctx)
	if err != nil {
		t.Fatalf("ActiveReminders() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("completed reminder still active: %+v", active)
	}
}

func TestCompleteReminderNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.CompleteReminder(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteReminder() error = %v, want ErrNotFound", err)
	}
}

func TestUpcomingAppointmentsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []AppointmentParams{
		{Title: "past", ScheduledDatetime: in(-24 * time.Hour)},
		{Title: "tomorrow", ScheduledDatetime: in(24 * time.Hour)},
		{Title: "next week edge", ScheduledDatetime: in(6 * 24 * time.Hour)},
		{Title: "beyond window", ScheduledDatetime: in(30 * 24 * time.Hour)},
	}
	for _, p := range seed {
		if _, _, err := s.CreateAppointment(ctx, p); err != nil {
			t.Fatalf("CreateAppointment(%q) error = %v", p.Title, err)
		}
	}

	got, err := s.UpcomingAppointments(ctx, 7)
	if err != nil {
		t.Fatalf("UpcomingAppointments() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d appointments, want 2", len(got))
	}
	if got[0].Title != "tomorrow" || got[1].Title != "next week edge" {
		t.Errorf("order = [%s, %s], want soonest first", got[0].Title, got[1].Title)
	}
}

func TestActiveRemindersOrderedByDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.CreateReminder(ctx, ReminderParams{Content: "later", DueDatetime: in(48 * time.Hour)}); err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}
	if _, _, err := s.CreateReminder(ctx, ReminderParams{Content: "sooner", DueDatetime: in(time.Hour), PriorityLevel: 8}); err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}

	active, err := s.ActiveReminders(ctx)
	if err != nil {
		t.Fatalf("ActiveReminders() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d reminders, want 2", len(active))
	}
	if active[0].Content != "sooner" {
		t.Errorf("first reminder = %q, want earliest due", active[0].Content)
	}
	if active[0].PriorityLevel != 8 {
		t.Errorf("priority = %d, want 8", active[0].PriorityLevel)
	}
}
