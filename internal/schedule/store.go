// Package schedule persists appointments and reminders with exact-match
// duplicate detection, range queries and reminder completion.
package schedule

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engramkit/engram/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a referenced reminder does not exist.
var ErrNotFound = errors.New("not found")

// Appointment is one scheduled appointment.
type Appointment struct {
	AppointmentID        string `json:"appointment_id"`
	CreatedAt            string `json:"created_at"`
	ScheduledDatetime    string `json:"scheduled_datetime"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	Location             string `json:"location,omitempty"`
	SourceConversationID string `json:"source_conversation_id,omitempty"`
}

// Reminder is one reminder, completed or not.
type Reminder struct {
	ReminderID           string `json:"reminder_id"`
	CreatedAt            string `json:"created_at"`
	DueDatetime          string `json:"due_datetime"`
	Content              string `json:"content"`
	PriorityLevel        int    `json:"priority_level"`
	Completed            bool   `json:"completed"`
	SourceConversationID string `json:"source_conversation_id,omitempty"`
}

// AppointmentParams describes an appointment to create.
type AppointmentParams struct {
	Title                string
	ScheduledDatetime    string
	Description          string
	Location             string
	SourceConversationID string
}

// ReminderParams describes a reminder to create.
type ReminderParams struct {
	Content              string
	DueDatetime          string
	PriorityLevel        int
	SourceConversationID string
}

// Store is the schedule database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the schedule database at path and applies its migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule store: %w", err)
	}
	if err := store.Migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schedule store: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "schedule")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAppointment stores an appointment, deduplicating on (title,
// scheduled_datetime, location, source_conversation_id).
func (s *Store) CreateAppointment(ctx context.Context, p AppointmentParams) (id string, duplicate bool, err error) {
	if p.Title == "" {
		return "", false, fmt.Errorf("appointment title must not be empty")
	}
	if p.ScheduledDatetime == "" {
		return "", false, fmt.Errorf("appointment scheduled_datetime must not be empty")
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var existingID string
		qErr := tx.QueryRowContext(ctx, `
			SELECT appointment_id FROM appointments
			WHERE title = ? AND scheduled_datetime = ? AND location IS ? AND source_conversation_id IS ?
			LIMIT 1`,
			p.Title, p.ScheduledDatetime, nullable(p.Location), nullable(p.SourceConversationID),
		).Scan(&existingID)
		switch {
		case qErr == nil:
			id = existingID
			duplicate = true
			return nil
		case qErr != sql.ErrNoRows:
			return fmt.Errorf("failed to check for duplicate appointment: %w", qErr)
		}

		id = uuid.NewString()
		if _, iErr := tx.ExecContext(ctx, `
			INSERT INTO appointments
				(appointment_id, created_at, scheduled_datetime, title, description, location, source_conversation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, store.FormatTime(time.Now()), p.ScheduledDatetime, p.Title,
			nullable(p.Description), nullable(p.Location), nullable(p.SourceConversationID),
		); iErr != nil {
			return fmt.Errorf("failed to insert appointment: %w", iErr)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, duplicate, nil
}

// CreateReminder stores a reminder, deduplicating on (content,
// due_datetime, source_conversation_id).
func (s *Store) CreateReminder(ctx context.Context, p ReminderParams) (id string, duplicate bool, err error) {
	if p.Content == "" {
		return "", false, fmt.Errorf("reminder content must not be empty")
	}
	if p.DueDatetime == "" {
		return "", false, fmt.Errorf("reminder due_datetime must not be empty")
	}
	if p.PriorityLevel == 0 {
		p.PriorityLevel = 5
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var existingID string
		qErr := tx.QueryRowContext(ctx, `
			SELECT reminder_id FROM reminders
			WHERE content = ? AND due_datetime = ? AND source_conversation_id IS ?
			LIMIT 1`,
			p.Content, p.DueDatetime, nullable(p.SourceConversationID),
		).Scan(&existingID)
		switch {
		case qErr == nil:
			id = existingID
			duplicate = true
			return nil
		case qErr != sql.ErrNoRows:
			return fmt.Errorf("failed to check for duplicate reminder: %w", qErr)
		}

		id = uuid.NewString()
		if _, iErr := tx.ExecContext(ctx, `
			INSERT INTO reminders
				(reminder_id, created_at, due_datetime, content, priority_level, completed, source_conversation_id)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			id, store.FormatTime(time.Now()), p.DueDatetime, p.Content,
			p.PriorityLevel, nullable(p.SourceConversationID),
		); iErr != nil {
			return fmt.Errorf("failed to insert reminder: %w", iErr)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, duplicate, nil
}

// CompleteReminder marks a reminder completed. Returns ErrNotFound when no
// reminder has that id.
func (s *Store) CompleteReminder(ctx context.Context, reminderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET completed = 1 WHERE reminder_id = ?`, reminderID)
	if err != nil {
		return fmt.Errorf("failed to complete reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", reminderID, ErrNotFound)
	}
	return nil
}

// UpcomingAppointments returns appointments scheduled between now and
// daysAhead days from now, soonest first.
func (s *Store) UpcomingAppointments(ctx context.Context, daysAhead int) ([]Appointment, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	now := time.Now()
	from := store.FormatTime(now)
	until := store.FormatTime(now.AddDate(0, 0, daysAhead))

	rows, err := s.db.QueryContext(ctx, `
		SELECT appointment_id, created_at, scheduled_datetime, title, description, location, source_conversation_id
		FROM appointments
		WHERE scheduled_datetime >= ? AND scheduled_datetime <= ?
		ORDER BY scheduled_datetime ASC`,
		from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming appointments: %w", err)
	}
	defer rows.Close()

	var appointments []Appointment
	for rows.Next() {
		var a Appointment
		var desc, loc, source sql.NullString
		if err := rows.Scan(&a.AppointmentID, &a.CreatedAt, &a.ScheduledDatetime, &a.Title, &desc, &loc, &source); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.Description = desc.String
		a.Location = loc.String
		a.SourceConversationID = source.String
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

// ActiveReminders returns all incomplete reminders, earliest due first.
func (s *Store) ActiveReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reminder_id, created_at, due_datetime, content, priority_level, completed, source_conversation_id
		FROM reminders
		WHERE completed = 0
		ORDER BY due_datetime ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active reminders: %w", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		var completed int
		var source sql.NullString
		if err := rows.Scan(&r.ReminderID, &r.CreatedAt, &r.DueDatetime, &r.Content, &r.PriorityLevel, &completed, &source); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		r.Completed = completed != 0
		r.SourceConversationID = source.String
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return reminders, nil
}

// Counts reports table sizes for the health check.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 2)
	for _, table := range []string{"appointments", "reminders"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
