package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// ParseStatus accepts exactly the three lifecycle names.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q: must be one of Scheduled, Completed, Cancelled", s)
}

// Appointment is a booked visit. Date and Time are the wall-clock values the
// patient submitted; they are never converted between zones.
type Appointment struct {
	AppointmentID int64     `json:"appointment_id"`
	PatientID     int64     `json:"patient_id"`
	DoctorID      int64     `json:"doctor_id"`
	Date          string    `json:"appointment_date"`
	Time          string    `json:"appointment_time"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// NotificationKind says which email a notification row is about.
type NotificationKind string

const (
	KindConfirmation NotificationKind = "confirmation"
	KindReminder     NotificationKind = "reminder"
	KindCancellation NotificationKind = "cancellation"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "Sent"
	OutcomeFailed Outcome = "Failed"
)

// Notification is one row of the append-only delivery log. SentAt is nil for
// failed attempts.
type Notification struct {
	NotificationID int64            `json:"notification_id"`
	AppointmentID  int64            `json:"appointment_id"`
	Kind           NotificationKind `json:"kind"`
	Status         Outcome          `json:"status"`
	SentAt         *time.Time       `json:"sent_at"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Pending reports whether the row counts as not yet sent.
func (n *Notification) Pending() bool { return n.SentAt == nil }

const dateLayout = "2006-01-02"

var timePattern = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}))?$`)

// NormalizeTime validates HH:MM or HH:MM:SS and returns HH:MM:SS.
// "12:00" becomes "12:00:00"; "12:0", "24:00" and "12:60" are rejected.
func NormalizeTime(s string) (string, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("time must be HH:MM or HH:MM:SS, got %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second := 0
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	if hour > 23 || minute > 59 || second > 59 {
		return "", fmt.Errorf("time %q is out of range", s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hour, minute, second), nil
}

// ValidateDate checks for a real calendar date in YYYY-MM-DD form.
func ValidateDate(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("date is required")
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("date must be a calendar date in YYYY-MM-DD form, got %q", s)
	}
	return s, nil
}

// DisplayTime renders the stored wall-clock date and time as clinic-local text
// for email, e.g. "Tuesday, September 2, 2025 at 12:00 PM EDT".
func DisplayTime(date, clock string, loc *time.Location) (string, error) {
	t, err := time.ParseInLocation(dateLayout+" 15:04:05", date+" "+clock, loc)
	if err != nil {
		return "", fmt.Errorf("parse appointment time: %w", err)
	}
	return t.Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
}
