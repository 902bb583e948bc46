package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ClockTime is a time of day with minute precision, stored as minutes since
// midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// EndOfDay is "24:00". It is only meaningful as the end of a window.
const EndOfDay ClockTime = minutesPerDay

// ParseClockTime parses "HH:MM" in the range 00:00 to 23:59, plus 24:00.
func ParseClockTime(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h == 24 && m == 0 {
		return EndOfDay, nil
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ClockOf returns the time of day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) Valid() bool { return c >= 0 && c <= EndOfDay }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("clock time must be a string: %w", err)
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ScheduleWindow is a recurring weekly block in which a doctor accepts up to
// Capacity active appointments per date.
type ScheduleWindow struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	DoctorID  uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	DayOfWeek time.Weekday `db:"day_of_week" json:"day_of_week"`
	StartTime ClockTime    `db:"start_minute" json:"start_time"`
	EndTime   ClockTime    `db:"end_minute" json:"end_time"`
	Capacity  int          `db:"capacity" json:"capacity"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Overlaps reports whether the half-open ranges [start, end) intersect.
func (w *ScheduleWindow) Overlaps(o *ScheduleWindow) bool {
	return w.DayOfWeek == o.DayOfWeek && w.StartTime < o.EndTime && o.StartTime < w.EndTime
}

// Contains reports whether t, viewed in loc, falls on the window's weekday
// and inside [StartTime, EndTime).
func (w *ScheduleWindow) Contains(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	clock := ClockOf(local)
	return local.Weekday() == w.DayOfWeek && clock >= w.StartTime && clock < w.EndTime
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusBooked    BookingStatus = "BOOKED"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusBooked, StatusCompleted, StatusCancelled}

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusPending, StatusConfirmed, StatusBooked, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown booking status %q", s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ConsumesCapacity reports whether an appointment in this status counts
// against its window.
func (s BookingStatus) ConsumesCapacity() bool {
	return s != StatusCancelled
}

type Appointment struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	PatientID           uuid.UUID     `db:"patient_id" json:"patient_id"`
	DoctorID            uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	ScheduleWindowID    *uuid.UUID    `db:"schedule_window_id" json:"schedule_window_id,omitempty"`
	AppointmentDateTime time.Time     `db:"appointment_date_time" json:"appointment_date_time"`
	SlotDate            time.Time     `db:"slot_date" json:"-"`
	Status              BookingStatus `db:"status" json:"status"`
	Reason              string        `db:"reason" json:"reason"`
	VisitType           string        `db:"visit_type" json:"visit_type"`
	WalkIn              bool          `db:"walk_in" json:"walk_in"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// AppointmentView is an appointment enriched with directory display data.
type AppointmentView struct {
	Appointment
	PatientName string `json:"patient_name,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
}

// WindowAvailability is a window with capacity left on a date.
type WindowAvailability struct {
	WindowID  uuid.UUID `json:"window_id"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
	Capacity  int       `json:"capacity"`
	Remaining int       `json:"remaining"`
}

// Doctor and Patient are read-only projections owned by user management.
type Doctor struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Name       string    `db:"name" json:"name"`
	Specialty  string    `db:"specialty" json:"specialty"`
	Department string    `db:"department" json:"department"`
	Available  bool      `db:"available" json:"available"`
}

type Patient struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Email string    `db:"email" json:"email"`
	Name  string    `db:"name" json:"name"`
}

// CivilDate truncates t, viewed in loc, to its calendar date. The result is
// midnight UTC so it compares and encodes as a plain date.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	return DateOf(t.In(loc))
}

// DateOf keeps the calendar date of t as written in its own location and
// drops the clock. DateOf(CivilDate(t, loc)) == CivilDate(t, loc).
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
