package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned by repositories and directories when no row
// matches.
var ErrRecordNotFound = errors.New("scheduling: record not found")

type WindowRepository interface {
	Create(ctx context.Context, w *ScheduleWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error)
	// GetForShare reads a window and, inside a transaction, blocks its
	// removal until the transaction ends.
	GetForShare(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error)
	// GetForUpdate reads a window and, inside a transaction, excludes
	// concurrent bookings against it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error)
	ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleWindow, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// LockDoctorDay serializes overlap checks for one doctor and weekday
	// until the surrounding transaction ends.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// CountActive counts appointments on the window and date that still
	// consume capacity.
	CountActive(ctx context.Context, windowID uuid.UUID, date time.Time) (int, error)
	// CountOpenByWindow counts non-terminal appointments on the window for
	// any date.
	CountOpenByWindow(ctx context.Context, windowID uuid.UUID) (int, error)
	// UpdateStatus moves the appointment from one status to another only if
	// it is still in from. It reports false when the row was not in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Appointment, bool, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	CountByStatus(ctx context.Context, scope Scope) (map[BookingStatus]int, error)

	// WindowDayVersion returns the booking version of (window, date),
	// creating the row at version 0 when absent.
	WindowDayVersion(ctx context.Context, windowID uuid.UUID, date time.Time) (int64, error)
	// BumpWindowDayVersion advances the version from v to v+1. It reports
	// false when another booking advanced it first.
	BumpWindowDayVersion(ctx context.Context, windowID uuid.UUID, date time.Time, v int64) (bool, error)
}

// TxRunner runs fn in a transaction carried by the context passed to fn.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories with their transaction runner.
type Store interface {
	TxRunner
	Windows() WindowRepository
	Appointments() AppointmentRepository
}

// Scope restricts appointment queries to what an actor may see. The zero
// value matches nothing.
type Scope struct {
	All       bool
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

// Matches applies the scope to a single appointment.
func (s Scope) Matches(a *Appointment) bool {
	switch {
	case s.All:
		return true
	case s.DoctorID != nil:
		return a.DoctorID == *s.DoctorID
	case s.PatientID != nil:
		return a.PatientID == *s.PatientID
	default:
		return false
	}
}

// Empty reports whether the scope can match no appointment.
func (s Scope) Empty() bool {
	return !s.All && s.DoctorID == nil && s.PatientID == nil
}

// AppointmentFilter narrows a listing. From is inclusive and To exclusive.
type AppointmentFilter struct {
	Scope    Scope
	Status   BookingStatus
	DoctorID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

// Matches applies the filter, including its scope, to one appointment.
func (f AppointmentFilter) Matches(a *Appointment) bool {
	if !f.Scope.Matches(a) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.From != nil && a.AppointmentDateTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.AppointmentDateTime.Before(*f.To) {
		return false
	}
	return true
}
