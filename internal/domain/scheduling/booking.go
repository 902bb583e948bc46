package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/pkg/apperr"
)

// errLostRace marks a booking transaction that lost the window-day version
// to a concurrent booking.
var errLostRace = errors.New("concurrent booking on the same window and date")

type BookInput struct {
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	ScheduleWindowID *uuid.UUID
	DateTime         time.Time
	Reason           string
	VisitType        string
}

func (s *Service) validateBooking(in *BookInput) error {
	in.Reason = strings.TrimSpace(in.Reason)
	in.VisitType = strings.TrimSpace(in.VisitType)
	switch {
	case in.PatientID == uuid.Nil:
		return apperr.Validation("patient_id is required")
	case in.DoctorID == uuid.Nil:
		return apperr.Validation("doctor_id is required")
	case in.DateTime.IsZero():
		return apperr.Validation("appointment_date_time is required")
	case in.DateTime.Before(s.now()):
		return apperr.Validation("appointment_date_time %s is in the past", in.DateTime.Format(time.RFC3339))
	case in.Reason == "":
		return apperr.Validation("reason must not be blank")
	}
	return nil
}

func (s *Service) initialStatus(actor auth.Actor) BookingStatus {
	if s.opts.StaffDirect && actor.Role.IsStaff() {
		return StatusBooked
	}
	return StatusPending
}

// BookAppointment validates a booking and commits it against the window's
// remaining capacity. Without a window the appointment is a walk-in and
// capacity is not consulted.
func (s *Service) BookAppointment(ctx context.Context, actor auth.Actor, in BookInput) (_ *AppointmentView, err error) {
	ctx, span := s.startSpan(ctx, "BookAppointment",
		attribute.String("doctor.id", in.DoctorID.String()),
		attribute.String("actor.role", string(actor.Role)))
	defer func() {
		endSpan(span, err)
		s.metrics.BookingAttempt(bookingOutcome(err))
	}()

	if err := s.validateBooking(&in); err != nil {
		return nil, err
	}
	if !canBookFor(actor, in.PatientID, in.DoctorID) {
		return nil, apperr.Forbidden("%s may not book for patient %s with doctor %s", actor.Role, in.PatientID, in.DoctorID)
	}
	doc, err := s.doctor(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if _, err := s.patient(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if !doc.Available {
		return nil, apperr.Conflict("doctor %s is not accepting appointments", doc.ID)
	}

	a := &Appointment{
		PatientID:           in.PatientID,
		DoctorID:            in.DoctorID,
		ScheduleWindowID:    in.ScheduleWindowID,
		AppointmentDateTime: in.DateTime.UTC(),
		SlotDate:            CivilDate(in.DateTime, s.opts.Location),
		Status:              s.initialStatus(actor),
		Reason:              in.Reason,
		VisitType:           in.VisitType,
	}
	if a.VisitType == "" {
		a.VisitType = s.opts.DefaultVisitType
	}

	if in.ScheduleWindowID == nil {
		a.WalkIn = true
		if err := s.store.Appointments().Create(ctx, a); err != nil {
			return nil, storeErr(err, "create appointment")
		}
		s.log.Warn().
			Stringer("appointment_id", a.ID).
			Stringer("doctor_id", a.DoctorID).
			Stringer("actor", actor).
			Msg("walk-in appointment booked without a schedule window; capacity not enforced")
		return s.view(ctx, a), nil
	}

	w, err := s.window(ctx, *in.ScheduleWindowID)
	if err != nil {
		return nil, err
	}
	if w.DoctorID != in.DoctorID {
		return nil, apperr.Validation("schedule window %s belongs to another doctor", w.ID)
	}
	if !w.Contains(in.DateTime, s.opts.Location) {
		return nil, apperr.Conflict("%s is outside window %s (%s %s-%s)",
			in.DateTime.In(s.opts.Location).Format("Mon 15:04"), w.ID, w.DayOfWeek, w.StartTime, w.EndTime)
	}

	if err := s.commitWithRetry(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().
		Stringer("appointment_id", a.ID).
		Stringer("window_id", w.ID).
		Str("status", string(a.Status)).
		Msg("appointment booked")
	return s.view(ctx, a), nil
}

// commitWithRetry runs the capacity-checked insert, retrying the whole
// transaction with exponential backoff while it loses races.
func (s *Service) commitWithRetry(ctx context.Context, a *Appointment) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.opts.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			s.metrics.BookingRetry()
		}
		err := s.store.InTx(ctx, func(ctx context.Context) error {
			return s.commitBooking(ctx, a)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errLostRace), db.IsSerializationFailure(err):
			s.log.Debug().Err(err).Int("attempt", attempt).Msg("booking lost a race")
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errLostRace), db.IsSerializationFailure(err):
		return apperr.Conflict("window %s is being booked concurrently; no capacity could be secured after %d attempts",
			*a.ScheduleWindowID, attempt)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Internal("booking interrupted", err)
	default:
		return storeErr(err, "commit booking")
	}
}

// commitBooking is one booking attempt inside a transaction: read the
// window-day version, check capacity, advance the version, then insert.
func (s *Service) commitBooking(ctx context.Context, a *Appointment) error {
	windows, appts := s.store.Windows(), s.store.Appointments()

	w, err := windows.GetForShare(ctx, *a.ScheduleWindowID)
	if err != nil {
		return storeErr(err, "schedule window")
	}
	v, err := appts.WindowDayVersion(ctx, w.ID, a.SlotDate)
	if err != nil {
		return err
	}
	used, err := appts.CountActive(ctx, w.ID, a.SlotDate)
	if err != nil {
		return err
	}
	if used >= w.Capacity {
		return apperr.Conflict("schedule window %s has no remaining capacity on %s",
			w.ID, a.SlotDate.Format(time.DateOnly))
	}
	ok, err := appts.BumpWindowDayVersion(ctx, w.ID, a.SlotDate, v)
	if err != nil {
		return err
	}
	if !ok {
		return errLostRace
	}
	return appts.Create(ctx, a)
}

func bookingOutcome(err error) string {
	if err == nil {
		return telemetry.OutcomeBooked
	}
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return telemetry.OutcomeConflict
	case apperr.KindInternal:
		return telemetry.OutcomeError
	default:
		return telemetry.OutcomeRejected
	}
}
