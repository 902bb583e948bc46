package scheduling

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
)

type RegisterWindowInput struct {
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime ClockTime
	EndTime   ClockTime
	Capacity  int
}

func (in RegisterWindowInput) validate() error {
	if in.DoctorID == uuid.Nil {
		return apperr.Validation("doctor_id is required")
	}
	if in.DayOfWeek < time.Sunday || in.DayOfWeek > time.Saturday {
		return apperr.Validation("day_of_week must be between 0 (Sunday) and 6 (Saturday), got %d", in.DayOfWeek)
	}
	if !in.StartTime.Valid() || !in.EndTime.Valid() {
		return apperr.Validation("start_time and end_time must be between 00:00 and 24:00")
	}
	if in.StartTime >= in.EndTime {
		return apperr.Validation("start_time %s must be before end_time %s", in.StartTime, in.EndTime)
	}
	if in.Capacity < 0 {
		return apperr.Validation("capacity must not be negative, got %d", in.Capacity)
	}
	return nil
}

// RegisterWindow adds a weekly window for a doctor. Windows of one doctor on
// one weekday never overlap.
func (s *Service) RegisterWindow(ctx context.Context, actor auth.Actor, in RegisterWindowInput) (_ *ScheduleWindow, err error) {
	ctx, span := s.startSpan(ctx, "RegisterWindow", attribute.String("doctor.id", in.DoctorID.String()))
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if !canManageWindows(actor, in.DoctorID) {
		return nil, apperr.Forbidden("%s may not manage schedule windows of doctor %s", actor.Role, in.DoctorID)
	}
	if _, err := s.doctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	w := &ScheduleWindow{
		DoctorID:  in.DoctorID,
		DayOfWeek: in.DayOfWeek,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Capacity:  in.Capacity,
	}
	windows := s.store.Windows()
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := windows.LockDoctorDay(ctx, w.DoctorID, w.DayOfWeek); err != nil {
			return storeErr(err, "lock doctor day")
		}
		existing, err := windows.ListByDoctorDay(ctx, w.DoctorID, w.DayOfWeek)
		if err != nil {
			return storeErr(err, "list schedule windows")
		}
		for _, e := range existing {
			if w.Overlaps(e) {
				return apperr.Conflict("window %s-%s overlaps existing window %s (%s-%s)",
					w.StartTime, w.EndTime, e.ID, e.StartTime, e.EndTime)
			}
		}
		return storeErr(windows.Create(ctx, w), "create schedule window")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("window_id", w.ID).
		Stringer("doctor_id", w.DoctorID).
		Stringer("day", w.DayOfWeek).
		Msg("schedule window registered")
	return w, nil
}

// ListWindows returns a doctor's windows ordered by weekday then start time.
func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	windows, err := s.store.Windows().ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storeErr(err, "list schedule windows")
	}
	slices.SortFunc(windows, compareWindows)
	return windows, nil
}

func (s *Service) GetWindow(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return s.window(ctx, id)
}

// RemoveWindow deletes a window that no open appointment references.
// Completed and cancelled appointments keep their window id.
func (s *Service) RemoveWindow(ctx context.Context, actor auth.Actor, id uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "RemoveWindow", attribute.String("window.id", id.String()))
	defer func() { endSpan(span, err) }()

	if !actor.Role.IsStaff() {
		return apperr.Forbidden("%s may not remove schedule windows", actor.Role)
	}
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		w, err := s.store.Windows().GetForUpdate(ctx, id)
		if err != nil {
			return storeErr(err, "schedule window")
		}
		open, err := s.store.Appointments().CountOpenByWindow(ctx, w.ID)
		if err != nil {
			return storeErr(err, "count appointments")
		}
		if open > 0 {
			return apperr.Conflict("schedule window %s has %d open appointments", w.ID, open)
		}
		return storeErr(s.store.Windows().Delete(ctx, w.ID), "schedule window")
	})
	if err != nil {
		return err
	}
	s.log.Info().Stringer("window_id", id).Msg("schedule window removed")
	return nil
}
