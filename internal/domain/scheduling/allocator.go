package scheduling

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// RemainingCapacity is the window capacity minus the appointments on date
// that still consume it, floored at zero. It is computed from current state
// on every call. Only the calendar fields of date are read, so a SlotDate and
// a midnight in the clinic zone name the same day.
func (s *Service) RemainingCapacity(ctx context.Context, windowID uuid.UUID, date time.Time) (int, error) {
	w, err := s.window(ctx, windowID)
	if err != nil {
		return 0, err
	}
	return s.remaining(ctx, w, DateOf(date))
}

func (s *Service) remaining(ctx context.Context, w *ScheduleWindow, day time.Time) (int, error) {
	used, err := s.store.Appointments().CountActive(ctx, w.ID, day)
	if err != nil {
		return 0, storeErr(err, "count appointments")
	}
	return max(w.Capacity-used, 0), nil
}

// AvailableWindows yields the doctor's windows on date's weekday that still
// have capacity. Capacity is computed as the sequence is consumed. The first
// error ends the sequence.
func (s *Service) AvailableWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) iter.Seq2[WindowAvailability, error] {
	return func(yield func(WindowAvailability, error) bool) {
		day := DateOf(date)
		windows, err := s.store.Windows().ListByDoctorDay(ctx, doctorID, day.Weekday())
		if err != nil {
			yield(WindowAvailability{}, storeErr(err, "list schedule windows"))
			return
		}
		for _, w := range windows {
			left, err := s.remaining(ctx, w, day)
			if err != nil {
				yield(WindowAvailability{}, err)
				return
			}
			if left == 0 {
				continue
			}
			if !yield(WindowAvailability{
				WindowID:  w.ID,
				StartTime: w.StartTime,
				EndTime:   w.EndTime,
				Capacity:  w.Capacity,
				Remaining: left,
			}, nil) {
				return
			}
		}
	}
}
