package scheduling

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
)

// transitions lists the legal moves out of each non-terminal status.
// Re-entering the current status is handled separately as a no-op.
var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusBooked, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusBooked:    {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from may move to a different status to.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns nil when to is reachable from from, including the
// same-status case.
func checkTransition(from, to BookingStatus) error {
	if from == to || CanTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return apperr.InvalidTransition("appointment is %s and can no longer change", from)
	}
	return apperr.InvalidTransition("cannot move appointment from %s to %s", from, to)
}

// UpdateStatus moves an appointment along the lifecycle. Setting the current
// status again returns the record unchanged.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, to BookingStatus) (_ *AppointmentView, err error) {
	ctx, span := s.startSpan(ctx, "UpdateStatus",
		attribute.String("appointment.id", id.String()),
		attribute.String("status.to", string(to)))
	defer func() { endSpan(span, err) }()

	if _, err := ParseBookingStatus(string(to)); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	a, err := s.appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSetStatus(actor, a, to) {
		return nil, apperr.Forbidden("%s may not set appointment %s to %s", actor.Role, id, to)
	}
	return s.transition(ctx, actor, a, to)
}

// CancelAppointment cancels an appointment, releasing its capacity unit.
func (s *Service) CancelAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *AppointmentView, err error) {
	ctx, span := s.startSpan(ctx, "CancelAppointment", attribute.String("appointment.id", id.String()))
	defer func() { endSpan(span, err) }()

	a, err := s.appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canCancel(actor, a) {
		return nil, apperr.Forbidden("%s may not cancel appointment %s", actor.Role, id)
	}
	return s.transition(ctx, actor, a, StatusCancelled)
}

// transition applies to with a compare-and-swap on the current status. When
// the swap loses, the fresh record decides: already at to is a no-op,
// anything else is an invalid transition.
func (s *Service) transition(ctx context.Context, actor auth.Actor, a *Appointment, to BookingStatus) (*AppointmentView, error) {
	if err := checkTransition(a.Status, to); err != nil {
		return nil, err
	}
	if a.Status == to {
		return s.view(ctx, a), nil
	}

	from := a.Status
	updated, ok, err := s.store.Appointments().UpdateStatus(ctx, a.ID, from, to)
	if err != nil {
		return nil, storeErr(err, "update appointment status")
	}
	if !ok {
		cur, err := s.appointment(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if cur.Status == to {
			return s.view(ctx, cur), nil
		}
		return nil, apperr.InvalidTransition("appointment changed to %s concurrently; cannot move to %s", cur.Status, to)
	}

	s.metrics.StatusTransition(string(from), string(to))
	s.log.Info().
		Stringer("appointment_id", a.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Stringer("actor", actor).
		Msg("appointment status changed")
	return s.view(ctx, updated), nil
}
