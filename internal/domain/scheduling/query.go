package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/pagination"
)

// GetAppointment returns an appointment the actor may see. Appointments
// hidden from the actor yield Forbidden.
func (s *Service) GetAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*AppointmentView, error) {
	a, err := s.appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, a) {
		return nil, apperr.Forbidden("%s may not view appointment %s", actor.Role, id)
	}
	return s.view(ctx, a), nil
}

// ListAppointments pages through the appointments visible to actor. The
// actor's scope is applied by the query and again to the returned rows.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f AppointmentFilter, p pagination.Params) ([]*AppointmentView, int, error) {
	f.Scope = ScopeFor(actor)
	if f.Scope.Empty() {
		return nil, 0, nil
	}
	rows, total, err := s.store.Appointments().List(ctx, f, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, storeErr(err, "list appointments")
	}
	rows = FilterAppointments(rows, actor)

	e := s.newEnricher()
	views := make([]*AppointmentView, len(rows))
	for i, a := range rows {
		views[i] = e.view(ctx, a)
	}
	return views, total, nil
}

// CountByStatus counts the actor-visible appointments per status. Every
// status is present in the result.
func (s *Service) CountByStatus(ctx context.Context, actor auth.Actor) (map[BookingStatus]int, error) {
	counts := make(map[BookingStatus]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	scope := ScopeFor(actor)
	if scope.Empty() {
		return counts, nil
	}
	got, err := s.store.Appointments().CountByStatus(ctx, scope)
	if err != nil {
		return nil, storeErr(err, "count appointments")
	}
	for st, n := range got {
		counts[st] = n
	}
	return counts, nil
}
