package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/apperr"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusBooked, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusBooked, StatusCompleted, true},
		{StatusBooked, StatusCancelled, true},
		{StatusConfirmed, StatusBooked, false},
		{StatusBooked, StatusConfirmed, false},
		{StatusConfirmed, StatusPending, false},
		{StatusBooked, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusBooked, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusCancelled, StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assertKind(t, apperr.KindInvalidTransition, err)
			}
		})
	}
}

func bookedAppointment(t *testing.T, f *fixture) (*ScheduleWindow, *AppointmentView) {
	t.Helper()
	w := f.window(t, f.doctor, time.Monday, "09:00", "17:00", 1)
	a, err := f.book(f.patientActor(f.alice), f.alice, w, at(monday, 10, 0))
	require.NoError(t, err)
	require.Equal(t, StatusPending, a.Status)
	return w, a
}

func TestUpdateStatus_HappyPath(t *testing.T) {
	f := newFixture(t)
	w, a := bookedAppointment(t, f)

	v, err := f.svc.UpdateStatus(f.ctx, f.doctorActor, a.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, v.Status)
	assert.Equal(t, 0, f.remaining(t, w, monday), "confirming keeps the unit")

	v, err = f.svc.UpdateStatus(f.ctx, f.doctorActor, a.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, 0, f.remaining(t, w, monday), "completing keeps the unit")

	assert.Equal(t, []string{"PENDING->CONFIRMED", "CONFIRMED->COMPLETED"}, f.metrics.transitions)
}

func TestUpdateStatus_CompletedToPending(t *testing.T) {
	f := newFixture(t)
	_, a := bookedAppointment(t, f)

	_, err := f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusPending)
	assertKind(t, apperr.KindInvalidTransition, err)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	_, a := bookedAppointment(t, f)

	v, err := f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.Equal(t, a.UpdatedAt, v.UpdatedAt)
	assert.Empty(t, f.metrics.transitions)
}

func TestUpdateStatus_Permissions(t *testing.T) {
	f := newFixture(t)
	_, a := bookedAppointment(t, f)

	_, err := f.svc.UpdateStatus(f.ctx, f.patientActor(f.alice), a.ID, StatusConfirmed)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.UpdateStatus(f.ctx, f.otherDoctorActor(), a.ID, StatusConfirmed)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.UpdateStatus(f.ctx, f.patientActor(f.bob), a.ID, StatusCancelled)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.UpdateStatus(f.ctx, f.stranger, a.ID, StatusCancelled)
	assertKind(t, apperr.KindForbidden, err)

	v, err := f.svc.UpdateStatus(f.ctx, f.patientActor(f.alice), a.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)
}

func TestUpdateStatus_UnknownStatusAndAppointment(t *testing.T) {
	f := newFixture(t)
	_, a := bookedAppointment(t, f)

	_, err := f.svc.UpdateStatus(f.ctx, f.admin, a.ID, BookingStatus("LOST"))
	assertKind(t, apperr.KindValidation, err)

	_, err = f.svc.UpdateStatus(f.ctx, f.admin, uuid.New(), StatusCancelled)
	assertKind(t, apperr.KindNotFound, err)
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	w, a := bookedAppointment(t, f)

	_, err := f.svc.UpdateStatus(f.ctx, f.doctorActor, a.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, 0, f.remaining(t, w, monday))
	_, err = f.book(f.reception, f.bob, w, at(monday, 11, 0))
	assertKind(t, apperr.KindConflict, err)

	_, err = f.svc.CancelAppointment(f.ctx, f.patientActor(f.bob), a.ID)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.CancelAppointment(f.ctx, f.otherDoctorActor(), a.ID)
	assertKind(t, apperr.KindForbidden, err)

	v, err := f.svc.CancelAppointment(f.ctx, f.doctorActor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)
	assert.Equal(t, 1, f.remaining(t, w, monday))

	again, err := f.svc.CancelAppointment(f.ctx, f.patientActor(f.alice), a.ID)
	require.NoError(t, err, "cancelling twice is a no-op")
	assert.Equal(t, StatusCancelled, again.Status)

	rebooked, err := f.book(f.reception, f.bob, w, at(monday, 11, 0))
	require.NoError(t, err, "the freed unit can be booked again")
	assert.Equal(t, StatusBooked, rebooked.Status)
	assert.Equal(t, 0, f.remaining(t, w, monday))

	_, err = f.svc.CancelAppointment(f.ctx, f.admin, uuid.New())
	assertKind(t, apperr.KindNotFound, err)
}

func TestCancelAppointment_CompletedCannotCancel(t *testing.T) {
	f := newFixture(t)
	_, a := bookedAppointment(t, f)
	_, err := f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusBooked)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(f.ctx, f.admin, a.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(f.ctx, f.admin, a.ID)
	assertKind(t, apperr.KindInvalidTransition, err)
}

// lostCASAppointments fails every status swap after applying target to the
// stored record, as if a concurrent request had won.
type lostCASAppointments struct {
	AppointmentRepository
	concurrent BookingStatus
}

func (r *lostCASAppointments) UpdateStatus(ctx context.Context, id uuid.UUID, from, _ BookingStatus) (*Appointment, bool, error) {
	if _, _, err := r.AppointmentRepository.UpdateStatus(ctx, id, from, r.concurrent); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func TestUpdateStatus_LostCompareAndSwap(t *testing.T) {
	tests := []struct {
		name       string
		concurrent BookingStatus
		wantErr    apperr.Kind
	}{
		{"concurrent request reached the same status", StatusCancelled, ""},
		{"concurrent request moved elsewhere", StatusConfirmed, apperr.KindInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, a := bookedAppointment(t, f)
			store := &swappedStore{
				MemoryStore: f.store,
				appts:       &lostCASAppointments{AppointmentRepository: f.store.Appointments(), concurrent: tt.concurrent},
			}
			svc := NewService(store, f.dir, Options{Now: func() time.Time { return testNow }})

			v, err := svc.CancelAppointment(f.ctx, f.admin, a.ID)
			if tt.wantErr != "" {
				assertKind(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, v.Status)
		})
	}
}
