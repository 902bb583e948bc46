package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/pagination"
)

// seed books alice and bob with the main doctor and carol with the other one.
func seed(t *testing.T, f *fixture) (aliceAppt, bobAppt, carolAppt *AppointmentView) {
	t.Helper()
	w := f.window(t, f.doctor, time.Monday, "09:00", "17:00", 5)
	o := f.window(t, f.otherDoctor, time.Monday, "09:00", "17:00", 5)

	var err error
	aliceAppt, err = f.book(f.reception, f.alice, w, at(monday, 9, 0))
	require.NoError(t, err)
	bobAppt, err = f.book(f.patientActor(f.bob), f.bob, w, at(monday, 10, 0))
	require.NoError(t, err)
	carolAppt, err = f.book(f.reception, f.carol, o, at(monday, 11, 0))
	require.NoError(t, err)
	return aliceAppt, bobAppt, carolAppt
}

func listIDs(views []*AppointmentView) []uuid.UUID {
	out := make([]uuid.UUID, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestListAppointments_ByRole(t *testing.T) {
	f := newFixture(t)
	a, b, c := seed(t, f)
	all := pagination.New(0, 0)

	views, total, err := f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{}, all)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, listIDs(views))

	views, total, err = f.svc.ListAppointments(f.ctx, f.doctorActor, AppointmentFilter{}, all)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, listIDs(views))

	views, total, err = f.svc.ListAppointments(f.ctx, f.patientActor(f.carol), AppointmentFilter{}, all)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []uuid.UUID{c.ID}, listIDs(views))
	assert.Equal(t, "Dr. Shepherd", views[0].DoctorName)
	assert.Equal(t, "Carol", views[0].PatientName)

	views, total, err = f.svc.ListAppointments(f.ctx, f.stranger, AppointmentFilter{}, all)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, views)
}

func TestListAppointments_CallerScopeCannotBeWidened(t *testing.T) {
	f := newFixture(t)
	_, b, _ := seed(t, f)

	views, _, err := f.svc.ListAppointments(f.ctx, f.patientActor(f.bob),
		AppointmentFilter{Scope: Scope{All: true}}, pagination.New(0, 0))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, listIDs(views))
}

func TestListAppointments_Filters(t *testing.T) {
	f := newFixture(t)
	_, b, c := seed(t, f)
	all := pagination.New(0, 0)

	views, _, err := f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{Status: StatusPending}, all)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, listIDs(views))

	other := f.otherDoctor.ID
	views, _, err = f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{DoctorID: &other}, all)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID}, listIDs(views))

	from, to := at(monday, 9, 30), at(monday, 11, 0)
	views, _, err = f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{From: &from, To: &to}, all)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, listIDs(views), "from inclusive, to exclusive")
}

func TestListAppointments_Pagination(t *testing.T) {
	f := newFixture(t)
	a, b, c := seed(t, f)

	page, total, err := f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{}, pagination.New(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, listIDs(page))

	page, total, err = f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{}, pagination.New(2, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []uuid.UUID{c.ID}, listIDs(page))

	page, _, err = f.svc.ListAppointments(f.ctx, f.admin, AppointmentFilter{}, pagination.New(2, 10))
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestGetAppointment(t *testing.T) {
	f := newFixture(t)
	a, _, c := seed(t, f)

	v, err := f.svc.GetAppointment(f.ctx, f.patientActor(f.alice), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v.PatientName)
	assert.Equal(t, "Cardiology", v.Specialty)

	_, err = f.svc.GetAppointment(f.ctx, f.patientActor(f.alice), c.ID)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.GetAppointment(f.ctx, f.doctorActor, c.ID)
	assertKind(t, apperr.KindForbidden, err)

	_, err = f.svc.GetAppointment(f.ctx, f.admin, uuid.New())
	assertKind(t, apperr.KindNotFound, err)
}

func TestCountByStatus(t *testing.T) {
	f := newFixture(t)
	a, _, _ := seed(t, f)
	_, err := f.svc.CancelAppointment(f.ctx, f.admin, a.ID)
	require.NoError(t, err)

	counts, err := f.svc.CountByStatus(f.ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, map[BookingStatus]int{
		StatusPending: 1, StatusConfirmed: 0, StatusBooked: 1, StatusCompleted: 0, StatusCancelled: 1,
	}, counts)

	counts, err = f.svc.CountByStatus(f.ctx, f.doctorActor)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusCancelled])
	assert.Equal(t, 0, counts[StatusBooked])

	counts, err = f.svc.CountByStatus(f.ctx, f.stranger)
	require.NoError(t, err)
	assert.Len(t, counts, len(AllStatuses))
	for _, n := range counts {
		assert.Zero(t, n)
	}
}
