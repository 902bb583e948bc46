package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

var pg = goqu.Dialect("postgres")

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool         *pgxpool.Pool
	windows      *windowRepoPG
	appointments *appointmentRepoPG
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{
		pool:         pool,
		windows:      &windowRepoPG{pool: pool},
		appointments: &appointmentRepoPG{pool: pool},
	}
}

func (s *PGStore) Windows() WindowRepository           { return s.windows }
func (s *PGStore) Appointments() AppointmentRepository { return s.appointments }

// InTx runs fn in a READ COMMITTED transaction. Booking correctness rests on
// the window-day version row, not on the isolation level.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// =========== Window Repository ===========

type windowRepoPG struct{ pool *pgxpool.Pool }

const windowCols = `id, doctor_id, day_of_week, start_minute, end_minute, capacity, created_at`

func scanWindow(row pgx.Row) (*ScheduleWindow, error) {
	var w ScheduleWindow
	var day, start, end int16
	if err := row.Scan(&w.ID, &w.DoctorID, &day, &start, &end, &w.Capacity, &w.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	w.DayOfWeek = time.Weekday(day)
	w.StartTime, w.EndTime = ClockTime(start), ClockTime(end)
	return &w, nil
}

func (r *windowRepoPG) Create(ctx context.Context, w *ScheduleWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule_windows (id, doctor_id, day_of_week, start_minute, end_minute, capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		w.ID, w.DoctorID, int16(w.DayOfWeek), int16(w.StartTime), int16(w.EndTime), w.Capacity,
	).Scan(&w.CreatedAt)
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return scanWindow(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+windowCols+` FROM schedule_windows WHERE id = $1`, id))
}

func (r *windowRepoPG) GetForShare(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return scanWindow(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+windowCols+` FROM schedule_windows WHERE id = $1 FOR SHARE`, id))
}

func (r *windowRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return scanWindow(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+windowCols+` FROM schedule_windows WHERE id = $1 FOR UPDATE`, id))
}

func (r *windowRepoPG) list(ctx context.Context, sql string, args ...any) ([]*ScheduleWindow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *windowRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	return r.list(ctx, `SELECT `+windowCols+` FROM schedule_windows
		WHERE doctor_id = $1 ORDER BY day_of_week, start_minute`, doctorID)
}

func (r *windowRepoPG) ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleWindow, error) {
	return r.list(ctx, `SELECT `+windowCols+` FROM schedule_windows
		WHERE doctor_id = $1 AND day_of_week = $2 ORDER BY start_minute`, doctorID, int16(day))
}

func (r *windowRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `DELETE FROM schedule_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	_, err = conn.Exec(ctx, `DELETE FROM window_day_versions WHERE window_id = $1`, id)
	return err
}

func (r *windowRepoPG) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error {
	key := doctorID.String() + ":" + strconv.Itoa(int(day))
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

var apptCols = []any{
	"id", "patient_id", "doctor_id", "schedule_window_id", "appointment_date_time", "slot_date",
	"status", "reason", "visit_type", "walk_in", "created_at", "updated_at",
}

const apptColList = `id, patient_id, doctor_id, schedule_window_id, appointment_date_time, slot_date,
	status, reason, visit_type, walk_in, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduleWindowID, &a.AppointmentDateTime, &a.SlotDate,
		&status, &a.Reason, &a.VisitType, &a.WalkIn, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	a.Status = BookingStatus(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, schedule_window_id, appointment_date_time,
			slot_date, status, reason, visit_type, walk_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduleWindowID, a.AppointmentDateTime,
		a.SlotDate, string(a.Status), a.Reason, a.VisitType, a.WalkIn,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptColList+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) CountActive(ctx context.Context, windowID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE schedule_window_id = $1 AND slot_date = $2 AND status <> $3`,
		windowID, date, string(StatusCancelled)).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) CountOpenByWindow(ctx context.Context, windowID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE schedule_window_id = $1 AND status NOT IN ($2, $3)`,
		windowID, string(StatusCompleted), string(StatusCancelled)).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Appointment, bool, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptColList,
		id, string(from), string(to)))
	if errors.Is(err, ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func scopeExpr(s Scope) exp.Expression {
	switch {
	case s.All:
		return nil
	case s.DoctorID != nil:
		return goqu.C("doctor_id").Eq(s.DoctorID.String())
	case s.PatientID != nil:
		return goqu.C("patient_id").Eq(s.PatientID.String())
	default:
		return goqu.L("FALSE")
	}
}

func filterExprs(f AppointmentFilter) []exp.Expression {
	var where []exp.Expression
	if e := scopeExpr(f.Scope); e != nil {
		where = append(where, e)
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(string(f.Status)))
	}
	if f.DoctorID != nil {
		where = append(where, goqu.C("doctor_id").Eq(f.DoctorID.String()))
	}
	if f.From != nil {
		where = append(where, goqu.C("appointment_date_time").Gte(*f.From))
	}
	if f.To != nil {
		where = append(where, goqu.C("appointment_date_time").Lt(*f.To))
	}
	return where
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	conn := db.Conn(ctx, r.pool)
	base := pg.From("appointments").Prepared(true).Where(filterExprs(f)...)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := conn.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := base.Select(apptCols...).
		Order(goqu.C("appointment_date_time").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := conn.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CountByStatus(ctx context.Context, scope Scope) (map[BookingStatus]int, error) {
	ds := pg.From("appointments").Prepared(true).
		Select(goqu.C("status"), goqu.COUNT(goqu.Star())).
		GroupBy(goqu.C("status"))
	if e := scopeExpr(scope); e != nil {
		ds = ds.Where(e)
	}
	sql, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build stats query: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[BookingStatus]int, len(AllStatuses))
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[BookingStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *appointmentRepoPG) WindowDayVersion(ctx context.Context, windowID uuid.UUID, date time.Time) (int64, error) {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `
		INSERT INTO window_day_versions (window_id, slot_date) VALUES ($1, $2)
		ON CONFLICT (window_id, slot_date) DO NOTHING`, windowID, date); err != nil {
		return 0, err
	}
	var v int64
	err := conn.QueryRow(ctx, `
		SELECT version FROM window_day_versions WHERE window_id = $1 AND slot_date = $2`,
		windowID, date).Scan(&v)
	return v, err
}

func (r *appointmentRepoPG) BumpWindowDayVersion(ctx context.Context, windowID uuid.UUID, date time.Time, v int64) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE window_day_versions SET version = version + 1
		WHERE window_id = $1 AND slot_date = $2 AND version = $3`,
		windowID, date, v)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
