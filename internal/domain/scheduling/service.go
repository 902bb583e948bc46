package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hms/hms/pkg/apperr"
)

const DefaultVisitType = "Consultation"

// Metrics receives booking and lifecycle events.
type Metrics interface {
	BookingAttempt(outcome string)
	BookingRetry()
	StatusTransition(from, to string)
}

type nopMetrics struct{}

func (nopMetrics) BookingAttempt(string)           {}
func (nopMetrics) BookingRetry()                   {}
func (nopMetrics) StatusTransition(string, string) {}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// Location is the clinic time zone used for weekdays and dates.
	Location *time.Location
	// MaxAttempts bounds booking transactions retried after a lost race.
	MaxAttempts int
	// RetryDelay is the initial backoff between booking attempts.
	RetryDelay time.Duration
	// StaffDirect books staff-created appointments straight into BOOKED.
	StaffDirect      bool
	DefaultVisitType string

	Logger  *zerolog.Logger
	Tracer  trace.Tracer
	Metrics Metrics
	Now     func() time.Time
}

type Service struct {
	store   Store
	dir     Directory
	opts    Options
	log     zerolog.Logger
	tracer  trace.Tracer
	metrics Metrics
	now     func() time.Time
}

func NewService(store Store, dir Directory, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.DefaultVisitType == "" {
		opts.DefaultVisitType = DefaultVisitType
	}
	s := &Service{
		store:   store,
		dir:     dir,
		opts:    opts,
		log:     zerolog.Nop(),
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "scheduling").Logger()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Location returns the clinic time zone.
func (s *Service) Location() *time.Location { return s.opts.Location }

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, marking only internal failures as errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		if apperr.KindOf(err) == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// storeErr converts a repository error into an application error.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, ErrRecordNotFound) {
		return apperr.NotFound("%s not found", what)
	}
	return apperr.Internal(what, err)
}

func (s *Service) doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.dir.ResolveDoctor(ctx, id)
	if err != nil {
		return nil, storeErr(err, "doctor")
	}
	return d, nil
}

func (s *Service) patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.dir.ResolvePatient(ctx, id)
	if err != nil {
		return nil, storeErr(err, "patient")
	}
	return p, nil
}

func (s *Service) window(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	w, err := s.store.Windows().GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "schedule window")
	}
	return w, nil
}

func (s *Service) appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.store.Appointments().GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "appointment")
	}
	return a, nil
}

// enricher attaches directory display data, resolving each id once.
type enricher struct {
	s        *Service
	doctors  map[uuid.UUID]*Doctor
	patients map[uuid.UUID]*Patient
}

func (s *Service) newEnricher() *enricher {
	return &enricher{s: s, doctors: map[uuid.UUID]*Doctor{}, patients: map[uuid.UUID]*Patient{}}
}

func (e *enricher) view(ctx context.Context, a *Appointment) *AppointmentView {
	v := &AppointmentView{Appointment: *a}
	doc, ok := e.doctors[a.DoctorID]
	if !ok {
		var err error
		if doc, err = e.s.dir.ResolveDoctor(ctx, a.DoctorID); err != nil {
			e.s.log.Debug().Err(err).Stringer("doctor_id", a.DoctorID).Msg("doctor not resolved for display")
		}
		e.doctors[a.DoctorID] = doc
	}
	if doc != nil {
		v.DoctorName, v.Specialty = doc.Name, doc.Specialty
	}
	p, ok := e.patients[a.PatientID]
	if !ok {
		var err error
		if p, err = e.s.dir.ResolvePatient(ctx, a.PatientID); err != nil {
			e.s.log.Debug().Err(err).Stringer("patient_id", a.PatientID).Msg("patient not resolved for display")
		}
		e.patients[a.PatientID] = p
	}
	if p != nil {
		v.PatientName = p.Name
	}
	return v
}

func (s *Service) view(ctx context.Context, a *Appointment) *AppointmentView {
	return s.newEnricher().view(ctx, a)
}
