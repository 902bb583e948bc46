package scheduling

import (
	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
)

// ScopeFor returns the appointments an actor may see. Unknown roles get the
// empty scope.
func ScopeFor(actor auth.Actor) Scope {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleReceptionist:
		return Scope{All: true}
	case auth.RoleDoctor:
		id := actor.ID
		return Scope{DoctorID: &id}
	case auth.RolePatient:
		id := actor.ID
		return Scope{PatientID: &id}
	default:
		return Scope{}
	}
}

// CanView reports whether actor may see a.
func CanView(actor auth.Actor, a *Appointment) bool {
	return ScopeFor(actor).Matches(a)
}

// FilterAppointments keeps the appointments actor may see, preserving order.
func FilterAppointments(appts []*Appointment, actor auth.Actor) []*Appointment {
	scope := ScopeFor(actor)
	out := make([]*Appointment, 0, len(appts))
	for _, a := range appts {
		if scope.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

func canBookFor(actor auth.Actor, patientID, doctorID uuid.UUID) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleReceptionist:
		return true
	case auth.RolePatient:
		return actor.ID == patientID
	case auth.RoleDoctor:
		return actor.ID == doctorID
	default:
		return false
	}
}

func canCancel(actor auth.Actor, a *Appointment) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleReceptionist:
		return true
	case auth.RolePatient:
		return actor.ID == a.PatientID
	case auth.RoleDoctor:
		return actor.ID == a.DoctorID
	default:
		return false
	}
}

func canSetStatus(actor auth.Actor, a *Appointment, to BookingStatus) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleReceptionist:
		return true
	case auth.RoleDoctor:
		return actor.ID == a.DoctorID
	case auth.RolePatient:
		return actor.ID == a.PatientID && to == StatusCancelled
	default:
		return false
	}
}

func canManageWindows(actor auth.Actor, doctorID uuid.UUID) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleReceptionist:
		return true
	case auth.RoleDoctor:
		return actor.ID == doctorID
	case auth.RolePatient:
		return false
	default:
		return false
	}
}
