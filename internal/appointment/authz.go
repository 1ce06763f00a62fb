package appointment

// Capability predicates consumed by the lifecycle manager. Authorization
// lives here, in one place, instead of scattered role checks in handlers.

func isParticipant(actor Actor, a *Appointment) bool {
	return actor.ID == a.PatientID || actor.ID == a.PsychologistID
}

func CanView(actor Actor, a *Appointment) bool {
	return actor.Role == RoleAdmin || isParticipant(actor, a)
}

func CanCancel(actor Actor, a *Appointment) bool {
	return actor.Role == RoleAdmin || isParticipant(actor, a)
}

// CanComplete: admins, or the psychologist who held the session.
func CanComplete(actor Actor, a *Appointment) bool {
	return actor.Role == RoleAdmin || actor.ID == a.PsychologistID
}

func CanMarkNoShow(actor Actor, a *Appointment) bool {
	return actor.Role == RoleAdmin || actor.ID == a.PsychologistID
}

func CanJoin(actor Actor, a *Appointment) bool {
	return actor.Role == RoleAdmin || isParticipant(actor, a)
}
