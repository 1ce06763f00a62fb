package appointment

import "time"

// Flags are derived, read-only UI hints computed from the wall clock at
// read time. They are recomputed on every read and never written back:
// "now" changes between reads, so persisting them would be wrong.
type Flags struct {
	IsToday   bool `json:"is_today"`
	IsPast    bool `json:"is_past"`
	CanJoin   bool `json:"can_join"`
	IsOngoing bool `json:"is_ongoing"`
}

// Project computes the flags for an appointment at the given instant.
// IsToday uses the reference timezone. A session whose scheduled window
// contains now is never past, regardless of the join window math.
func Project(a *Appointment, now time.Time, loc *time.Location) Flags {
	localNow := now.In(loc)
	localStart := a.StartTime.In(loc)

	_, windowEnd := a.JoinWindow()

	inSession := !now.Before(a.StartTime) && !now.After(a.EndTime)

	canJoin := false
	if a.Status == StatusConfirmed || a.Status == StatusOngoing {
		joinStart, joinEnd := a.JoinWindow()
		canJoin = !now.Before(joinStart) && !now.After(joinEnd)
	}

	return Flags{
		IsToday:   sameDate(localNow, localStart),
		IsPast:    now.After(windowEnd) && !inSession,
		CanJoin:   canJoin,
		IsOngoing: inSession,
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
