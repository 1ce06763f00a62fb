package availability

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Template is a psychologist's recurring weekly availability rule.
// It stays abstract: concrete bookable slots are materialized on demand
// and appointments are the only persisted record of claimed windows.
type Template struct {
	ID             uuid.UUID
	PsychologistID uuid.UUID
	DaysOfWeek     []time.Weekday // 0=Sunday .. 6=Saturday
	StartMinute    int            // minutes since local midnight
	EndMinute      int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OpenSlot is a concrete, dated window derived from a template that no
// active appointment currently claims.
type OpenSlot struct {
	PsychologistID uuid.UUID `json:"psychologist_id"`
	TemplateID     uuid.UUID `json:"template_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClock converts a 24-hour "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	hour := int(m[1][0]-'0')*10 + int(m[1][1]-'0')
	minute := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// HasDay reports whether the template applies on the given weekday.
func (t *Template) HasDay(day time.Weekday) bool {
	for _, d := range t.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// OverlapsWindow reports whether the template's daily window intersects
// [startMinute, endMinute) on any of the given days.
func (t *Template) OverlapsWindow(days []time.Weekday, startMinute, endMinute int) bool {
	shared := false
	for _, d := range days {
		if t.HasDay(d) {
			shared = true
			break
		}
	}
	if !shared {
		return false
	}
	return startMinute < t.EndMinute && endMinute > t.StartMinute
}

// Covers reports whether the template's window fully contains
// [startMinute, endMinute] on the given weekday.
func (t *Template) Covers(day time.Weekday, startMinute, endMinute int) bool {
	return t.HasDay(day) && t.StartMinute <= startMinute && t.EndMinute >= endMinute
}
