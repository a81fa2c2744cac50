// Package window resolves report filters into half-open time ranges.
//
// Every report path (totals, brand breakdown, history, exports) goes through
// Resolve so that one query never mixes two different interpretations of the
// same label.
package window

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type Kind string

const (
	Today        Kind = "today"
	Yesterday    Kind = "yesterday"
	Last7Days    Kind = "last_7_days"
	CurrentMonth Kind = "current_month"
	CurrentYear  Kind = "current_year"
	Custom       Kind = "custom"
)

const dateLayout = "2006-01-02"

// maxDays is the longest range Range.Days will split: one leap year.
const maxDays = 366

var (
	ErrUnknownKind  = errors.New("unknown window")
	ErrInvalidRange = errors.New("invalid custom range")
)

// Window is an unresolved filter. Start and End are only read for Custom and
// are interpreted as calendar dates in the location of the "now" passed to
// Resolve.
type Window struct {
	Kind  Kind
	Start time.Time
	End   time.Time
}

// Range is a resolved [From, To) interval.
type Range struct {
	From time.Time
	To   time.Time
}

// Kinds lists the accepted labels in display order.
func Kinds() []Kind {
	return []Kind{Today, Yesterday, Last7Days, CurrentMonth, CurrentYear, Custom}
}

// Rolling reports whether the window ends at "now" rather than on a calendar
// boundary. Each resolution of a rolling window yields a different range.
func (w Window) Rolling() bool {
	return w.Kind == Last7Days
}

// Parse builds a Window from query-string style input. start and end are
// only required for custom windows and use the YYYY-MM-DD layout.
func Parse(label string, start string, end string) (Window, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(label)))
	if kind == "" {
		kind = Today
	}
	if !slices.Contains(Kinds(), kind) {
		return Window{}, fmt.Errorf("%w %q", ErrUnknownKind, label)
	}
	if kind != Custom {
		return Window{Kind: kind}, nil
	}

	from, err := time.Parse(dateLayout, strings.TrimSpace(start))
	if err != nil {
		return Window{}, fmt.Errorf("%w: start must be YYYY-MM-DD", ErrInvalidRange)
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(end))
	if err != nil {
		return Window{}, fmt.Errorf("%w: end must be YYYY-MM-DD", ErrInvalidRange)
	}
	return NewCustom(from, to)
}

func NewCustom(start time.Time, end time.Time) (Window, error) {
	if dateOnly(end, time.UTC).Before(dateOnly(start, time.UTC)) {
		return Window{}, fmt.Errorf("%w: start is after end", ErrInvalidRange)
	}
	return Window{Kind: Custom, Start: start, End: end}, nil
}

// Resolve turns w into a concrete range relative to now. Calendar boundaries
// use now's location.
func Resolve(w Window, now time.Time) (Range, error) {
	loc := now.Location()
	midnight := dateOnly(now, loc)

	switch w.Kind {
	case Today, "":
		return Range{From: midnight, To: midnight.AddDate(0, 0, 1)}, nil
	case Yesterday:
		return Range{From: midnight.AddDate(0, 0, -1), To: midnight}, nil
	case Last7Days:
		return Range{From: now.AddDate(0, 0, -7), To: now}, nil
	case CurrentMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Range{From: first, To: first.AddDate(0, 1, 0)}, nil
	case CurrentYear:
		first := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Range{From: first, To: first.AddDate(1, 0, 0)}, nil
	case Custom:
		from := dateOnly(w.Start, loc)
		to := dateOnly(w.End, loc).AddDate(0, 0, 1)
		if !from.Before(to) {
			return Range{}, fmt.Errorf("%w: start is after end", ErrInvalidRange)
		}
		return Range{From: from, To: to}, nil
	default:
		return Range{}, fmt.Errorf("%w %q", ErrUnknownKind, w.Kind)
	}
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Days splits the range into calendar days in the location of From. The
// first and last entries are clipped to the range. Ranges touching more than
// maxDays calendar days are rejected with ErrInvalidRange.
func (r Range) Days() ([]Range, error) {
	days := make([]Range, 0, 8)
	loc := r.From.Location()
	cursor := r.From
	for cursor.Before(r.To) {
		if len(days) == maxDays {
			return nil, fmt.Errorf("%w: a daily breakdown covers at most %d days", ErrInvalidRange, maxDays)
		}
		next := dateOnly(cursor, loc).AddDate(0, 0, 1)
		if next.After(r.To) {
			next = r.To
		}
		days = append(days, Range{From: cursor, To: next})
		cursor = next
	}
	return days, nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}

func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
