package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateTimeNormalizer turns loosely formatted listing dates into zone-anchored
// instants and applies the validity window.
type DateTimeNormalizer struct {
	DefaultTimezone string
	DefaultHour     int
	DefaultMinute   int
	Grace           time.Duration // how far in the past a date may be
	HorizonYears    int           // how far in the future a date may be
	Now             func() time.Time
}

// NewDateTimeNormalizer returns a normalizer defaulting to 19:00 local time,
// a three day grace window and a two year horizon.
func NewDateTimeNormalizer(defaultTimezone string) *DateTimeNormalizer {
	if defaultTimezone == "" {
		defaultTimezone = "America/Chicago"
	}
	return &DateTimeNormalizer{
		DefaultTimezone: defaultTimezone,
		DefaultHour:     19,
		Grace:           72 * time.Hour,
		HorizonYears:    2,
		Now:             time.Now,
	}
}

var datedLayoutsWithClock = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3 PM",
	"January 2 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3 PM",
	"Monday, January 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006 3:04 PM",
	"01/02/2006 3:04 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
}

var datedLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
	"1/2/2006",
}

var (
	noonRegex      = regexp.MustCompile(`(?i)\bnoon\b`)
	meridiemRegex  = regexp.MustCompile(`(?i)\b([ap])\.?\s?m\b\.?`)
	stuckMeridiem  = regexp.MustCompile(`(\d)(AM|PM)\b`)
	ordinalRegex   = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	abbrevDotRegex = regexp.MustCompile(`\b([A-Za-z]{3,4})\.`)

	isoDateRegex   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDateRegex    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthDateRegex = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\s+(\d{1,2})(?:,?\s+(\d{4}))?\b`)
	clock12Regex   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(AM|PM)\b`)
	clock24Regex   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// Parse interprets text in timezone (or the default zone when empty).
func (n *DateTimeNormalizer) Parse(text, timezone string) (NormalizedDateTime, error) {
	return n.ParseWithDefault(text, timezone, "")
}

// ParseWithDefault is Parse with an "HH:MM" time of day used for date-only input.
func (n *DateTimeNormalizer) ParseWithDefault(text, timezone, defaultTime string) (NormalizedDateTime, error) {
	loc, tz, err := n.location(timezone)
	if err != nil {
		return NormalizedDateTime{}, err
	}
	hour, minute := n.defaultClock(defaultTime)

	s := cleanDateString(text)
	if s == "" {
		return NormalizedDateTime{}, fmt.Errorf("%w: empty input", ErrUnparseableDate)
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return n.FromTime(t, tz), nil
	}

	for _, layout := range datedLayoutsWithClock {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return n.FromTime(t, tz), nil
		}
	}
	for _, layout := range datedLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
			return n.FromTime(t, tz), nil
		}
	}

	if t, ok := n.scanFragments(s, loc, hour, minute); ok {
		return n.FromTime(t, tz), nil
	}

	if t, err := dateparse.ParseIn(s, loc); err == nil {
		if !hasClock(s) {
			t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
		}
		return n.FromTime(t, tz), nil
	}

	return NormalizedDateTime{}, fmt.Errorf("%w: %q", ErrUnparseableDate, text)
}

// FromTime renders t in timezone tz.
func (n *DateTimeNormalizer) FromTime(t time.Time, tz string) NormalizedDateTime {
	loc, name, err := n.location(tz)
	if err != nil {
		loc, name = time.UTC, "UTC"
	}
	local := t.In(loc)
	return NormalizedDateTime{
		Local:    local.Format(LocalLayout),
		Timezone: name,
		UTC:      local.UTC(),
	}
}

// CheckWindow rejects instants earlier than now minus the grace window or
// later than the horizon. The grace boundary itself is accepted.
func (n *DateTimeNormalizer) CheckWindow(dt NormalizedDateTime) error {
	now := n.now()
	earliest := now.Add(-n.Grace)
	latest := now.AddDate(n.HorizonYears, 0, 0)
	if dt.UTC.Before(earliest) {
		return fmt.Errorf("%w: %s is before %s", ErrOutsideWindow, dt.Local, earliest.Format(time.RFC3339))
	}
	if dt.UTC.After(latest) {
		return fmt.Errorf("%w: %s is after %s", ErrOutsideWindow, dt.Local, latest.Format(time.RFC3339))
	}
	return nil
}

// CheckSeason rejects dates whose local month falls outside w.
func (n *DateTimeNormalizer) CheckSeason(dt NormalizedDateTime, w *SeasonWindow) error {
	if w == nil {
		return nil
	}
	if m := dt.In().Month(); !w.Contains(m) {
		return fmt.Errorf("%w: %s not in %s", ErrImplausibleSeason, m, w)
	}
	return nil
}

// SeasonWindow is an inclusive month range that may wrap the year end.
type SeasonWindow struct {
	From time.Month
	To   time.Month
}

func (w SeasonWindow) Contains(m time.Month) bool {
	if w.From <= w.To {
		return m >= w.From && m <= w.To
	}
	return m >= w.From || m <= w.To
}

func (w SeasonWindow) String() string {
	return w.From.String() + "-" + w.To.String()
}

// scanFragments picks a date and an optional time of day out of free text.
func (n *DateTimeNormalizer) scanFragments(s string, loc *time.Location, hour, minute int) (time.Time, bool) {
	var (
		year     int
		month    time.Month
		day      int
		fragment string
	)

	if m := isoDateRegex.FindStringSubmatch(s); m != nil {
		year, _ = strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		month = time.Month(mo)
		day, _ = strconv.Atoi(m[3])
		fragment = m[0]
	} else if m := usDateRegex.FindStringSubmatch(s); m != nil {
		mo, _ := strconv.Atoi(m[1])
		month = time.Month(mo)
		day, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
		fragment = m[0]
	} else if m := monthDateRegex.FindStringSubmatch(s); m != nil {
		month = monthNames[strings.ToLower(m[1])]
		day, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		fragment = m[0]
	} else {
		return time.Time{}, false
	}

	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}

	rest := strings.Replace(s, fragment, " ", 1)
	if m := clock12Regex.FindStringSubmatch(rest); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi := 0
		if m[2] != "" {
			mi, _ = strconv.Atoi(m[2])
		}
		if h >= 1 && h <= 12 && mi < 60 {
			h %= 12
			if strings.EqualFold(m[3], "PM") {
				h += 12
			}
			hour, minute = h, mi
		}
	} else if m := clock24Regex.FindStringSubmatch(rest); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
	}

	if year == 0 {
		year = n.inferYear(month, day, hour, minute, loc)
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); treat that as garbage.
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// inferYear picks the next occurrence that is not already past the grace window.
func (n *DateTimeNormalizer) inferYear(month time.Month, day, hour, minute int, loc *time.Location) int {
	now := n.now().In(loc)
	candidate := time.Date(now.Year(), month, day, hour, minute, 0, 0, loc)
	if candidate.Before(now.Add(-n.Grace)) {
		return now.Year() + 1
	}
	return now.Year()
}

func (n *DateTimeNormalizer) location(tz string) (*time.Location, string, error) {
	if strings.TrimSpace(tz) == "" {
		tz = n.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, "", fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, tz, nil
}

func (n *DateTimeNormalizer) defaultClock(hhmm string) (int, int) {
	if hhmm != "" {
		if t, err := time.Parse("15:04", strings.TrimSpace(hhmm)); err == nil {
			return t.Hour(), t.Minute()
		}
	}
	return n.DefaultHour, n.DefaultMinute
}

func (n *DateTimeNormalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func hasClock(s string) bool {
	return clock12Regex.MatchString(s) || clock24Regex.MatchString(s)
}

// cleanDateString strips labels and punctuation noise so the layouts can match.
func cleanDateString(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range []string{"date:", "when:", "starts:", "start:", "opens:", "opening:", "time:"} {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			lower = lower[len(p):]
		}
	}
	s = strings.NewReplacer("—", " ", "–", " ", " ", " ", " @ ", " ").Replace(s)
	s = noonRegex.ReplaceAllString(s, "12:00 PM")
	s = meridiemRegex.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(strings.ToLower(m), "a") {
			return "AM"
		}
		return "PM"
	})
	s = stuckMeridiem.ReplaceAllString(s, "$1 $2")
	s = ordinalRegex.ReplaceAllString(s, "$1")
	s = abbrevDotRegex.ReplaceAllString(s, "$1")
	return normalizeSpace(s)
}
