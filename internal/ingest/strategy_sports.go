package ingest

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
)

// SportsScheduleStrategy reads a team schedule page and keeps home games. Every
// candidate carries the team's season so off-season matches are rejected.
type SportsScheduleStrategy struct {
	ID           string
	Team         string
	Sport        string
	URLPatterns  []string // lower-case substrings of the target URL
	HomeVenue    string
	HomeLocation string
	Season       SeasonWindow
}

// IowaCubs covers the Triple-A baseball club at Principal Park.
func IowaCubs() *SportsScheduleStrategy {
	return &SportsScheduleStrategy{
		ID:           "iowa_cubs",
		Team:         "Iowa Cubs",
		Sport:        "Baseball",
		URLPatterns:  []string{"iowacubs.com", "milb.com/iowa"},
		HomeVenue:    "Principal Park",
		HomeLocation: "1 Line Drive, Des Moines, IA",
		Season:       SeasonWindow{From: time.April, To: time.September},
	}
}

// IowaWild covers the AHL hockey club at Wells Fargo Arena.
func IowaWild() *SportsScheduleStrategy {
	return &SportsScheduleStrategy{
		ID:           "iowa_wild",
		Team:         "Iowa Wild",
		Sport:        "Hockey",
		URLPatterns:  []string{"iowawild.com", "theahl.com/iowa"},
		HomeVenue:    "Wells Fargo Arena",
		HomeLocation: "730 3rd St, Des Moines, IA",
		Season:       SeasonWindow{From: time.October, To: time.April},
	}
}

func (s *SportsScheduleStrategy) Name() string { return s.ID }

func (s *SportsScheduleStrategy) Matches(job models.SourceJob) bool {
	if job.Category != models.CategoryEvents {
		return false
	}
	target := strings.ToLower(job.TargetURL)
	for _, p := range s.URLPatterns {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

var (
	versusRegex  = regexp.MustCompile(`\b(?i:vs\.?|versus)\s+(?:(?i:the)\s+)?([A-Z][\w.'&-]*(?:\s+[A-Z][\w.'&-]*)*)`)
	awayRegex    = regexp.MustCompile(`(?i)(?:^|\s)(?:@|at)\s+(?:the\s+)?[a-z]`)
	fragmentTrim = regexp.MustCompile(`\s+(?:(?:` + monthAlternation + `|Mon|Tue|Wed|Thu|Fri|Sat|Sun|Game|Doubleheader|PM|AM)\b|\d).*$`)
)

func (s *SportsScheduleStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	doc, err := ParseHTML(page.Content)
	if err != nil {
		log.Printf("[job:%s] %s: %v", job.ID, s.ID, err)
		return nil
	}

	var rows []string
	for _, b := range doc.Blocks("tr, .game, .schedule-game, .schedule-item") {
		if t := b.Text(); t != "" {
			rows = append(rows, t)
		}
	}
	if len(rows) == 0 {
		rows = pageLines(page, doc)
	}

	season := s.Season
	var out []CandidateRecord
	for _, row := range rows {
		opponent, ok := s.homeOpponent(row)
		if !ok {
			continue
		}
		dateText := scheduleDate(row)
		if dateText == "" {
			continue
		}
		out = append(out, CandidateRecord{
			Category:    models.CategoryEvents,
			Title:       s.Team + " vs. " + opponent,
			Description: s.Sport + ": " + s.Team + " host the " + opponent + " at " + s.HomeVenue + ".",
			DateText:    dateText,
			Venue:       s.HomeVenue,
			Location:    s.HomeLocation,
			Subcategory: "Sports",
			Website:     job.TargetURL,
			SourceURL:   page.URL,
			Season:      &season,
		})
	}
	return out
}

// homeOpponent finds the opponent of a "vs." row. Rows written as away games
// ("@ Omaha", "at Omaha") are skipped.
func (s *SportsScheduleStrategy) homeOpponent(row string) (string, bool) {
	m := versusRegex.FindStringSubmatchIndex(row)
	if m == nil {
		return "", false
	}
	before := row[:m[0]]
	opponent := row[m[2]:m[3]]

	// "vs. Omaha at Werner Park" is a road game unless it names our park.
	after := row[m[1]:]
	if awayRegex.MatchString(after) && !strings.Contains(strings.ToLower(after), strings.ToLower(s.HomeVenue)) {
		return "", false
	}

	// "Omaha Storm Chasers vs. Iowa Cubs" lists the visitors first.
	if strings.Contains(strings.ToLower(opponent), strings.ToLower(s.Team)) {
		opponent = lastCapitalizedRun(before)
	}
	opponent = strings.TrimSpace(fragmentTrim.ReplaceAllString(opponent, ""))
	opponent = strings.TrimRight(opponent, ".,;:")
	if opponent == "" || strings.EqualFold(opponent, s.Team) {
		return "", false
	}
	return opponent, true
}

func lastCapitalizedRun(s string) string {
	fields := strings.Fields(s)
	var run []string
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.Trim(fields[i], ",;:—–-|")
		if f == "" || !strings.ContainsAny(f[:1], "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			if len(run) > 0 {
				break
			}
			continue
		}
		run = append([]string{f}, run...)
	}
	return strings.Join(run, " ")
}

// scheduleDate pulls the date and start time out of a schedule row.
func scheduleDate(row string) string {
	var date string
	for _, re := range []*regexp.Regexp{isoDateRegex, usDateRegex, monthDateRegex} {
		if m := re.FindString(row); m != "" {
			date = m
			break
		}
	}
	if date == "" {
		return ""
	}
	rest := strings.Replace(row, date, " ", 1)
	if clock := clock12Regex.FindString(cleanDateString(rest)); clock != "" {
		return date + " " + clock
	}
	return date
}
