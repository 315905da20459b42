package ingest

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/cityguide/listings-ingest/internal/models"
)

func testRegistry(ai Strategy) *Registry {
	r := NewRegistry(&GenericStrategy{}, ai)
	r.Register(IowaCubs())
	r.Register(IowaWild())
	r.Register(CatchDesMoines())
	r.Register(NewOpeningsArticleStrategy())
	r.Register(&WordPressEventsStrategy{})
	return r
}

func TestRegistrySelect(t *testing.T) {
	r := testRegistry(NewAIStrategy(&fakeCompleter{}, "Des Moines"))

	tests := []struct {
		name string
		job  models.SourceJob
		want string
	}{
		{"cubs by url", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://www.milb.com/iowa/schedule"}, "iowa_cubs"},
		{"wild by url", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://www.iowawild.com/schedule"}, "iowa_wild"},
		{"calendar preset", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://www.catchdesmoines.com/events/"}, "catch_des_moines"},
		{"openings by domain", models.SourceJob{Category: models.CategoryRestaurantOpenings, TargetURL: "https://www.dsmmagazine.com/new"}, "openings_article"},
		{"wrong category falls back", models.SourceJob{Category: models.CategoryRestaurants, TargetURL: "https://www.iowawild.com/food"}, "generic"},
		{"unknown site", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://example.org"}, "generic"},
		{"forced", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://example.org", Hints: models.ExtractionHints{Strategy: "ai"}}, "ai"},
		{"unknown forced name", models.SourceJob{Category: models.CategoryEvents, TargetURL: "https://www.iowacubs.com", Hints: models.ExtractionHints{Strategy: "nope"}}, "iowa_cubs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Select(tt.job).Name(); got != tt.want {
				t.Errorf("Select = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGenericEventLine(t *testing.T) {
	page := Page{
		URL:         "https://example.org/community",
		ContentType: "text/html",
		Content: `<html><body>
			<h1>Upcoming Events</h1>
			<p>Jazz in the Park — July 30 at Gray's Lake, 7:00 PM</p>
			<p>Movies at the Zoo - August 7, 8:30 p.m. at Blank Park Zoo</p>
			<p>Thanks for visiting!</p>
		</body></html>`,
	}
	job := models.SourceJob{ID: "community", Category: models.CategoryEvents, TargetURL: page.URL}

	recs, used := testRegistry(nil).Extract(context.Background(), page, job)
	if used != "generic" {
		t.Fatalf("strategy = %s", used)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}

	jazz := recs[0]
	if jazz.Title != "Jazz in the Park" || jazz.Venue != "Gray's Lake" || jazz.DateText != "July 30 7:00 PM" {
		t.Errorf("jazz = %+v", jazz)
	}
	if jazz.SourceURL != page.URL || jazz.Category != models.CategoryEvents {
		t.Errorf("registry did not stamp source and category: %+v", jazz)
	}

	movies := recs[1]
	if movies.Title != "Movies at the Zoo" || movies.Venue != "Blank Park Zoo" || movies.DateText != "August 7 8:30 p.m." {
		t.Errorf("movies = %+v", movies)
	}
}

func TestGenericJSONLD(t *testing.T) {
	page := Page{
		URL:         "https://venue.example/shows",
		ContentType: "text/html",
		Content: `<html><head><script type="application/ld+json">
		{"@context":"https://schema.org","@graph":[
			{"@type":"Event","name":"Des Moines Symphony: Yankee Doodle Pops",
			 "startDate":"2026-07-03T20:00:00-05:00",
			 "location":{"@type":"Place","name":"Principal Riverwalk","address":{"streetAddress":"300 E Locust St","addressLocality":"Des Moines"}},
			 "offers":{"@type":"Offer","price":"0","priceCurrency":"USD"},
			 "url":"/shows/pops","image":["/img/pops.jpg"]},
			{"@type":"Organization","name":"Venue Inc"}
		]}
		</script></head><body><p>Shows</p></body></html>`,
	}
	job := models.SourceJob{ID: "venue", Category: models.CategoryEvents, TargetURL: page.URL}

	recs := (&GenericStrategy{}).Extract(context.Background(), page, job)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	c := recs[0]
	if c.Title != "Des Moines Symphony: Yankee Doodle Pops" || c.DateText != "2026-07-03T20:00:00-05:00" {
		t.Errorf("record = %+v", c)
	}
	if c.Venue != "Principal Riverwalk" || !strings.Contains(c.Location, "300 E Locust St") {
		t.Errorf("place = %q / %q", c.Venue, c.Location)
	}
	if c.Website != "https://venue.example/shows/pops" || c.ImageURL != "https://venue.example/img/pops.jpg" {
		t.Errorf("links = %q / %q", c.Website, c.ImageURL)
	}
}

func TestGenericContainerHints(t *testing.T) {
	page := Page{
		URL:         "https://library.example/programs",
		ContentType: "text/html",
		Content: `<div class="program"><span class="name">Story Time</span><span class="when">August 3, 2026</span><span class="at">10:30 AM</span><a href="/p/1">More</a></div>
		<div class="program"><span class="name">Lego Club</span><span class="when">August 4, 2026</span><a href="/p/2">More</a></div>
		<div class="program"><span class="when">August 5, 2026</span></div>`,
	}
	job := models.SourceJob{
		ID: "library", Category: models.CategoryEvents, TargetURL: page.URL,
		Hints: models.ExtractionHints{Container: ".program", Title: ".name", Date: ".when", Time: ".at"},
	}
	recs := (&GenericStrategy{}).Extract(context.Background(), page, job)
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	if recs[0].DateText != "August 3, 2026 10:30 AM" || recs[0].Website != "https://library.example/p/1" {
		t.Errorf("first = %+v", recs[0])
	}
	if recs[1].Title != "Lego Club" || recs[1].DateText != "August 4, 2026" {
		t.Errorf("second = %+v", recs[1])
	}
}

func TestGenericVenuePage(t *testing.T) {
	page := Page{
		URL:         "https://www.dsm.city/parks/evelyn-davis",
		ContentType: "text/html",
		Content: `<html><head><title>Evelyn K. Davis Park | DSM</title>
		<meta name="description" content="Inclusive playground with splash pad."></head>
		<body><h1>Evelyn K. Davis Park</h1><address>1400 Forest Ave</address></body></html>`,
	}
	job := models.SourceJob{ID: "parks", Category: models.CategoryPlaygrounds, TargetURL: page.URL}
	recs := (&GenericStrategy{}).Extract(context.Background(), page, job)
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Title != "Evelyn K. Davis Park" || recs[0].Location != "1400 Forest Ave" || recs[0].Description != "Inclusive playground with splash pad." {
		t.Errorf("record = %+v", recs[0])
	}
}

const wildSchedule = `<html><body><table>
<tr><th>Date</th><th>Opponent</th><th>Time</th></tr>
<tr><td>Sat, Feb 5</td><td>vs. Milwaukee Admirals</td><td>7:00 PM</td></tr>
<tr><td>Fri, Feb 11</td><td>vs. Chicago Wolves at Allstate Arena</td><td>7:00 PM</td></tr>
<tr><td>Sat, Feb 12</td><td>@ Texas Stars</td><td>7:00 PM</td></tr>
<tr><td>Sun, Feb 13</td><td>Grand Rapids Griffins vs. Iowa Wild</td><td>3:00 PM</td></tr>
</table></body></html>`

func TestSportsScheduleHomeGames(t *testing.T) {
	s := IowaWild()
	page := Page{URL: "https://www.iowawild.com/schedule", ContentType: "text/html", Content: wildSchedule}
	job := models.SourceJob{ID: "iowa-wild", Category: models.CategoryEvents, TargetURL: page.URL}

	recs := s.Extract(context.Background(), page, job)
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}

	want := []struct{ title, date string }{
		{"Iowa Wild vs. Milwaukee Admirals", "Feb 5 7:00 PM"},
		{"Iowa Wild vs. Grand Rapids Griffins", "Feb 13 3:00 PM"},
	}
	for i, w := range want {
		if recs[i].Title != w.title || recs[i].DateText != w.date {
			t.Errorf("record %d = %q at %q, want %q at %q", i, recs[i].Title, recs[i].DateText, w.title, w.date)
		}
		if recs[i].Venue != "Wells Fargo Arena" || recs[i].Season == nil || recs[i].Season.From != s.Season.From {
			t.Errorf("record %d venue/season = %q / %v", i, recs[i].Venue, recs[i].Season)
		}
	}
}

func TestOpeningsArticle(t *testing.T) {
	page := Page{
		URL:         "https://www.dsmmagazine.com/2026/06/new-restaurants",
		ContentType: "text/html",
		Content: `<html><body><article>
		<h1>New restaurants to try this summer</h1>
		<h2>1. Bubba's Biscuits</h2>
		<p>Southern comfort food now open at 200 10th St, Des Moines. It opened in March 2026.</p>
		<h2>2. Noodle Zoo</h2>
		<p>Hand-pulled noodles. The shop will open June 20 at 5525 Mills Civic Parkway.</p>
		</article></body></html>`,
	}
	job := models.SourceJob{ID: "openings", Category: models.CategoryRestaurantOpenings, TargetURL: page.URL}

	recs := NewOpeningsArticleStrategy().Extract(context.Background(), page, job)
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	if recs[0].Title != "Bubba's Biscuits" || recs[0].Location != "200 10th St, Des Moines" {
		t.Errorf("first = %q at %q", recs[0].Title, recs[0].Location)
	}
	if recs[0].Extra["opening_date"] != "March 2026" {
		t.Errorf("opening date = %q", recs[0].Extra["opening_date"])
	}
	if recs[1].Title != "Noodle Zoo" || recs[1].Extra["opening_date"] != "June 20" {
		t.Errorf("second = %+v", recs[1])
	}
}

func TestWordPressEventsFeed(t *testing.T) {
	page := Page{
		URL:         "https://venue.example/wp-json/tribe/events/v1/events",
		ContentType: "application/json",
		Content: `{"events":[
			{"id":7,"url":"https://venue.example/event/blues-night/","title":"Blues &amp; Brews Night",
			 "description":"<p>Live blues.</p>","start_date":"2026-07-18 20:00:00","all_day":false,"cost":"$10",
			 "venue":{"venue":"Hoyt Sherman Place","address":"1501 Woodland Ave","city":"Des Moines","state":"IA"},
			 "categories":[{"name":"Music"}]},
			{"id":8,"title":"Farmers Market","start_date":"2026-07-11 00:00:00","all_day":true,"venue":[]}
		],"total":2}`,
	}
	job := models.SourceJob{ID: "wp", Category: models.CategoryEvents, TargetURL: "https://venue.example/"}

	recs := (&GenericStrategy{}).Extract(context.Background(), page, job)
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[1].Title != "Farmers Market" || recs[1].DateText != "2026-07-11" || recs[1].Venue != "" {
		t.Errorf("all-day record = %+v", recs[1])
	}
	c := recs[0]
	if c.Title != "Blues & Brews Night" || c.DateText != "2026-07-18 20:00:00" || c.Venue != "Hoyt Sherman Place" {
		t.Errorf("record = %+v", c)
	}
	if c.Location != "1501 Woodland Ave, Des Moines, IA" || c.Subcategory != "Music" || c.Price != "$10" {
		t.Errorf("details = %+v", c)
	}
}

func TestAIStrategyFencedResponse(t *testing.T) {
	client := &fakeCompleter{resp: "I found these events on the page:\n\n```json\n[\n" +
		`{"title":"Jazz in the Park","date":"July 30 7:00 PM","venue":"Gray's Lake","price":null},` + "\n" +
		`{"title":"Missing date"},` + "\n" +
		`{"title":"Art Walk","date":"2026-08-07","venue":"East Village","url":"/art-walk"}` +
		"\n]\n```\nLet me know if you need more."}
	s := NewAIStrategy(client, "Des Moines")
	s.Now = fixedNow(t)

	page := Page{URL: "https://example.org/things", Content: "Jazz in the Park on July 30 at Gray's Lake. Art Walk on August 7."}
	job := models.SourceJob{ID: "things", Category: models.CategoryEvents, TargetURL: page.URL, Hints: models.ExtractionHints{UseAI: true}}

	recs := s.Extract(context.Background(), page, job)
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	if recs[0].Title != "Jazz in the Park" || recs[0].Venue != "Gray's Lake" || recs[0].DateText != "July 30 7:00 PM" {
		t.Errorf("first = %+v", recs[0])
	}
	if recs[1].Website != "https://example.org/art-walk" {
		t.Errorf("website = %q", recs[1].Website)
	}

	prompt := client.prompts[0]
	for _, want := range []string{"Des Moines", "July 1, 2026", "Art Walk on August 7", `"title"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAIStrategyFailuresYieldNothing(t *testing.T) {
	page := Page{URL: "https://example.org", Content: "Some page"}
	job := models.SourceJob{ID: "x", Category: models.CategoryEvents}

	tests := []struct {
		name   string
		client *fakeCompleter
	}{
		{"call fails", &fakeCompleter{err: errors.New("connection refused")}},
		{"prose only", &fakeCompleter{resp: "Sorry, I cannot help with that."}},
		{"object instead of array", &fakeCompleter{resp: `{"events": []}`}},
		{"broken json", &fakeCompleter{resp: "```json\n[{\"title\": \"A\",]\n```"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if recs := NewAIStrategy(tt.client, "Des Moines").Extract(context.Background(), page, job); len(recs) != 0 {
				t.Errorf("got %d records", len(recs))
			}
		})
	}
}

func TestRegistryAIFallback(t *testing.T) {
	client := &fakeCompleter{resp: `[{"title":"Jazz in the Park","date":"July 30 7:00 PM"}]`}
	r := testRegistry(NewAIStrategy(client, "Des Moines"))
	page := Page{URL: "https://example.org/x", ContentType: "text/html", Content: "<p>Nothing structured here.</p>"}

	job := models.SourceJob{ID: "x", Category: models.CategoryEvents, TargetURL: page.URL}
	if recs, used := r.Extract(context.Background(), page, job); len(recs) != 0 || used != "generic" {
		t.Fatalf("without use_ai: %d records from %s", len(recs), used)
	}
	if len(client.prompts) != 0 {
		t.Fatal("model called without use_ai")
	}

	job.Hints.UseAI = true
	recs, used := r.Extract(context.Background(), page, job)
	if used != "ai" || len(recs) != 1 || recs[0].SourceURL != page.URL {
		t.Fatalf("fallback: %d records from %s", len(recs), used)
	}
}

func TestIsGenericTitle(t *testing.T) {
	tests := map[string]bool{
		"Events":             true,
		"  Learn More  ":     true,
		"Buy Tickets":        true,
		"TBA":                true,
		"--":                 true,
		"Calendar:":          true,
		"Jazz in the Park":   false,
		"Iowa Wild vs. Utah": false,
		"Zoo":                false,
	}
	for title, want := range tests {
		if got := IsGenericTitle(title); got != want {
			t.Errorf("IsGenericTitle(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestWordPressEventsBadVenueIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	page := Page{
		URL:         "https://venue.example/wp-json/tribe/events/v1/events",
		ContentType: "application/json",
		Content: `{"events":[
			{"id":9,"title":"Porch Concert","start_date":"2026-07-19 18:00:00","venue":{"venue":42,"city":"Des Moines"}}
		]}`,
	}
	job := models.SourceJob{ID: "wp", Category: models.CategoryEvents, TargetURL: "https://venue.example/"}

	recs := (&WordPressEventsStrategy{}).Extract(context.Background(), page, job)
	if len(recs) != 1 || recs[0].Venue != "" || recs[0].Location != "" {
		t.Fatalf("records = %+v", recs)
	}
	if out := buf.String(); !strings.Contains(out, "[job:wp]") || !strings.Contains(out, "event 9 venue") {
		t.Errorf("log output = %q", out)
	}
}
