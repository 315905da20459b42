package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/cityguide/listings-ingest/internal/models"
)

func TestCandidateURLs(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		category models.Category
		want     []string
	}{
		{
			name:     "dated category tries calendar siblings",
			target:   "https://venue.example/",
			category: models.CategoryEvents,
			want: []string{
				"https://venue.example/",
				"https://venue.example/events",
				"https://venue.example/calendar",
				"https://venue.example/schedule",
			},
		},
		{
			name:     "already a calendar path",
			target:   "https://venue.example/Events/",
			category: models.CategoryEvents,
			want:     []string{"https://venue.example/Events/"},
		},
		{
			name:     "undated category",
			target:   "https://venue.example/dining",
			category: models.CategoryRestaurants,
			want:     []string{"https://venue.example/dining"},
		},
		{
			name:     "unparseable target",
			target:   "not a url",
			category: models.CategoryEvents,
			want:     []string{"not a url"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CandidateURLs(tt.target, tt.category)
			if len(got) != len(tt.want) {
				t.Fatalf("CandidateURLs = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("url %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScoreContent(t *testing.T) {
	text := "Iowa Cubs at Principal Park"
	if got := ScoreContent(text, models.CategoryEvents, nil); got != 1 {
		t.Errorf("score without keywords = %d, want 1", got)
	}
	if got := ScoreContent(text, models.CategoryEvents, []string{"Iowa Cubs", "  "}); got != 4 {
		t.Errorf("score with keyword = %d, want 4", got)
	}

	dated := "July 30 Friday 7 PM"
	if got := ScoreContent(dated, models.CategoryEvents, nil); got != 3 {
		t.Errorf("dated events score = %d, want 3", got)
	}
	if got := ScoreContent(dated, models.CategoryRestaurants, nil); got != 0 {
		t.Errorf("dated tokens must not count for restaurants, got %d", got)
	}
}

func TestProbeAPIEndpoints(t *testing.T) {
	html := `<html><head>
		<script>var tribe = {"rest":"https:\/\/venue.example\/wp-json\/tribe\/events\/v1\/events"};</script>
		<script>fetch("/api/weather.json"); fetch('/api/events.json?limit=50');</script>
		<script type="application/ld+json">{"url":"/api/events-ld.json"}</script>
		<script>load("/wp-json/tribe/events/v1/events"); load("/api/v2/events"); load("/api/v3/events");</script>
	</head><body></body></html>`

	got := ProbeAPIEndpoints("https://venue.example/", html)
	want := []string{
		"https://venue.example/wp-json/tribe/events/v1/events",
		"https://venue.example/api/events.json?limit=50",
		"https://venue.example/api/v2/events",
	}
	if len(got) != len(want) {
		t.Fatalf("ProbeAPIEndpoints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoint %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFetchBest(t *testing.T) {
	calendar := []byte(`<html><body><h1>Events</h1>
		<p>Live concert July 30, 7:00 PM at the Arena. Tickets on sale Friday.</p>
		<p>Festival show August 2, 6:00 PM at the Lake.</p></body></html>`)
	mock := &MockFetcher{Data: map[string][]byte{
		"https://venue.example/": []byte(`<html><head>
			<script>var tribe = {"rest":"https:\/\/venue.example\/wp-json\/tribe\/events\/v1\/events"};</script>
			</head><body><p>Welcome</p></body></html>`),
		"https://venue.example/events":                         calendar,
		"https://venue.example/schedule":                       calendar,
		"https://venue.example/wp-json/tribe/events/v1/events": []byte(`{"events":[]}`),
	}}
	sf := NewSourceFetcher(mock)
	job := models.SourceJob{ID: "venue", TargetURL: "https://venue.example/", Category: models.CategoryEvents}

	res, err := sf.FetchBest(context.Background(), job)
	if err != nil {
		t.Fatalf("FetchBest: %v", err)
	}
	if res.URL != "https://venue.example/events" {
		t.Errorf("best = %s, want the earlier of two equal calendar pages", res.URL)
	}
	if res.Tried != 5 {
		t.Errorf("tried = %d, want 5", res.Tried)
	}
	if last := mock.Calls[len(mock.Calls)-1]; last != "https://venue.example/wp-json/tribe/events/v1/events" {
		t.Errorf("probed endpoint not fetched, calls = %v", mock.Calls)
	}
	if res.Page().Content != string(calendar) {
		t.Errorf("page content does not match the chosen response")
	}
}

func TestFetchBestNoProbeForUndated(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{
		"https://food.example/new": []byte(`<script>fetch("/api/events.json")</script><p>New restaurant opening</p>`),
	}}
	job := models.SourceJob{ID: "food", TargetURL: "https://food.example/new", Category: models.CategoryRestaurantOpenings}

	if _, err := NewSourceFetcher(mock).FetchBest(context.Background(), job); err != nil {
		t.Fatalf("FetchBest: %v", err)
	}
	if len(mock.Calls) != 1 {
		t.Errorf("calls = %v, want the target only", mock.Calls)
	}
}

func TestFetchBestNoContent(t *testing.T) {
	job := models.SourceJob{ID: "gone", TargetURL: "https://gone.example/", Category: models.CategoryEvents}
	_, err := NewSourceFetcher(&MockFetcher{}).FetchBest(context.Background(), job)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestFetchBestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockFetcher{Data: map[string][]byte{"https://venue.example/": []byte("<p>event</p>")}}
	job := models.SourceJob{ID: "venue", TargetURL: "https://venue.example/", Category: models.CategoryEvents}

	if _, err := NewSourceFetcher(mock).FetchBest(ctx, job); !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
	if len(mock.Calls) != 0 {
		t.Errorf("cancelled fetch still called %v", mock.Calls)
	}
}
