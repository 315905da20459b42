package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func testHTTPFetcher() *RateLimitedFetcher {
	return NewRateLimitedFetcher(FetchConfig{AllowPrivate: true, RateLimitRPS: 100})
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<p>Concert July 30</p>")
	}))
	defer srv.Close()

	doc, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/events")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer doc.Body.Close()
	body, _ := io.ReadAll(doc.Body)
	if string(body) != "<p>Concert July 30</p>" {
		t.Errorf("body = %q", body)
	}
	if doc.ContentType != "text/html" || doc.StatusCode != http.StatusOK {
		t.Errorf("doc = %+v", doc)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("hits = %d, want 2", n)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := testHTTPFetcher().Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("hits = %d, want 1", n)
	}
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := testHTTPFetcher()
	for _, raw := range []string{"", "not a url", "ftp://example.org/file", "file:///etc/passwd"} {
		if _, err := f.Fetch(context.Background(), raw); err == nil {
			t.Errorf("Fetch(%q) succeeded", raw)
		}
	}
}

func TestFetchBlocksPrivateAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached a loopback server")
	}))
	defer srv.Close()

	f := NewRateLimitedFetcher(FetchConfig{RateLimitRPS: 100})
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "blocked private IP") {
		t.Fatalf("err = %v, want blocked private IP", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
	}
	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
	if !isPrivateIP(nil) {
		t.Error("nil IP must be treated as private")
	}
}

func TestSafeCheckRedirect(t *testing.T) {
	req := func(raw string) *http.Request {
		u, _ := url.Parse(raw)
		return &http.Request{URL: u}
	}
	tests := []struct {
		target  string
		via     int
		wantErr bool
	}{
		{"https://www.iowawild.com/schedule", 1, false},
		{"http://localhost:8080/admin", 1, true},
		{"https://printer.local/", 1, true},
		{"ftp://example.org/", 1, true},
		{"https://example.org/", 10, true},
	}
	for _, tt := range tests {
		via := make([]*http.Request, tt.via)
		err := safeCheckRedirect(req(tt.target), via)
		if (err != nil) != tt.wantErr {
			t.Errorf("safeCheckRedirect(%s, %d) = %v, wantErr %v", tt.target, tt.via, err, tt.wantErr)
		}
	}
}
