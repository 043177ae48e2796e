package httpjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/platform/resilience"
)

func newTestClient(t *testing.T, baseURL string, cfg ClientConfig) *Client {
	t.Helper()

	cfg.BaseURL = baseURL
	cfg.Logger = logging.NewNop()
	client, err := NewClient(source.Descriptor{Key: "maxpreps", DisplayName: "MaxPreps"}, cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	t.Parallel()

	desc := source.Descriptor{Key: "maxpreps", DisplayName: "MaxPreps"}
	if _, err := NewClient(desc, ClientConfig{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	if _, err := NewClient(desc, ClientConfig{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
	if _, err := NewClient(desc, ClientConfig{BaseURL: "https://api.example.com/"}); err != nil {
		t.Fatalf("valid base url rejected: %v", err)
	}
}

func TestSearchEntitiesMapsRecords(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"name":"Mike Smith Jr.","affiliation":"Lincoln High School","birthDate":"2006-03-15","heightInches":74,"region":"oh","attributes":{"position":"qb"}},
			{"name":"   ","affiliation":"ignored"},
			{"name":"Aaron Jones","affiliation":"Roosevelt HS"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{APIKey: "mp-key"})

	records, err := client.SearchEntities(context.Background(), map[string]string{"name": "smith", "blank": "  "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotPath != "/v1/players/search" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "name=smith") {
		t.Fatalf("query = %q, want name forwarded", gotQuery)
	}
	if strings.Contains(gotQuery, "blank") {
		t.Fatalf("blank params must be dropped, query = %q", gotQuery)
	}
	if gotAuth != "Bearer mp-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Fatalf("accept = %q", gotAccept)
	}

	if len(records) != 2 {
		t.Fatalf("expected nameless record skipped, got %d records", len(records))
	}

	first := records[0]
	if first.SourceKey != "maxpreps" {
		t.Fatalf("source key = %q", first.SourceKey)
	}
	if first.DisplayName != "Mike Smith Jr." {
		t.Fatalf("display name = %q", first.DisplayName)
	}
	if first.NormalizedName != "mike smith" {
		t.Fatalf("normalized name = %q", first.NormalizedName)
	}
	if first.AffiliationName != "lincoln hs" {
		t.Fatalf("affiliation = %q", first.AffiliationName)
	}
	if first.BirthDate == nil || first.BirthDate.Year() != 2006 {
		t.Fatalf("birth date = %v", first.BirthDate)
	}
	if first.HeightInches == nil || *first.HeightInches != 74 {
		t.Fatalf("height = %v", first.HeightInches)
	}
	if first.RegionCode != "OH" {
		t.Fatalf("region = %q", first.RegionCode)
	}
	if first.Attributes["position"] != "qb" {
		t.Fatalf("attributes = %v", first.Attributes)
	}
}

func TestGetEntityStats(t *testing.T) {
	t.Parallel()

	var gotPath string
	empty := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		if empty {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"name":"Mike Smith","affiliation":"Lincoln HS"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{})

	record, err := client.GetEntityStats(context.Background(), "abc 123", "2025")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if gotPath != "/v1/players/abc%20123/stats" {
		t.Fatalf("path = %q, want escaped entity id", gotPath)
	}
	if record == nil || record.DisplayName != "Mike Smith" {
		t.Fatalf("unexpected record: %+v", record)
	}

	empty = true
	record, err = client.GetEntityStats(context.Background(), "missing", "")
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record for empty data, got %+v", record)
	}

	if _, err := client.GetEntityStats(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected error for blank entity id")
	}
}

func TestGetLeaderboardForwardsParameters(t *testing.T) {
	t.Parallel()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":[{"name":"Mike Smith"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{})

	records, err := client.GetLeaderboard(context.Background(), "points", "2025", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	for _, fragment := range []string{"stat=points", "season=2025", "limit=10"} {
		if !strings.Contains(gotQuery, fragment) {
			t.Fatalf("query %q missing %q", gotQuery, fragment)
		}
	}

	if _, err := client.GetLeaderboard(context.Background(), "  ", "", 0); err == nil {
		t.Fatalf("expected error for blank stat name")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}

	client = newTestClient(t, server.URL, ClientConfig{HealthPath: "/nope"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected failing health check")
	}
}

func TestServerErrorsOpenTheBreaker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	})

	for i := 0; i < 2; i++ {
		if _, err := client.SearchEntities(context.Background(), nil); err == nil {
			t.Fatalf("call %d: expected status error", i)
		}
	}

	_, err := client.SearchEntities(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "temporarily unavailable") {
		t.Fatalf("expected breaker rejection, got %v", err)
	}
}

func TestClientErrorsDoNotTripTheBreaker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	})

	for i := 0; i < 3; i++ {
		_, err := client.SearchEntities(context.Background(), nil)
		if err == nil {
			t.Fatalf("call %d: expected 404 error", i)
		}
		if strings.Contains(err.Error(), "temporarily unavailable") {
			t.Fatalf("call %d: 404 must not open the breaker: %v", i, err)
		}
	}
}

func TestPathOrDefault(t *testing.T) {
	t.Parallel()

	if got := pathOrDefault("", "/v1/players/search"); got != "/v1/players/search" {
		t.Fatalf("empty path = %q", got)
	}
	if got := pathOrDefault("api/search", ""); got != "/api/search" {
		t.Fatalf("unanchored path = %q", got)
	}
	if got := pathOrDefault("//api/search", ""); got != "/api/search" {
		t.Fatalf("doubled slash = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Fatalf("short value = %q", got)
	}
	got := truncate(strings.Repeat("x", 20), 5)
	if got != "xxxxx...(truncated)" {
		t.Fatalf("truncated value = %q", got)
	}
}
