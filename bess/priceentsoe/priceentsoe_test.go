package priceentsoe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument>
    <TimeSeries>
        <Period>
            <timeInterval>
                <start>2026-07-30T22:00Z</start>
                <end>2026-07-31T22:00Z</end>
            </timeInterval>
            <resolution>PT60M</resolution>
            <Point><position>1</position><price.amount>45.50</price.amount></Point>
            <Point><position>2</position><price.amount>42.30</price.amount></Point>
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`

func TestTodayPricesDecodesPoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXML))
	}))
	defer server.Close()

	loc, _ := time.LoadLocation("UTC")
	c := New("test-token", server.URL+"?domain=%s&start=%s&end=%s&token=%s", loc, "SE3")

	points, err := c.TodayPrices(context.Background())
	if err != nil {
		t.Fatalf("TodayPrices: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].SpotPrice != 45.50 || points[1].SpotPrice != 42.30 {
		t.Errorf("unexpected spot prices: %+v", points)
	}
	wantStart := time.Date(2026, 7, 30, 22, 0, 0, 0, time.UTC)
	if !points[0].Timestamp.Equal(wantStart) {
		t.Errorf("expected first timestamp %v, got %v", wantStart, points[0].Timestamp)
	}
	wantSecond := wantStart.Add(time.Hour)
	if !points[1].Timestamp.Equal(wantSecond) {
		t.Errorf("expected second timestamp %v, got %v", wantSecond, points[1].Timestamp)
	}
}

func TestFetchPropagatesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", time.UTC, "SE3")
	c.retries = 0

	if _, err := c.TodayPrices(context.Background()); err == nil {
		t.Fatalf("expected an error for HTTP 500")
	}
}

func TestFetchRetriesBeforeFailing(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", time.UTC, "SE3")
	c.retries = 2

	if _, err := c.TodayPrices(context.Background()); err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestFetchPropagatesInvalidXML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<not-xml"))
	}))
	defer server.Close()

	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", time.UTC, "SE3")
	c.retries = 0

	if _, err := c.TodayPrices(context.Background()); err == nil {
		t.Fatalf("expected an error for malformed XML")
	}
}

func TestResolutionDurationQuarterHour(t *testing.T) {
	if got := resolutionDuration("PT15M"); got != 15*time.Minute {
		t.Errorf("expected 15m, got %v", got)
	}
	if got := resolutionDuration("PT60M"); got != time.Hour {
		t.Errorf("expected 1h, got %v", got)
	}
}

func TestDomainCodeForAreaKnownAndUnknown(t *testing.T) {
	if got := domainCodeForArea("SE3"); got != "10Y1001A1001A46" {
		t.Errorf("expected SE3 to resolve to its EIC domain code, got %q", got)
	}
	if got := domainCodeForArea("XX9"); got != "XX9" {
		t.Errorf("expected an unrecognized area to pass through unchanged, got %q", got)
	}
}

func TestNewEmbedsResolvedDomainCodeInRequest(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXML))
	}))
	defer server.Close()

	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", time.UTC, "SE4")
	if _, err := c.TodayPrices(context.Background()); err != nil {
		t.Fatalf("TodayPrices: %v", err)
	}
	if want := "domain=10Y1001A1001A47"; !strings.Contains(gotQuery, want) {
		t.Errorf("expected request query to embed the SE4 domain code, got %q", gotQuery)
	}
}

func TestTomorrowPricesGatedBeforeThirteenLocal(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXML))
	}))
	defer server.Close()

	loc, _ := time.LoadLocation("UTC")
	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", loc, "SE3")
	c.now = func() time.Time { return time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC) }

	points, err := c.TomorrowPrices(context.Background())
	if err != nil {
		t.Fatalf("TomorrowPrices before 13:00 should not error, got %v", err)
	}
	if points != nil {
		t.Errorf("expected no tomorrow prices before 13:00 local, got %+v", points)
	}
	if hits != 0 {
		t.Errorf("expected no HTTP request before 13:00 local, got %d", hits)
	}
}

func TestTomorrowPricesFetchesAfterThirteenLocal(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleXML))
	}))
	defer server.Close()

	loc, _ := time.LoadLocation("UTC")
	c := New("tok", server.URL+"?domain=%s&start=%s&end=%s&token=%s", loc, "SE3")
	c.now = func() time.Time { return time.Date(2026, 7, 31, 13, 30, 0, 0, time.UTC) }

	points, err := c.TomorrowPrices(context.Background())
	if err != nil {
		t.Fatalf("TomorrowPrices: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("expected 2 points once past 13:00 local, got %d", len(points))
	}
	if hits != 1 {
		t.Errorf("expected exactly 1 HTTP request, got %d", hits)
	}
}
