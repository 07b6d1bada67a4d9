package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/config"
)

const csvHeader = "race_id,horse_id,date,race_time,racecourse,race_type,distance,n_runners,draw,age,weight,jockey_id,trainer_id,finish_position,sp"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeTempCSV(tb testing.TB, lines ...string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "form.csv")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("failed to write test csv: %v", err)
	}
	return path
}

func fastHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:           5 * time.Second,
		MaxRetries:        0,
		RetryWaitMin:      time.Millisecond,
		RetryWaitMax:      10 * time.Millisecond,
		RateLimit:         1000,
		CircuitBreakerMax: 5,
	}
}

func TestCSVSourceFetchRecords(t *testing.T) {
	path := writeTempCSV(t,
		csvHeader,
		"1001,501,2023-04-01,13:05,Kempton,flat,1m2f,3,4,5,9-7,11,21,1,7/2",
		"1001,502,2023-04-01,13:05,Kempton,flat,1m2f,3,2,6,9-0,12,22,2,5/1",
		"1002,501,2023-05-10,14:20,Ascot,flat,1m,2,1,5,9-7,11,21,PU,11/4",
	)
	source := NewCSVSource("historical_csv", path, true, testLogger())

	records, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchRecords returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	first := records[0]
	if first.RaceID != "1001" || first.HorseID != "501" {
		t.Errorf("unexpected ids: race=%q horse=%q", first.RaceID, first.HorseID)
	}
	if first.Date != "2023-04-01" || first.RaceTime != "13:05" {
		t.Errorf("unexpected timing fields: date=%q time=%q", first.Date, first.RaceTime)
	}
	if first.Course != "Kempton" || first.RaceType != "flat" || first.Distance != "1m2f" {
		t.Errorf("unexpected race fields: %+v", first)
	}
	if first.Weight != "9-7" || first.StartingPrice != "7/2" || first.FinishPosition != "1" {
		t.Errorf("unexpected runner fields: %+v", first)
	}
	if first.SourceName != "historical_csv" || first.Line != 2 {
		t.Errorf("unexpected provenance: source=%q line=%d", first.SourceName, first.Line)
	}
	if records[2].FinishPosition != "PU" {
		t.Errorf("expected raw non-finish code to pass through, got %q", records[2].FinishPosition)
	}
}

func TestCSVSourceDateFilter(t *testing.T) {
	path := writeTempCSV(t,
		csvHeader,
		"1001,501,2023-04-01,13:05,Kempton,flat,1m2f,2,4,5,9-7,11,21,1,7/2",
		"1002,501,2023-05-10,14:20,Ascot,flat,1m,2,1,5,9-7,11,21,2,11/4",
	)
	source := NewCSVSource("historical_csv", path, true, testLogger())

	start := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC)
	records, err := source.FetchRecords(context.Background(), start, end)
	if err != nil {
		t.Fatalf("FetchRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record in range, got %d", len(records))
	}
	if records[0].RaceID != "1002" {
		t.Errorf("expected race 1002, got %q", records[0].RaceID)
	}
}

func TestCSVSourceColumnAliases(t *testing.T) {
	path := writeTempCSV(t,
		"race_id,horse_id,date,time,course,race_type_simple,distance,ran,draw,age,weight_lbs,jockey_id,trainer_id,pos,odds",
		"1001,501,2023-04-01,13:05,Kempton,flat,1m2f,3,4,5,133,11,21,1,3.5",
	)
	source := NewCSVSource("legacy_csv", path, true, testLogger())

	records, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchRecords returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	record := records[0]
	if record.RaceTime != "13:05" {
		t.Errorf("time alias not resolved, got %q", record.RaceTime)
	}
	if record.Course != "Kempton" {
		t.Errorf("course alias not resolved, got %q", record.Course)
	}
	if record.RaceType != "flat" {
		t.Errorf("race_type_simple alias not resolved, got %q", record.RaceType)
	}
	if record.NumRunners != "3" {
		t.Errorf("ran alias not resolved, got %q", record.NumRunners)
	}
	if record.Weight != "133" {
		t.Errorf("weight_lbs alias not resolved, got %q", record.Weight)
	}
	if record.FinishPosition != "1" {
		t.Errorf("pos alias not resolved, got %q", record.FinishPosition)
	}
	if record.StartingPrice != "3.5" {
		t.Errorf("odds alias not resolved, got %q", record.StartingPrice)
	}
}

func TestCSVSourceMissingColumns(t *testing.T) {
	path := writeTempCSV(t,
		"race_id,date,racecourse",
		"1001,2023-04-01,Kempton",
	)
	source := NewCSVSource("bad_csv", path, true, testLogger())

	_, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		t.Fatalf("expected DataSourceError, got %T", err)
	}
	if dsErr.Code != ErrCodeInvalidData {
		t.Errorf("expected code %q, got %q", ErrCodeInvalidData, dsErr.Code)
	}
}

func TestCSVSourceSkipsMalformedRows(t *testing.T) {
	path := writeTempCSV(t,
		csvHeader,
		"1001,501,2023-04-01,13:05,Kempton,flat,1m2f,2,4,5,9-7,11,21,1,7/2",
		"1001,502",
		"1001,503,2023-04-01,13:05,Kempton,flat,1m2f,2,2,6,9-0,12,22,2,5/1",
	)
	source := NewCSVSource("historical_csv", path, true, testLogger())

	records, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchRecords returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected malformed row to be skipped, got %d records", len(records))
	}
	if records[1].HorseID != "503" {
		t.Errorf("expected horse 503 after skip, got %q", records[1].HorseID)
	}
}

func TestCSVSourceFileNotFound(t *testing.T) {
	source := NewCSVSource("historical_csv", "/nonexistent/form.csv", true, testLogger())

	_, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		t.Fatalf("expected DataSourceError, got %T", err)
	}
	if dsErr.Code != ErrCodeNotFound {
		t.Errorf("expected code %q, got %q", ErrCodeNotFound, dsErr.Code)
	}
}

func TestCSVSourceDisabled(t *testing.T) {
	source := NewCSVSource("historical_csv", "ignored.csv", false, testLogger())

	if source.IsEnabled() {
		t.Error("expected source to report disabled")
	}
	_, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if !errors.Is(err, ErrSourceDisabled) {
		t.Errorf("expected ErrSourceDisabled, got %v", err)
	}
}

func TestHTTPSourceFetchRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.URL.Query().Get("from"); got != "2023-04-01" {
			t.Errorf("unexpected from param %q", got)
		}
		if got := r.URL.Query().Get("to"); got != "2023-04-30" {
			t.Errorf("unexpected to param %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"races": [{
				"race_id": "88001",
				"date": "2023-04-02",
				"time": "15:30",
				"course": "York",
				"race_type": "flat",
				"distance": "6f",
				"n_runners": 2,
				"runners": [
					{"horse_id": "701", "jockey_id": "31", "trainer_id": "41", "draw": "1", "age": "4", "weight": "9-2", "finish_position": "1", "sp": "2/1"},
					{"horse_id": "702", "jockey_id": "32", "trainer_id": "42", "draw": "2", "age": "5", "weight": "9-7", "finish_position": "2", "sp": "6/4"}
				]
			}]
		}`)
	}))
	defer server.Close()

	client := NewRateLimitedHTTPClient(fastHTTPClientConfig(), testLogger())
	source := NewHTTPSource("racing_api", server.URL, "test-key", true, client, testLogger())

	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 4, 30, 0, 0, 0, 0, time.UTC)
	records, err := source.FetchRecords(context.Background(), start, end)
	if err != nil {
		t.Fatalf("FetchRecords returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.RaceID != "88001" || first.HorseID != "701" {
		t.Errorf("unexpected ids: race=%q horse=%q", first.RaceID, first.HorseID)
	}
	if first.NumRunners != "2" {
		t.Errorf("expected n_runners 2, got %q", first.NumRunners)
	}
	if first.Course != "York" || first.Distance != "6f" {
		t.Errorf("unexpected race fields: %+v", first)
	}
	if records[1].Weight != "9-7" || records[1].StartingPrice != "6/4" {
		t.Errorf("unexpected runner fields: %+v", records[1])
	}
	if first.SourceName != "racing_api" {
		t.Errorf("unexpected source name %q", first.SourceName)
	}
}

func TestHTTPSourceErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, ErrCodeAuth},
		{"forbidden", http.StatusForbidden, ErrCodeAuth},
		{"not found", http.StatusNotFound, ErrCodeNotFound},
		{"bad request", http.StatusBadRequest, ErrCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := NewRateLimitedHTTPClient(fastHTTPClientConfig(), testLogger())
			source := NewHTTPSource("racing_api", server.URL, "test-key", true, client, testLogger())

			_, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
			if err == nil {
				t.Fatal("expected error")
			}
			var dsErr *DataSourceError
			if !errors.As(err, &dsErr) {
				t.Fatalf("expected DataSourceError, got %T", err)
			}
			if dsErr.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, dsErr.Code)
			}
		})
	}
}

func TestHTTPSourceDisabled(t *testing.T) {
	client := NewRateLimitedHTTPClient(fastHTTPClientConfig(), testLogger())
	source := NewHTTPSource("racing_api", "http://example.invalid", "key", false, client, testLogger())

	_, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{})
	if !errors.Is(err, ErrSourceDisabled) {
		t.Errorf("expected ErrSourceDisabled, got %v", err)
	}
}

func TestRateLimiterEnforcesRate(t *testing.T) {
	cfg := fastHTTPClientConfig()
	cfg.RateLimit = 10
	client := NewRateLimitedHTTPClient(cfg, nil)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := client.limiter.Wait(ctx); err != nil {
			t.Fatalf("limiter wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	// 10 permits at 10 req/s with burst 1 should take roughly 900ms.
	if elapsed < 800*time.Millisecond || elapsed > 1200*time.Millisecond {
		t.Errorf("expected ~900ms for 10 rate-limited waits, got %v", elapsed)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastHTTPClientConfig()
	cfg.CircuitBreakerMax = 2
	client := NewRateLimitedHTTPClient(cfg, testLogger())

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), server.URL, nil); err == nil {
			t.Fatal("expected request to fail")
		}
	}
	if !client.CircuitOpen() {
		t.Fatal("expected circuit breaker to open after consecutive failures")
	}

	_, err := client.Get(context.Background(), server.URL, nil)
	if err == nil || !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("expected circuit breaker error, got %v", err)
	}

	client.Reset()
	if client.CircuitOpen() {
		t.Error("expected Reset to close the circuit breaker")
	}
}

func TestNewSources(t *testing.T) {
	cfg := &config.IngestionConfig{
		Sources: []config.DataSourceConfig{
			{Name: "historical_csv", Kind: "csv", Enabled: true, Path: "/data/form.csv"},
			{Name: "racing_api", Kind: "http", Enabled: true, URL: "https://api.example.com/v1/results", APIKey: "k", RateLimitPerSecond: 2},
			{Name: "switched_off", Kind: "csv", Enabled: false, Path: "/data/other.csv"},
		},
	}

	sources, err := NewSources(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSources returned error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 enabled sources, got %d", len(sources))
	}
	if sources[0].Name() != "historical_csv" || sources[1].Name() != "racing_api" {
		t.Errorf("unexpected source names: %q, %q", sources[0].Name(), sources[1].Name())
	}
	for _, source := range sources {
		if !source.IsEnabled() {
			t.Errorf("source %q should be enabled", source.Name())
		}
	}
}

func TestNewSourcesNoneEnabled(t *testing.T) {
	cfg := &config.IngestionConfig{
		Sources: []config.DataSourceConfig{
			{Name: "historical_csv", Kind: "csv", Enabled: false, Path: "/data/form.csv"},
		},
	}

	_, err := NewSources(cfg, testLogger())
	if !errors.Is(err, ErrNoSourcesEnabled) {
		t.Errorf("expected ErrNoSourcesEnabled, got %v", err)
	}
}

func TestNewSourceUnknownKind(t *testing.T) {
	_, err := NewSource(config.DataSourceConfig{Name: "ftp_drop", Kind: "ftp"}, testLogger())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown data source kind") {
		t.Errorf("unexpected error: %v", err)
	}
}

func BenchmarkCSVSourceFetchRecords(b *testing.B) {
	lines := make([]string, 0, 501)
	lines = append(lines, csvHeader)
	for i := 0; i < 500; i++ {
		lines = append(lines, fmt.Sprintf(
			"%d,%d,2023-04-01,13:05,Kempton,flat,1m2f,10,%d,5,9-7,11,21,%d,7/2",
			1000+i/10, 500+i%10, i%10+1, i%10+1,
		))
	}
	path := writeTempCSV(b, lines...)
	source := NewCSVSource("bench_csv", path, true, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := source.FetchRecords(context.Background(), time.Time{}, time.Time{}); err != nil {
			b.Fatal(err)
		}
	}
}
