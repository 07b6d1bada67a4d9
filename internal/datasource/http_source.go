package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPSource pulls runner-level form rows from a provider HTTP API.
type HTTPSource struct {
	name       string
	httpClient *RateLimitedHTTPClient
	baseURL    string
	apiKey     string
	enabled    bool
	logger     *logrus.Logger
}

// apiEnvelope is the top-level response from the form API.
type apiEnvelope struct {
	Races []apiRace `json:"races"`
}

// apiRace mirrors a single race in the form API response.
type apiRace struct {
	RaceID     string      `json:"race_id"`
	Date       string      `json:"date"`
	Time       string      `json:"time"`
	Course     string      `json:"course"`
	RaceType   string      `json:"race_type"`
	Distance   string      `json:"distance"`
	NumRunners int         `json:"n_runners"`
	Runners    []apiRunner `json:"runners"`
}

// apiRunner mirrors a single runner entry in the form API response. The
// provider serves weight, position and price in the same raw notation as the
// historical exports.
type apiRunner struct {
	HorseID        string `json:"horse_id"`
	JockeyID       string `json:"jockey_id"`
	TrainerID      string `json:"trainer_id"`
	Draw           string `json:"draw"`
	Age            string `json:"age"`
	Weight         string `json:"weight"`
	FinishPosition string `json:"finish_position"`
	StartingPrice  string `json:"sp"`
}

// NewHTTPSource creates an API-backed source.
func NewHTTPSource(name, baseURL, apiKey string, enabled bool, client *RateLimitedHTTPClient, logger *logrus.Logger) *HTTPSource {
	return &HTTPSource{
		name:       name,
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		enabled:    enabled,
		logger:     logger,
	}
}

// FetchRecords retrieves runner-level form rows within the date range.
func (s *HTTPSource) FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]RawRecord, error) {
	if !s.enabled {
		return nil, NewDataSourceError(s.name, ErrCodeDisabled, "data source disabled", ErrSourceDisabled)
	}

	url := s.baseURL
	if !startDate.IsZero() || !endDate.IsZero() {
		url = fmt.Sprintf("%s?from=%s&to=%s",
			s.baseURL, startDate.Format(DateLayout), endDate.Format(DateLayout))
	}
	headers := map[string]string{
		"Authorization": "Bearer " + s.apiKey,
		"Accept":        "application/json",
	}

	resp, err := s.httpClient.Get(ctx, url, headers)
	if err != nil {
		return nil, NewDataSourceError(s.name, ErrCodeNetworkError, "failed to fetch form data", err)
	}
	defer resp.Body.Close()

	if err := s.checkStatus(resp); err != nil {
		return nil, err
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, NewDataSourceError(s.name, ErrCodeInvalidData, "failed to decode form response", err)
	}

	records := make([]RawRecord, 0, len(envelope.Races)*8)
	for _, race := range envelope.Races {
		records = append(records, s.convertRace(race)...)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"source":  s.name,
			"races":   len(envelope.Races),
			"records": len(records),
		}).Debug("fetched form data")
	}
	return records, nil
}

// Name returns the configured name of the data source.
func (s *HTTPSource) Name() string {
	return s.name
}

// IsEnabled returns whether this data source is enabled.
func (s *HTTPSource) IsEnabled() bool {
	return s.enabled
}

func (s *HTTPSource) checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewDataSourceError(s.name, ErrCodeAuth, "authentication failed", nil)
	case http.StatusTooManyRequests:
		return NewDataSourceError(s.name, ErrCodeRateLimit, "rate limit exceeded", nil)
	case http.StatusNotFound:
		return NewDataSourceError(s.name, ErrCodeNotFound, "resource not found", nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return NewDataSourceError(s.name, ErrCodeServerError,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
}

func (s *HTTPSource) convertRace(race apiRace) []RawRecord {
	numRunners := ""
	if race.NumRunners > 0 {
		numRunners = strconv.Itoa(race.NumRunners)
	}

	records := make([]RawRecord, 0, len(race.Runners))
	for _, runner := range race.Runners {
		records = append(records, RawRecord{
			SourceName:     s.name,
			RaceID:         race.RaceID,
			HorseID:        runner.HorseID,
			Date:           race.Date,
			RaceTime:       race.Time,
			Course:         race.Course,
			RaceType:       race.RaceType,
			Distance:       race.Distance,
			NumRunners:     numRunners,
			Draw:           runner.Draw,
			Age:            runner.Age,
			Weight:         runner.Weight,
			JockeyID:       runner.JockeyID,
			TrainerID:      runner.TrainerID,
			FinishPosition: runner.FinishPosition,
			StartingPrice:  runner.StartingPrice,
		})
	}
	return records
}
