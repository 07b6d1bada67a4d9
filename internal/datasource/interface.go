package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for race dates across all providers.
const DateLayout = "2006-01-02"

// Source defines the interface for external form data providers.
type Source interface {
	// FetchRecords retrieves runner-level form rows within the date range.
	// A zero startDate and endDate means no date filtering.
	FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]RawRecord, error)

	// Name returns the configured name of the data source.
	Name() string

	// IsEnabled returns whether this data source is enabled.
	IsEnabled() bool
}

// RawRecord is a single runner line as delivered by a provider, before any
// cleaning. Every field is kept as the raw string so the cleaning layer owns
// all parsing decisions and the drop accounting that goes with them.
type RawRecord struct {
	SourceName string
	Line       int // position in the source file, 0 when not applicable

	RaceID         string
	HorseID        string
	Date           string // DateLayout, e.g. "2023-04-01"
	RaceTime       string // 24h clock, e.g. "14:35"
	Course         string
	RaceType       string
	Distance       string // e.g. "2m4f110y" or plain yards
	NumRunners     string
	Draw           string
	Age            string
	Weight         string // stones-pounds "9-7" or plain lbs
	JockeyID       string
	TrainerID      string
	FinishPosition string // rank, a non-finish code, or empty for unsettled
	StartingPrice  string // fractional "7/2" or decimal
}

// Common data source error codes
const (
	ErrCodeRateLimit    = "rate_limit_exceeded"
	ErrCodeAuth         = "authentication_failed"
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidData  = "invalid_data"
	ErrCodeNetworkError = "network_error"
	ErrCodeServerError  = "server_error"
	ErrCodeDisabled     = "source_disabled"
	ErrCodeUnknown      = "unknown"
)

// Common sentinel errors
var (
	ErrSourceDisabled   = errors.New("data source is disabled")
	ErrNoSourcesEnabled = errors.New("no data sources enabled")
)

// DataSourceError represents an error from a data source.
type DataSourceError struct {
	Source  string
	Code    string
	Message string
	Err     error
}

func (e *DataSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Source, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Source, e.Code, e.Message)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// NewDataSourceError creates a new data source error.
func NewDataSourceError(source, code, message string, err error) *DataSourceError {
	return &DataSourceError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
