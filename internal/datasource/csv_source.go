package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CSVSource reads runner-level form rows from a local CSV export.
type CSVSource struct {
	name    string
	path    string
	enabled bool
	logger  *logrus.Logger
}

// csvColumns holds the resolved header index for each field, -1 when the
// column is absent.
type csvColumns struct {
	raceID     int
	horseID    int
	date       int
	raceTime   int
	course     int
	raceType   int
	distance   int
	numRunners int
	draw       int
	age        int
	weight     int
	jockeyID   int
	trainerID  int
	finishPos  int
	sp         int
}

// NewCSVSource creates a CSV-backed source for the given file path.
func NewCSVSource(name, path string, enabled bool, logger *logrus.Logger) *CSVSource {
	return &CSVSource{
		name:    name,
		path:    path,
		enabled: enabled,
		logger:  logger,
	}
}

// FetchRecords reads the export and returns the rows within the date range.
// Rows whose date column fails to parse are only excluded when a range is
// requested with no way to place them; otherwise they pass through so the
// cleaning layer can count the drop.
func (s *CSVSource) FetchRecords(ctx context.Context, startDate, endDate time.Time) ([]RawRecord, error) {
	if !s.enabled {
		return nil, NewDataSourceError(s.name, ErrCodeDisabled, "data source disabled", ErrSourceDisabled)
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, NewDataSourceError(s.name, ErrCodeNotFound,
			fmt.Sprintf("failed to open %s", s.path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, NewDataSourceError(s.name, ErrCodeInvalidData,
			fmt.Sprintf("failed to read header of %s", s.path), err)
	}

	cols := resolveColumns(header)
	if cols.raceID < 0 || cols.horseID < 0 || cols.date < 0 {
		return nil, NewDataSourceError(s.name, ErrCodeInvalidData,
			fmt.Sprintf("missing required columns (race_id, horse_id, date) in %s", s.path), nil)
	}

	filtering := !startDate.IsZero() || !endDate.IsZero()

	var records []RawRecord
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount) {
				if s.logger != nil {
					s.logger.WithFields(logrus.Fields{
						"source": s.name,
						"line":   parseErr.Line,
					}).Warn("skipping row with unexpected field count")
				}
				continue
			}
			return nil, NewDataSourceError(s.name, ErrCodeInvalidData,
				fmt.Sprintf("failed to parse %s", s.path), err)
		}

		record := rowToRecord(s.name, line, row, cols)
		if filtering && outsideRange(record.Date, startDate, endDate) {
			continue
		}
		records = append(records, record)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"source":  s.name,
			"path":    s.path,
			"records": len(records),
		}).Debug("fetched form data")
	}
	return records, nil
}

// Name returns the configured name of the data source.
func (s *CSVSource) Name() string {
	return s.name
}

// IsEnabled returns whether this data source is enabled.
func (s *CSVSource) IsEnabled() bool {
	return s.enabled
}

// resolveColumns matches header names to fields. Each field accepts the
// current export name plus the legacy spellings still found in older files.
func resolveColumns(header []string) csvColumns {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return csvColumns{
		raceID:     columnIndex(idx, "race_id"),
		horseID:    columnIndex(idx, "horse_id"),
		date:       columnIndex(idx, "date"),
		raceTime:   columnIndex(idx, "race_time", "time"),
		course:     columnIndex(idx, "racecourse", "course"),
		raceType:   columnIndex(idx, "race_type", "race_type_simple"),
		distance:   columnIndex(idx, "distance"),
		numRunners: columnIndex(idx, "n_runners", "ran"),
		draw:       columnIndex(idx, "draw"),
		age:        columnIndex(idx, "age"),
		weight:     columnIndex(idx, "weight", "weight_lbs"),
		jockeyID:   columnIndex(idx, "jockey_id"),
		trainerID:  columnIndex(idx, "trainer_id"),
		finishPos:  columnIndex(idx, "finish_position", "pos"),
		sp:         columnIndex(idx, "sp", "starting_price", "odds"),
	}
}

func columnIndex(idx map[string]int, names ...string) int {
	for _, name := range names {
		if i, ok := idx[name]; ok {
			return i
		}
	}
	return -1
}

func rowToRecord(source string, line int, row []string, cols csvColumns) RawRecord {
	return RawRecord{
		SourceName:     source,
		Line:           line,
		RaceID:         fieldValue(row, cols.raceID),
		HorseID:        fieldValue(row, cols.horseID),
		Date:           fieldValue(row, cols.date),
		RaceTime:       fieldValue(row, cols.raceTime),
		Course:         fieldValue(row, cols.course),
		RaceType:       fieldValue(row, cols.raceType),
		Distance:       fieldValue(row, cols.distance),
		NumRunners:     fieldValue(row, cols.numRunners),
		Draw:           fieldValue(row, cols.draw),
		Age:            fieldValue(row, cols.age),
		Weight:         fieldValue(row, cols.weight),
		JockeyID:       fieldValue(row, cols.jockeyID),
		TrainerID:      fieldValue(row, cols.trainerID),
		FinishPosition: fieldValue(row, cols.finishPos),
		StartingPrice:  fieldValue(row, cols.sp),
	}
}

func fieldValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// outsideRange reports whether the raw date falls outside [startDate, endDate].
// Unparseable dates are kept so the cleaning layer accounts for them.
func outsideRange(rawDate string, startDate, endDate time.Time) bool {
	day, err := time.Parse(DateLayout, rawDate)
	if err != nil {
		return false
	}
	if !startDate.IsZero() && day.Before(startDate) {
		return true
	}
	if !endDate.IsZero() && day.After(endDate) {
		return true
	}
	return false
}
