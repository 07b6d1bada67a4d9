package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/datasource"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
)

// Row-level drop reasons reported by the cleaner.
const (
	DropReasonMissingEssential = "missing_essential"
	DropReasonBadTimestamp     = "bad_timestamp"
	DropReasonInvalidFinish    = "invalid_finish"
	DropReasonDuplicateRow     = "duplicate_row"
)

// Race-level drop reasons. Dropping a race discards all of its rows.
const (
	DropReasonInconsistentFields = "inconsistent_fields"
	DropReasonFieldSizeMismatch  = "field_size_mismatch"
	DropReasonBadDistance        = "bad_distance"
	DropReasonPartialResults     = "partial_results"
	DropReasonInvalidResults     = "invalid_results"
)

const (
	yardsPerMile    = 1760
	yardsPerFurlong = 220
	poundsPerStone  = 14
	raceTimeLayout  = "15:04"
)

// nonFinishCodes are the result strings that mark a runner who started but
// recorded no finishing position.
var nonFinishCodes = map[string]bool{
	"pu": true, "ur": true, "f": true, "bd": true, "ro": true,
	"ref": true, "voi": true, "lft": true, "su": true, "dsq": true,
	"dnf": true, "ot": true, "otd": true, "bf": true,
}

// raceTypeAliases maps provider race-type spellings to the canonical set.
var raceTypeAliases = map[string]string{
	"flat":               "flat",
	"hurdle":             "hurdle",
	"hrd":                "hurdle",
	"chase":              "chase",
	"chs":                "chase",
	"steeplechase":       "chase",
	"nh flat":            "nh_flat",
	"nh_flat":            "nh_flat",
	"nhf":                "nh_flat",
	"bumper":             "nh_flat",
	"national hunt flat": "nh_flat",
}

// CleanReport summarizes one cleaning pass over raw provider rows.
type CleanReport struct {
	TotalRows    int
	KeptRows     int
	DroppedRows  map[string]int
	DroppedRaces map[string]int
	Races        int
	SettledRaces int
	PendingRaces int
}

// TotalDropped returns the number of rows discarded for any reason.
func (r *CleanReport) TotalDropped() int {
	total := 0
	for _, count := range r.DroppedRows {
		total += count
	}
	return total
}

// String returns a formatted string representation of the report.
func (r *CleanReport) String() string {
	return fmt.Sprintf("CleanReport{Rows=%d, Kept=%d, Dropped=%d, Races=%d (settled=%d, pending=%d)}",
		r.TotalRows, r.KeptRows, r.TotalDropped(), r.Races, r.SettledRaces, r.PendingRaces)
}

// DataCleaner turns raw provider rows into race aggregates: parse, drop,
// dedupe, group, settle and sort.
type DataCleaner struct {
	logger *logrus.Logger
}

// NewDataCleaner creates a new data cleaner.
func NewDataCleaner(logger *logrus.Logger) *DataCleaner {
	return &DataCleaner{logger: logger}
}

// finishOutcome is the parsed result column of one row.
type finishOutcome struct {
	position    *int
	nonFinisher bool
	settled     bool
}

// cleanRow is one runner line after parsing.
type cleanRow struct {
	raceID   int64
	horseID  int64
	start    time.Time
	course   string
	raceType string
	distance string
	declared int // declared field size, 0 when the column is absent
	runner   *models.Runner
	outcome  finishOutcome
}

type rowKey struct {
	raceID  int64
	horseID int64
}

// CleanRecords runs the full cleaning pipeline and returns the surviving
// races in chronological (start, race ID) order alongside the drop report.
func (c *DataCleaner) CleanRecords(records []datasource.RawRecord) ([]*models.Race, *CleanReport) {
	report := &CleanReport{
		TotalRows:    len(records),
		DroppedRows:  make(map[string]int),
		DroppedRaces: make(map[string]int),
	}

	rows := make([]cleanRow, 0, len(records))
	seen := make(map[rowKey]bool, len(records))
	for _, record := range records {
		row, reason := c.parseRecord(record)
		if reason != "" {
			c.dropRow(report, record, reason)
			continue
		}
		key := rowKey{row.raceID, row.horseID}
		if seen[key] {
			c.dropRow(report, record, DropReasonDuplicateRow)
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}

	races := c.assembleRaces(rows, report)

	sort.SliceStable(races, func(i, j int) bool {
		return races[i].Before(races[j])
	})

	for _, race := range races {
		report.KeptRows += len(race.Runners)
		if race.IsSettled() {
			report.SettledRaces++
		} else {
			report.PendingRaces++
		}
	}
	report.Races = len(races)

	for reason, count := range report.DroppedRows {
		metrics.RecordRowsDropped(reason, count)
	}

	return races, report
}

// parseRecord converts one raw row, returning the drop reason when an
// essential field fails to parse. Optional fields degrade to nil.
func (c *DataCleaner) parseRecord(record datasource.RawRecord) (cleanRow, string) {
	raceID, err := strconv.ParseInt(strings.TrimSpace(record.RaceID), 10, 64)
	if err != nil || raceID <= 0 {
		return cleanRow{}, DropReasonMissingEssential
	}
	horseID, err := strconv.ParseInt(strings.TrimSpace(record.HorseID), 10, 64)
	if err != nil || horseID <= 0 {
		return cleanRow{}, DropReasonMissingEssential
	}
	start, ok := parseStart(record.Date, record.RaceTime)
	if !ok {
		return cleanRow{}, DropReasonBadTimestamp
	}
	outcome, ok := parseFinish(record.FinishPosition)
	if !ok {
		return cleanRow{}, DropReasonInvalidFinish
	}

	runner := &models.Runner{
		RaceID:    raceID,
		HorseID:   horseID,
		JockeyID:  parseOptionalID(record.JockeyID),
		TrainerID: parseOptionalID(record.TrainerID),
		Age:       parseOptionalFloat(record.Age),
		WeightLbs: parseWeight(record.Weight),
		Draw:      parseOptionalFloat(record.Draw),
	}
	if price := parseStartingPrice(record.StartingPrice); price != nil {
		runner.StartingPrice = price
		prob := impliedProbability(*price)
		runner.MarketProb = &prob
	}

	declared := 0
	if n, err := strconv.Atoi(strings.TrimSpace(record.NumRunners)); err == nil && n > 0 {
		declared = n
	}

	return cleanRow{
		raceID:   raceID,
		horseID:  horseID,
		start:    start,
		course:   titleCase(record.Course),
		raceType: normalizeRaceType(record.RaceType),
		distance: strings.ToLower(strings.TrimSpace(record.Distance)),
		declared: declared,
		runner:   runner,
		outcome:  outcome,
	}, ""
}

// assembleRaces groups rows by race and builds the aggregates, dropping
// whole races whose rows disagree.
func (c *DataCleaner) assembleRaces(rows []cleanRow, report *CleanReport) []*models.Race {
	groups := make(map[int64][]cleanRow)
	order := make([]int64, 0)
	for _, row := range rows {
		if _, ok := groups[row.raceID]; !ok {
			order = append(order, row.raceID)
		}
		groups[row.raceID] = append(groups[row.raceID], row)
	}

	races := make([]*models.Race, 0, len(order))
	for _, raceID := range order {
		group := groups[raceID]
		race, reason := c.buildRace(raceID, group)
		if reason != "" {
			c.dropRace(report, raceID, reason, len(group))
			continue
		}
		races = append(races, race)
	}
	return races
}

// buildRace assembles one race from its rows. Race-level fields must agree
// across rows, the row count must match the declared field size, and the
// group must be uniformly settled or uniformly pending.
func (c *DataCleaner) buildRace(raceID int64, group []cleanRow) (*models.Race, string) {
	first := group[0]
	for _, row := range group[1:] {
		if !row.start.Equal(first.start) || row.course != first.course ||
			row.raceType != first.raceType || row.distance != first.distance ||
			row.declared != first.declared {
			return nil, DropReasonInconsistentFields
		}
	}

	distanceYards, ok := parseDistance(first.distance)
	if !ok {
		return nil, DropReasonBadDistance
	}

	declared := first.declared
	if declared == 0 {
		declared = len(group)
	}
	if declared != len(group) {
		return nil, DropReasonFieldSizeMismatch
	}

	runners := make([]*models.Runner, len(group))
	settledCount := 0
	for i, row := range group {
		runners[i] = row.runner
		if row.outcome.settled {
			settledCount++
		}
	}

	now := time.Now().UTC()
	race := &models.Race{
		ID:            raceID,
		Start:         first.start,
		Course:        first.course,
		RaceType:      first.raceType,
		DistanceYards: distanceYards,
		FieldSize:     declared,
		Status:        models.RaceStatusPending,
		Runners:       runners,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch settledCount {
	case 0:
		return race, ""
	case len(group):
		results := make([]models.RunnerResult, len(group))
		for i, row := range group {
			results[i] = models.RunnerResult{HorseID: row.horseID, FinishPosition: row.outcome.position}
		}
		if err := race.Settle(results); err != nil {
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"race_id": raceID,
					"error":   err,
				}).Warn("dropping race with invalid results")
			}
			return nil, DropReasonInvalidResults
		}
		return race, ""
	default:
		return nil, DropReasonPartialResults
	}
}

func (c *DataCleaner) dropRow(report *CleanReport, record datasource.RawRecord, reason string) {
	report.DroppedRows[reason]++
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"source":   record.SourceName,
			"line":     record.Line,
			"race_id":  record.RaceID,
			"horse_id": record.HorseID,
			"reason":   reason,
		}).Debug("dropping form row")
	}
}

func (c *DataCleaner) dropRace(report *CleanReport, raceID int64, reason string, rowCount int) {
	report.DroppedRaces[reason]++
	report.DroppedRows[reason] += rowCount
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"race_id": raceID,
			"reason":  reason,
			"rows":    rowCount,
		}).Warn("dropping race")
	}
}

// parseStart combines the date and race time columns into a UTC instant.
func parseStart(date, clock string) (time.Time, bool) {
	day, err := time.Parse(datasource.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(raceTimeLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
}

// parseFinish interprets the raw result column. Empty and dash values mean
// the race has not settled yet.
func parseFinish(raw string) (finishOutcome, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "" || s == "-":
		return finishOutcome{}, true
	case nonFinishCodes[s]:
		return finishOutcome{nonFinisher: true, settled: true}, true
	}
	pos, err := strconv.Atoi(s)
	if err != nil || pos < 1 {
		return finishOutcome{}, false
	}
	return finishOutcome{position: &pos, settled: true}, true
}

// parseWeight converts carried weight to pounds. Accepts stones-pounds
// ("9-7") and plain pounds ("133" or "133.5").
func parseWeight(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if idx := strings.Index(s, "-"); idx > 0 {
		stones, err1 := strconv.Atoi(s[:idx])
		pounds, err2 := strconv.Atoi(s[idx+1:])
		if err1 != nil || err2 != nil || stones < 0 || pounds < 0 || pounds >= poundsPerStone {
			return nil
		}
		total := float64(stones*poundsPerStone + pounds)
		return &total
	}
	lbs, err := strconv.ParseFloat(s, 64)
	if err != nil || lbs <= 0 {
		return nil
	}
	return &lbs
}

// parseDistance converts a distance string to yards. Accepts compound
// miles-furlongs-yards notation ("2m4f110y") and plain yards ("4510").
func parseDistance(raw string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	total := 0
	num := 0
	hasNum := false
	unitSeen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			hasNum = true
		case r == 'm':
			if !hasNum {
				return 0, false
			}
			total += num * yardsPerMile
			num, hasNum, unitSeen = 0, false, true
		case r == 'f':
			if !hasNum {
				return 0, false
			}
			total += num * yardsPerFurlong
			num, hasNum, unitSeen = 0, false, true
		case r == 'y':
			if !hasNum {
				return 0, false
			}
			total += num
			num, hasNum, unitSeen = 0, false, true
		default:
			return 0, false
		}
	}
	if hasNum {
		if unitSeen {
			// trailing digits after a unit are ambiguous
			return 0, false
		}
		total = num
	}
	if total <= 0 {
		return 0, false
	}
	return total, true
}

// parseStartingPrice converts a starting price to decimal odds. Fractional
// prices ("7/2") convert as a/b + 1, "evens" is 2.0, plain decimals above
// 1.0 pass through.
func parseStartingPrice(raw string) *decimal.Decimal {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	if s == "evens" || s == "evs" {
		evens := decimal.NewFromInt(2)
		return &evens
	}
	if idx := strings.Index(s, "/"); idx > 0 {
		num, err1 := strconv.ParseInt(s[:idx], 10, 64)
		den, err2 := strconv.ParseInt(s[idx+1:], 10, 64)
		if err1 != nil || err2 != nil || num < 1 || den < 1 {
			return nil
		}
		odds := decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Add(decimal.NewFromInt(1))
		return &odds
	}
	odds, err := decimal.NewFromString(s)
	if err != nil || !odds.GreaterThan(decimal.NewFromInt(1)) {
		return nil
	}
	return &odds
}

// impliedProbability inverts decimal odds into a win probability.
func impliedProbability(odds decimal.Decimal) float64 {
	f, _ := odds.Float64()
	return 1 / f
}

func parseOptionalID(raw string) *int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func parseOptionalFloat(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// titleCase lowercases then capitalizes each word, trimming and collapsing
// whitespace along the way.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// normalizeRaceType maps provider spellings onto the canonical race types,
// passing unknown values through lowercased.
func normalizeRaceType(raceType string) string {
	normalized := strings.ToLower(strings.TrimSpace(raceType))
	if canonical, ok := raceTypeAliases[normalized]; ok {
		return canonical
	}
	return normalized
}
