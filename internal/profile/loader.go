package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Column names of the profile file.
const (
	ColEmail    = "Email"
	ColPassword = "password"
	ColName     = "Name"
	ColAddress  = "AddressLine1"
	ColCity     = "City"
	ColPostcode = "Postcode"
	ColMobile   = "MobileNumber"
	ColDOBDay   = "dob_day"
	ColDOBMonth = "dob_month"
	ColDOBYear  = "dob_year"
)

// RequiredColumns must be present and non-empty for a record to be usable.
var RequiredColumns = []string{ColEmail, ColPassword, ColName, ColAddress, ColCity, ColPostcode, ColMobile}

// Skipped describes a record that could not be turned into a Profile.
type Skipped struct {
	Line   int
	Reason string
}

// Set is the outcome of loading a profile file.
type Set struct {
	Profiles []Profile
	Skipped  []Skipped
}

// LoadFile reads profiles from a CSV file.
func LoadFile(path string, logger zerolog.Logger) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	set, err := Load(f, logger)
	if err != nil {
		return Set{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Load reads profiles from CSV with a header row. Records missing a required
// column or value are skipped and logged; only malformed CSV is an error.
func Load(r io.Reader, logger zerolog.Logger) (Set, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Set{}, nil
	}
	if err != nil {
		return Set{}, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		index[h] = i
	}

	var missingCols []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missingCols = append(missingCols, col)
		}
	}

	var set Set
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return set, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		if len(missingCols) > 0 {
			set.skip(logger, line, "missing column "+strings.Join(missingCols, ", "))
			continue
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		var empty []string
		for _, col := range RequiredColumns {
			if get(col) == "" {
				empty = append(empty, col)
			}
		}
		if len(empty) > 0 {
			set.skip(logger, line, "empty "+strings.Join(empty, ", "))
			continue
		}
		set.Profiles = append(set.Profiles, Profile{
			Email:        get(ColEmail),
			Password:     get(ColPassword),
			Name:         get(ColName),
			AddressLine1: get(ColAddress),
			City:         get(ColCity),
			Postcode:     get(ColPostcode),
			MobileNumber: get(ColMobile),
			DOB: DOB{
				Day:   get(ColDOBDay),
				Month: get(ColDOBMonth),
				Year:  get(ColDOBYear),
			},
		})
	}
	logger.Info().
		Int("profiles", len(set.Profiles)).
		Int("skipped", len(set.Skipped)).
		Msg("profiles loaded")
	return set, nil
}

func (s *Set) skip(logger zerolog.Logger, line int, reason string) {
	s.Skipped = append(s.Skipped, Skipped{Line: line, Reason: reason})
	logger.Warn().Int("line", line).Str("reason", reason).Msg("profile record skipped")
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
