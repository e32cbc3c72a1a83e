// Package normalize maps raw indicator records onto the country and gdp rows.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// Policy decides what Batch does with a malformed record.
type Policy string

// Supported malformed-record policies.
const (
	// PolicySkip drops malformed records and reports them.
	PolicySkip Policy = "skip"
	// PolicyAbort fails the whole batch on the first malformed record.
	PolicyAbort Policy = "abort"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicySkip || p == PolicyAbort
}

// Record converts one raw record into its country and observation rows.
func Record(raw etl.RawIndicatorRecord) (etl.Country, etl.Observation, error) {
	return record(-1, raw)
}

func record(index int, raw etl.RawIndicatorRecord) (etl.Country, etl.Observation, error) {
	if raw.DecodeErr != nil {
		return etl.Country{}, etl.Observation{}, &etl.MalformedRecordError{
			Index: index,
			Field: "record",
			Value: raw.Country.ID,
			Err:   raw.DecodeErr,
		}
	}
	if strings.TrimSpace(raw.Country.ID) == "" {
		return etl.Country{}, etl.Observation{}, &etl.MalformedRecordError{
			Index: index,
			Field: "country.id",
			Value: raw.Country.ID,
			Err:   errors.New("country id is required"),
		}
	}
	year, err := strconv.Atoi(strings.TrimSpace(raw.Date))
	if err != nil {
		return etl.Country{}, etl.Observation{}, &etl.MalformedRecordError{
			Index: index,
			Field: "date",
			Value: raw.Date,
			Err:   fmt.Errorf("parse year: %w", err),
		}
	}
	value, err := Value(raw.Value)
	if err != nil {
		return etl.Country{}, etl.Observation{}, &etl.MalformedRecordError{
			Index: index,
			Field: "value",
			Value: string(raw.Value),
			Err:   err,
		}
	}

	country := etl.Country{
		ID:       raw.Country.ID,
		Name:     raw.Country.Value,
		ISO3Code: raw.CountryISO3Code,
	}
	obs := etl.Observation{
		CountryID: raw.Country.ID,
		Year:      year,
		Value:     value,
	}
	return country, obs, nil
}

// Value converts the raw JSON value into a nullable float. Falsy values (absent, null,
// false, 0, "", [] and {}) become nil; numbers and numeric strings are parsed.
// A numeric zero is therefore stored as NULL, while the string "0" is stored as 0.
func Value(raw json.RawMessage) (*float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !x {
			return nil, nil
		}
		one := 1.0
		return &one, nil
	case json.Number:
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("parse value: %w", err)
		}
		if f == 0 {
			return nil, nil
		}
		return &f, nil
	case string:
		if x == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("parse value: %w", err)
		}
		return &f, nil
	case []any:
		if len(x) == 0 {
			return nil, nil
		}
		return nil, errors.New("value is a non-empty array")
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
		return nil, errors.New("value is a non-empty object")
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Batch maps every record. With PolicySkip malformed records are dropped and returned in
// skipped; with PolicyAbort the first malformed record is returned as err and the batch is empty.
func Batch(records []etl.RawIndicatorRecord, policy Policy) (batch etl.Batch, skipped []error, err error) {
	batch = etl.Batch{
		Countries:    make([]etl.Country, 0, len(records)),
		Observations: make([]etl.Observation, 0, len(records)),
	}
	for i, raw := range records {
		country, obs, recErr := record(i, raw)
		if recErr != nil {
			if policy == PolicyAbort {
				return etl.Batch{}, nil, recErr
			}
			skipped = append(skipped, recErr)
			continue
		}
		batch.Countries = append(batch.Countries, country)
		batch.Observations = append(batch.Observations, obs)
	}
	return batch, skipped, nil
}
