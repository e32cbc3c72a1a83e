// Package etl defines the core types shared across the pipeline subsystems.
package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Ref is the {id, value} pair the indicator API uses for countries and indicators.
type Ref struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// RawIndicatorRecord is one (country, year) object as returned by the indicator API.
// Value is kept verbatim so the normalizer can apply the source's truthiness rules.
type RawIndicatorRecord struct {
	Indicator       Ref             `json:"indicator"`
	Country         Ref             `json:"country"`
	CountryISO3Code string          `json:"countryiso3code"`
	Date            string          `json:"date"`
	Value           json.RawMessage `json:"value"`
	Unit            string          `json:"unit"`
	ObsStatus       string          `json:"obs_status"`
	Decimal         int             `json:"decimal"`

	// DecodeErr holds the decode failure for a record whose fields had unexpected types.
	// The fields that did decode are kept.
	DecodeErr error `json:"-"`
}

// UnmarshalJSON accepts the date as a JSON string or a bare number.
func (r *RawIndicatorRecord) UnmarshalJSON(data []byte) error {
	type plain RawIndicatorRecord
	var aux struct {
		plain
		Date json.RawMessage `json:"date"`
	}
	err := json.Unmarshal(data, &aux)
	*r = RawIndicatorRecord(aux.plain)
	date, dateErr := decodeDate(aux.Date)
	r.Date = date
	if err != nil {
		return err
	}
	return dateErr
}

func decodeDate(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode date: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return string(trimmed), fmt.Errorf("decode date: want string or number, got %s", trimmed)
	}
	return n.String(), nil
}

// DecodeRecords decodes a JSON array of raw records one element at a time. An element
// that does not fit RawIndicatorRecord is kept with DecodeErr set so the normalizer's
// malformed-record policy decides its fate; only a non-array input is an error.
func DecodeRecords(data []byte) ([]RawIndicatorRecord, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	records := make([]RawIndicatorRecord, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &records[i]); err != nil {
			records[i].DecodeErr = err
		}
	}
	return records, nil
}

// PageMeta is element 0 of the API envelope.
type PageMeta struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// UnmarshalJSON accepts both numeric and string-encoded counters; the API has used both.
func (m *PageMeta) UnmarshalJSON(data []byte) error {
	var aux struct {
		Page    json.Number `json:"page"`
		Pages   json.Number `json:"pages"`
		PerPage json.Number `json:"per_page"`
		Total   json.Number `json:"total"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode page metadata: %w", err)
	}
	fields := []struct {
		name string
		src  json.Number
		dst  *int
	}{
		{"page", aux.Page, &m.Page},
		{"pages", aux.Pages, &m.Pages},
		{"per_page", aux.PerPage, &m.PerPage},
		{"total", aux.Total, &m.Total},
	}
	for _, f := range fields {
		if f.src == "" {
			*f.dst = 0
			continue
		}
		n, err := f.src.Int64()
		if err != nil {
			return fmt.Errorf("decode page metadata %s: %w", f.name, err)
		}
		*f.dst = int(n)
	}
	return nil
}

// Page is one decoded page of indicator data.
type Page struct {
	Number  int
	Meta    PageMeta
	Records []RawIndicatorRecord
	Body    []byte
}

// ExtractResult is the output of the extract phase.
type ExtractResult struct {
	Records      []RawIndicatorRecord
	TotalPages   int
	FetchedPages int
	FailedPages  []int
}

// Country is the country dimension row.
type Country struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ISO3Code string `json:"iso3_code"`
}

// Observation is one indicator fact keyed by (country_id, year). A nil Value means no data.
type Observation struct {
	CountryID string   `json:"country_id"`
	Year      int      `json:"year"`
	Value     *float64 `json:"value"`
}

// ObservationKey identifies an observation row.
type ObservationKey struct {
	CountryID string
	Year      int
}

// Key returns the primary key of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{CountryID: o.CountryID, Year: o.Year}
}

// Batch is the normalized output of one load.
type Batch struct {
	Countries    []Country
	Observations []Observation
}

// Collapse returns a copy with at most one row per primary key. The last occurrence wins
// and first-seen order is kept, which matches applying every row in sequence.
func (b Batch) Collapse() Batch {
	countryIdx := make(map[string]int, len(b.Countries))
	countries := make([]Country, 0, len(b.Countries))
	for _, c := range b.Countries {
		if i, ok := countryIdx[c.ID]; ok {
			countries[i] = c
			continue
		}
		countryIdx[c.ID] = len(countries)
		countries = append(countries, c)
	}

	obsIdx := make(map[ObservationKey]int, len(b.Observations))
	observations := make([]Observation, 0, len(b.Observations))
	for _, o := range b.Observations {
		if i, ok := obsIdx[o.Key()]; ok {
			observations[i] = o
			continue
		}
		obsIdx[o.Key()] = len(observations)
		observations = append(observations, o)
	}
	return Batch{Countries: countries, Observations: observations}
}

// UpsertResult reports how many rows were written per table.
type UpsertResult struct {
	Countries    int `json:"countries"`
	Observations int `json:"observations"`
}

// TableCounts reports the row count of each table after a load.
type TableCounts struct {
	Countries    int `json:"countries"`
	Observations int `json:"observations"`
}

// LoadSummary is the output of the load phase.
type LoadSummary struct {
	Written UpsertResult `json:"written"`
	Skipped int          `json:"skipped"`
	Totals  TableCounts  `json:"totals"`
}

// RunSummary aggregates the phases of one pipeline run.
type RunSummary struct {
	Records     int         `json:"records"`
	TotalPages  int         `json:"total_pages"`
	FailedPages []int       `json:"failed_pages,omitempty"`
	Load        LoadSummary `json:"load"`
	ReportRows  int         `json:"report_rows"`
}

// Table is a tabular query result.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Records converts the table into column-keyed maps, preserving row order.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Trigger records what started a run.
type Trigger string

// Supported triggers.
const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerAPI      Trigger = "api"
)

// Run is the metadata kept for each pipeline run.
type Run struct {
	ID        string     `json:"id"`
	Trigger   Trigger    `json:"trigger"`
	Status    RunStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   RunSummary `json:"summary"`
}

// SortRunsNewestFirst orders runs by submission time, newest first.
func SortRunsNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Submitted.After(runs[j].Submitted)
	})
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Trigger   Trigger
	Submitted int64
}
