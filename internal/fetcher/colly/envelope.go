package collyfetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// apiMessage is the body of the API's single-element error envelope.
type apiMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DecodeEnvelope splits the [metadata, records] response into its parts.
func DecodeEnvelope(body []byte) (etl.PageMeta, []etl.RawIndicatorRecord, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return etl.PageMeta{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(parts) == 0 {
		return etl.PageMeta{}, nil, errors.New("decode envelope: empty response")
	}

	var header struct {
		Message []apiMessage `json:"message"`
	}
	if err := json.Unmarshal(parts[0], &header); err == nil && len(header.Message) > 0 {
		return etl.PageMeta{}, nil, apiError(header.Message)
	}

	var meta etl.PageMeta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return etl.PageMeta{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(parts) < 2 {
		return etl.PageMeta{}, nil, errors.New("decode envelope: missing records element")
	}

	records, err := etl.DecodeRecords(parts[1])
	if err != nil {
		return etl.PageMeta{}, nil, fmt.Errorf("decode records: %w", err)
	}
	return meta, records, nil
}

func apiError(messages []apiMessage) error {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, fmt.Sprintf("%s %s: %s", m.ID, m.Key, strings.TrimSpace(m.Value)))
	}
	return fmt.Errorf("api error: %s", strings.Join(texts, "; "))
}
