// Package archive names raw API pages for the archive backends.
package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// ContentType is the media type of archived pages.
const ContentType = "application/json"

// ObjectPath returns {prefix}/{run_id}/page-{n:04d}-{digest}.json. An empty prefix is omitted.
func ObjectPath(prefix string, ref etl.PageRef) (string, error) {
	runID := strings.Trim(ref.RunID, "/")
	if runID == "" {
		return "", errors.New("run id is required")
	}
	if strings.Contains(runID, "..") || strings.ContainsAny(runID, `/\`) {
		return "", fmt.Errorf("invalid run id %q", ref.RunID)
	}
	if ref.Page < 1 {
		return "", fmt.Errorf("invalid page %d", ref.Page)
	}
	if ref.Digest == "" {
		return "", errors.New("digest is required")
	}
	name := fmt.Sprintf("%s/page-%04d-%s.json", runID, ref.Page, ref.Digest)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name, nil
	}
	return prefix + "/" + name, nil
}
