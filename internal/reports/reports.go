// Package reports resolves the referenced reports of a dataset: the source
// documents that data points cite through their dataSource field.
package reports

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/jsonspec"
)

// DataSourceField is the member of a data point that cites a report.
const DataSourceField = "dataSource"

// ReferencedReport describes a source document.
type ReferencedReport struct {
	FileReference   string `json:"fileReference"`
	FileName        string `json:"fileName,omitempty"`
	PublicationDate string `json:"publicationDate,omitempty"`
}

// SupportsReferencedReports reports whether a framework declares a
// referenced reports path.
func SupportsReferencedReports(path string) bool {
	return path != ""
}

// InsertIntoSchema returns a copy of schema with the referenced reports
// leaf placed at path. An empty path leaves the schema unchanged.
func InsertIntoSchema(schema *jsonspec.Node, path string) (*jsonspec.Node, error) {
	if !SupportsReferencedReports(path) {
		return schema, nil
	}
	out, err := jsonspec.InsertAt(schema, path, jsonspec.NewLeaf(jsonspec.ReferencedReportsID, ""))
	if err != nil {
		return nil, eris.Wrapf(err, "reports: insert into schema at %s", path)
	}
	return out, nil
}

// ParseFromLeaf decodes the referenced reports leaf. Entries without a
// fileName take their map key as name.
func ParseFromLeaf(raw json.RawMessage) (map[string]ReferencedReport, error) {
	out := map[string]ReferencedReport{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Validation("Invalid referenced reports", "referenced reports could not be parsed: %v", err)
	}
	for key, r := range out {
		if r.FileReference == "" {
			return nil, apperr.Validation("Invalid referenced reports", "report %q has no fileReference", key)
		}
		if r.FileName == "" {
			r.FileName = key
			out[key] = r
		}
	}
	return out, nil
}

// ValidateConsistency rejects two report entries sharing one file reference.
func ValidateConsistency(reports map[string]ReferencedReport) error {
	seen := make(map[string]string, len(reports))
	for _, key := range sortedKeys(reports) {
		ref := reports[key].FileReference
		if other, ok := seen[ref]; ok {
			return apperr.Validation("Invalid input",
				"the file reference %s is used by both %q and %q", ref, other, key)
		}
		seen[ref] = key
	}
	return nil
}

// LookupMaps derives fileReference keyed lookups of publication dates and
// file names. Entries without the respective value are left out.
func LookupMaps(reports map[string]ReferencedReport) (pubDates, fileNames map[string]string) {
	pubDates = make(map[string]string)
	fileNames = make(map[string]string)
	for _, r := range reports {
		if r.PublicationDate != "" {
			pubDates[r.FileReference] = r.PublicationDate
		}
		if r.FileName != "" {
			fileNames[r.FileReference] = r.FileName
		}
	}
	return pubDates, fileNames
}

// Citation is a report reference found inside a data point.
type Citation struct {
	FileReference   string
	FileName        string
	PublicationDate string
}

// Citations returns every report cited anywhere in content under the given
// source field, including nested data sources.
func Citations(content json.RawMessage, field string) ([]Citation, error) {
	v, err := decode(content)
	if err != nil {
		return nil, err
	}
	var out []Citation
	walkSources(v, field, func(src map[string]any) {
		ref, _ := src["fileReference"].(string)
		if ref == "" {
			return
		}
		name, _ := src["fileName"].(string)
		date, _ := src["publicationDate"].(string)
		out = append(out, Citation{FileReference: ref, FileName: name, PublicationDate: date})
	})
	return out, nil
}

// Validate checks that data points only cite listed reports and that every
// listed report is cited. contents maps a leaf path to its value.
// Publication date mismatches are logged; the registry value wins when the
// data source is backfilled.
func Validate(contents map[string]json.RawMessage, registry map[string]ReferencedReport, field string) error {
	if err := ValidateConsistency(registry); err != nil {
		return err
	}
	byRef := make(map[string]ReferencedReport, len(registry))
	for _, r := range registry {
		byRef[r.FileReference] = r
	}

	observed := map[string]bool{}
	for _, path := range sortedKeys(contents) {
		cites, err := Citations(contents[path], field)
		if err != nil {
			return apperr.Validation("Invalid input", "data point %s is not valid JSON", path)
		}
		for _, c := range cites {
			r, ok := byRef[c.FileReference]
			if !ok {
				return apperr.Validation("Invalid input",
					"the file reference %s in data point %s is not contained in the referenced reports", c.FileReference, path)
			}
			if c.PublicationDate != "" && r.PublicationDate != "" && c.PublicationDate != r.PublicationDate {
				zap.L().Warn("publication date of data point differs from referenced report",
					zap.String("path", path),
					zap.String("file_reference", c.FileReference),
					zap.String("data_point_date", c.PublicationDate),
					zap.String("report_date", r.PublicationDate),
				)
			}
			observed[c.FileReference] = true
		}
	}

	var unused []string
	for _, key := range sortedKeys(registry) {
		if !observed[registry[key].FileReference] {
			unused = append(unused, key)
		}
	}
	if len(unused) > 0 {
		return apperr.Validation("Mismatching document references",
			"the following referenced reports are not used by any data point: %v", unused)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
