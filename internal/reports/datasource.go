package reports

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// UpdateDataSource backfills fileName and publicationDate of every data
// source in content from the dataset-level lookups. A missing fileName is
// filled in; the publication date is taken from the registry whenever it
// knows one. Content without data sources is returned unchanged.
func UpdateDataSource(content json.RawMessage, pubDates, fileNames map[string]string, field string) (json.RawMessage, error) {
	v, err := decode(content)
	if err != nil {
		return nil, err
	}
	changed := false
	walkSources(v, field, func(src map[string]any) {
		ref, _ := src["fileReference"].(string)
		if ref == "" {
			return
		}
		if name, ok := fileNames[ref]; ok {
			if cur, _ := src["fileName"].(string); cur == "" {
				src["fileName"] = name
				changed = true
			}
		}
		if date, ok := pubDates[ref]; ok {
			if cur, _ := src["publicationDate"].(string); cur != date {
				src["publicationDate"] = date
				changed = true
			}
		}
	})
	if !changed {
		return content, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "reports: encode data point")
	}
	return out, nil
}

// CollectAll adds every report cited in content to acc, keyed by fileName
// and falling back to the fileReference. Existing entries are kept.
func CollectAll(content json.RawMessage, acc map[string]ReferencedReport, field string) error {
	cites, err := Citations(content, field)
	if err != nil {
		return err
	}
	for _, c := range cites {
		key := c.FileName
		if key == "" {
			key = c.FileReference
		}
		if _, ok := acc[key]; ok {
			continue
		}
		acc[key] = ReferencedReport{
			FileReference:   c.FileReference,
			FileName:        c.FileName,
			PublicationDate: c.PublicationDate,
		}
	}
	return nil
}

func decode(content json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(err, "reports: decode data point")
	}
	return v, nil
}

// walkSources calls fn for every object stored under a member named field,
// at any depth.
func walkSources(v any, field string, fn func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			if k == field {
				switch src := c.(type) {
				case map[string]any:
					fn(src)
					continue
				case []any:
					for _, e := range src {
						if m, ok := e.(map[string]any); ok {
							fn(m)
						}
					}
					continue
				}
			}
			walkSources(c, field, fn)
		}
	case []any:
		for _, c := range t {
			walkSources(c, field, fn)
		}
	}
}
