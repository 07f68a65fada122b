package dataset

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/jsonspec"
	"github.com/sells-group/dataland/internal/reports"
	"github.com/sells-group/dataland/internal/spec"
)

// templateMembership reports whether a stored data point id belongs to the
// template: a declared leaf id or a concrete path below one of its arrays.
func templateMembership(root *jsonspec.Node) func(id string) bool {
	ids := map[string]bool{}
	for _, l := range jsonspec.Leaves(root) {
		ids[l.ID] = true
	}
	arrays := jsonspec.ArrayPaths(root)
	return func(id string) bool {
		if ids[id] {
			return true
		}
		for _, p := range arrays {
			if strings.HasPrefix(id, p+"[") {
				return true
			}
		}
		return false
	}
}

// assemble hydrates tpl from points and returns the document together with
// the ids of the points it used, sorted.
func assemble(tpl *spec.Template, points map[string]json.RawMessage) ([]byte, []string, error) {
	member := templateMembership(tpl.Full)
	var used []string
	for id := range points {
		if id != jsonspec.ReferencedReportsID && member(id) {
			used = append(used, id)
		}
	}
	sort.Strings(used)

	acc := map[string]reports.ReferencedReport{}
	for _, id := range used {
		if err := reports.CollectAll(points[id], acc, reports.DataSourceField); err != nil {
			return nil, nil, err
		}
	}
	var referenced json.RawMessage
	if len(acc) > 0 {
		raw, err := json.Marshal(acc)
		if err != nil {
			return nil, nil, eris.Wrap(err, "dataset: encode referenced reports")
		}
		referenced = raw
	}

	pathIDs := map[string]string{}
	for _, l := range jsonspec.Leaves(tpl.Full) {
		pathIDs[l.Path] = l.ID
	}
	src := pointSource{pathIDs: pathIDs, points: points, referenced: referenced}
	doc, err := jsonspec.Hydrate(tpl.Full, src)
	if err != nil {
		return nil, nil, err
	}
	return doc, used, nil
}

// pointSource serves data point contents keyed by the id they are stored
// under. Array leaves are stored under their concrete paths.
type pointSource struct {
	pathIDs    map[string]string
	points     map[string]json.RawMessage
	referenced json.RawMessage
}

func (s pointSource) Value(path string) (json.RawMessage, bool) {
	id, ok := s.pathIDs[path]
	if !ok {
		id = path
	}
	if id == jsonspec.ReferencedReportsID {
		return s.referenced, s.referenced != nil
	}
	v, ok := s.points[id]
	return v, ok
}

func (s pointSource) Len(arrayPath string) int {
	n := 0
	for id := range s.points {
		if i, ok := jsonspec.ElementIndex(id, arrayPath); ok && i >= n {
			n = i + 1
		}
	}
	return n
}

// replacedArrays lists the template arrays below which paths hold at
// least one element.
func replacedArrays(root *jsonspec.Node, paths []string) []string {
	var out []string
	for _, array := range jsonspec.ArrayPaths(root) {
		for _, p := range paths {
			if _, ok := jsonspec.ElementIndex(p, array); ok {
				out = append(out, array)
				break
			}
		}
	}
	return out
}
