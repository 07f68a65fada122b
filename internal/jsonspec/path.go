package jsonspec

import (
	"strconv"
	"strings"
)

// joinPath appends a member name to a path. Names that would be ambiguous
// in dot notation are written in quoted bracket form.
func joinPath(prefix, name string) string {
	if name == "" || strings.ContainsAny(name, `.[]"\`) {
		return prefix + "[" + strconv.Quote(name) + "]"
	}
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func indexPath(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func splitDotted(path string) []string {
	var out []string
	for _, s := range strings.Split(path, ".") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ElementIndex returns the element index of key when key lies below an
// element of the array at arrayPath.
func ElementIndex(key, arrayPath string) (int, bool) {
	rest, ok := strings.CutPrefix(key, arrayPath+"[")
	if !ok {
		return 0, false
	}
	end := strings.IndexByte(rest, ']')
	if end <= 0 {
		return 0, false
	}
	for _, c := range rest[:end] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return i, true
}
