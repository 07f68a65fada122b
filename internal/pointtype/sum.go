package pointtype

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/rotisserie/eris"
)

// MergeQuality combines the qualities of several inputs. The worst quality
// in the order Audited, Reported, Estimated, Incomplete, NoDataFound wins.
// Nil entries are ignored; nil is returned when none is set.
func MergeQuality(qualities []*Quality) *Quality {
	worst := -1
	for _, q := range qualities {
		if q == nil {
			continue
		}
		for i, known := range qualityOrder {
			if *q == known && i > worst {
				worst = i
			}
		}
	}
	if worst < 0 {
		return nil
	}
	q := qualityOrder[worst]
	return &q
}

// SumDataPoints derives an extendedDecimal data point from its constituents.
// Null values are skipped; the value stays null when every input is null.
// The result carries the merged quality and no data source.
func SumDataPoints(points []json.RawMessage) (json.RawMessage, error) {
	var (
		sum       big.Rat
		scale     int
		seen      bool
		qualities []*Quality
	)
	for i, raw := range points {
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		var p ExtendedDecimalPoint
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrapf(err, "pointtype: decode summand %d", i)
		}
		qualities = append(qualities, p.Quality)
		if p.Value == nil {
			continue
		}
		r, ok := new(big.Rat).SetString(p.Value.String())
		if !ok {
			return nil, eris.Errorf("pointtype: summand %d is not a number: %s", i, p.Value.String())
		}
		sum.Add(&sum, r)
		scale = max(scale, decimalPlaces(p.Value.String()))
		seen = true
	}

	out := ExtendedDecimalPoint{ExtendedFields: ExtendedFields{Quality: MergeQuality(qualities)}}
	if seen {
		v := json.Number(sum.FloatString(scale))
		out.Value = &v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, eris.Wrap(err, "pointtype: encode sum")
	}
	return b, nil
}

func decimalPlaces(s string) int {
	s = strings.ToLower(s)
	mantissa, _, _ := strings.Cut(s, "e")
	_, frac, ok := strings.Cut(mantissa, ".")
	if !ok {
		return 0
	}
	return len(frac)
}
