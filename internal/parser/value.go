package parser

import (
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var durationUnits = map[string]int64{
	"hour": 3600 * 1e9,
	"min":  60 * 1e9,
	"sec":  1e9,
	"s":    1e9,
	"ms":   1e6,
	"us":   1e3,
	"ns":   1,
}

var byteUnits = map[string]int64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

var countUnits = map[string]int64{
	"K": 1e3,
	"M": 1e6,
	"B": 1e9,
}

// Aggregate is a decoded "sum X, avg Y, max Z, min W" counter.
type Aggregate struct {
	Sum *int64
	Avg *int64
	Max *int64
	Min *int64
	Raw string
}

// DecodeDuration converts engine duration text such as "1sec240ms",
// "18.605us" or a bare nanosecond count into nanoseconds.
func DecodeDuration(text string) (int64, bool) {
	s := strings.TrimSpace(text)
	switch s {
	case "", "N/A", "0":
		return 0, true
	}
	if durationCompactPattern.MatchString(s) {
		var total int64
		for _, m := range durationTermPattern.FindAllStringSubmatch(s, -1) {
			v, ok := scaleDecimal(m[1], durationUnits[m[2]])
			if !ok || total > math.MaxInt64-v {
				return 0, false
			}
			total += v
		}
		return total, true
	}
	if decimalPattern.MatchString(s) {
		return scaleDecimal(s, 1)
	}
	return 0, false
}

// DecodeDurationMs is DecodeDuration expressed in milliseconds.
func DecodeDurationMs(text string) (float64, bool) {
	ns, ok := DecodeDuration(text)
	if !ok {
		return 0, false
	}
	return float64(ns) / 1e6, true
}

// DecodeBytes converts "1.40 GB" style text into bytes using 1024-based units.
func DecodeBytes(text string) (int64, bool) {
	s := strings.TrimSpace(text)
	switch s {
	case "", "N/A", "0", "0.00":
		return 0, true
	}
	m := bytesPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return scaleDecimal(m[1], byteUnits[m[2]])
}

// DecodeCount converts row counts such as "183.75K (183750)" into integers.
// An exact parenthesized value wins over the abbreviated magnitude.
func DecodeCount(text string) (int64, bool) {
	s := strings.TrimSpace(text)
	switch s {
	case "", "N/A":
		return 0, true
	}
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	if m[3] != "" {
		n, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	unit := int64(1)
	if m[2] != "" {
		unit = countUnits[m[2]]
	}
	return scaleDecimal(m[1], unit)
}

// DecodeAggregate decodes each labelled statistic as a duration, falling back
// to a row count.
func DecodeAggregate(text string) Aggregate {
	return decodeAggregate(text, DecodeDuration, DecodeCount)
}

// DecodeByteAggregate decodes each labelled statistic as a byte size.
func DecodeByteAggregate(text string) Aggregate {
	return decodeAggregate(text, DecodeBytes)
}

func decodeAggregate(text string, decoders ...func(string) (int64, bool)) Aggregate {
	agg := Aggregate{Raw: text}
	for _, m := range aggregatePattern.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[2])
		var (
			value int64
			ok    bool
		)
		for _, decode := range decoders {
			if value, ok = decode(raw); ok {
				break
			}
		}
		if !ok {
			continue
		}
		v := value
		switch m[1] {
		case "sum":
			agg.Sum = &v
		case "avg":
			agg.Avg = &v
		case "max":
			agg.Max = &v
		case "min":
			agg.Min = &v
		}
	}
	return agg
}

// FirstValue returns the representative "avg" value of an aggregate, or the
// trimmed text when there is none.
func FirstValue(text string) string {
	if _, rest, ok := strings.Cut(text, "avg "); ok {
		v, _, _ := strings.Cut(rest, ",")
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(text)
}

// scaleDecimal multiplies a non-negative decimal literal by unit and truncates
// toward zero without going through floating point.
func scaleDecimal(num string, unit int64) (int64, bool) {
	whole, frac, _ := strings.Cut(num, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 || unit <= 0 {
		return 0, false
	}
	if w > math.MaxInt64/unit {
		return 0, false
	}
	total := w * unit
	if frac == "" {
		return total, true
	}
	if len(frac) > 18 {
		frac = frac[:18]
	}
	f, err := strconv.ParseUint(frac, 10, 64)
	if err != nil {
		return 0, false
	}
	scale := uint64(1)
	for range len(frac) {
		scale *= 10
	}
	hi, lo := bits.Mul64(f, uint64(unit))
	if hi >= scale {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, scale)
	if q > math.MaxInt64-uint64(total) {
		return 0, false
	}
	return total + int64(q), true
}
