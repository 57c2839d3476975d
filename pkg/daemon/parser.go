package daemon

import (
	"bytes"
	"errors"
	"math"

	"github.com/mopub/statsite"
)

var (
	errMissingKeySep   = errors.New("missing key separator")
	errEmptyKey        = errors.New("key zero len")
	errNulInKey        = errors.New("key contains NUL byte")
	errMissingValueSep = errors.New("missing value separator")
	errInvalidType     = errors.New("invalid type")
	errInvalidValue    = errors.New("invalid value")
	errInvalidRate     = errors.New("invalid sample rate")
)

// parseLine parses one terminator-stripped statsd line:
//
//	name ":" value "|" type [ "@" sample_rate ]
//
// For gauges a leading "+" or "-" on the value turns the sample into a
// delta update; the "+" is consumed, the "-" is kept for its sign.
func parseLine(line []byte) (statsite.Sample, error) {
	idx := bytes.IndexByte(line, ':')
	if idx == -1 {
		return statsite.Sample{}, errMissingKeySep
	}
	if idx == 0 {
		return statsite.Sample{}, errEmptyKey
	}
	name := line[:idx]
	if bytes.IndexByte(name, 0) != -1 {
		return statsite.Sample{}, errNulInKey
	}

	rest := line[idx+1:]
	idx = bytes.IndexByte(rest, '|')
	if idx == -1 {
		return statsite.Sample{}, errMissingValueSep
	}
	value := rest[:idx]
	rest = rest[idx+1:]
	if len(rest) == 0 {
		return statsite.Sample{}, errInvalidType
	}

	var mtype statsite.MetricType
	switch rest[0] {
	case 'c':
		mtype = statsite.COUNTER
	case 'm':
		mtype = statsite.TIMER
	case 'k':
		mtype = statsite.KEYVAL
	case 'g':
		mtype = statsite.GAUGE
		if len(value) > 0 {
			switch value[0] {
			case '+':
				value = value[1:]
				mtype = statsite.GAUGEDELTA
			case '-':
				mtype = statsite.GAUGEDELTA
			}
		}
	case 's':
		// Sets carry the raw value through without numeric parsing.
		return statsite.Sample{
			Type:        statsite.SET,
			Name:        string(name),
			StringValue: string(value),
		}, nil
	default:
		return statsite.Sample{}, errInvalidType
	}

	val, ok := parseDouble(value)
	if !ok {
		return statsite.Sample{}, errInvalidValue
	}

	// Counters may carry a trailing sample rate after an '@'.
	if mtype == statsite.COUNTER {
		if at := bytes.IndexByte(rest[1:], '@'); at != -1 {
			rate, ok := parseDouble(rest[1+at+1:])
			if !ok {
				return statsite.Sample{}, errInvalidRate
			}
			if rate > 0 && rate <= 1 {
				val *= 1 / rate
			}
		}
	}

	return statsite.Sample{
		Type:  mtype,
		Name:  string(name),
		Value: val,
	}, nil
}

// parseDouble converts the leading decimal number of s: an optional "-",
// an integer part, and an optional "." with a fractional part. No exponents.
// Parsing fails when no digit is consumed.
func parseDouble(s []byte) (float64, bool) {
	i := 0
	neg := false
	if i < len(s) && s[i] == '-' {
		neg = true
		i++
	}
	val := 0.0
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		val = val*10 + float64(s[i]-'0')
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		frac := 0.0
		fracDigits := 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			frac = frac*10 + float64(s[i]-'0')
			fracDigits++
		}
		val += frac / math.Pow(10, float64(fracDigits))
		digits += fracDigits
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		val = -val
	}
	return val, true
}
