package invocation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxBound is the largest integer a descriptor range may name.
const MaxBound = math.MaxInt32

// ErrParse is the sentinel matched by every *ParseError.
var ErrParse = errors.New("invalid invocation descriptor")

// ParseError reports a malformed descriptor token.
type ParseError struct {
	// Token is the offending piece of input, verbatim.
	Token string
	// Reason says what is wrong with it.
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid invocation token %q: %s", e.Token, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Range is an inclusive integer interval [Lo, Hi].
type Range struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Single returns the range [n, n].
func Single(n int) Range { return Range{Lo: n, Hi: n} }

// Len returns the number of integers in the range.
func (r Range) Len() int64 { return int64(r.Hi) - int64(r.Lo) + 1 }

// String renders the range in descriptor syntax.
func (r Range) String() string {
	if r.Lo == r.Hi {
		return strconv.Itoa(r.Lo)
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// Triple is one descriptor entry.
type Triple struct {
	Outer    Range `json:"outer"`
	Inner    Range `json:"inner"`
	Selector Range `json:"selector"`
}

// String renders the triple in descriptor syntax.
func (t Triple) String() string {
	return t.Outer.String() + ":" + t.Inner.String() + ":" + t.Selector.String()
}

// Parse parses a descriptor into its triples.
func Parse(descriptor string) ([]Triple, error) {
	if descriptor == "" {
		return nil, &ParseError{Token: descriptor, Reason: "descriptor is empty"}
	}

	entries := strings.Split(descriptor, ",")
	triples := make([]Triple, 0, len(entries))
	for _, entry := range entries {
		t, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
	return triples, nil
}

// Format renders triples back into descriptor syntax.
func Format(triples []Triple) string {
	parts := make([]string, len(triples))
	for i, t := range triples {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

func parseEntry(entry string) (Triple, error) {
	if entry == "" {
		return Triple{}, &ParseError{Token: entry, Reason: "empty entry"}
	}

	fields := strings.Split(entry, ":")
	if len(fields) != 3 {
		return Triple{}, &ParseError{
			Token:  entry,
			Reason: fmt.Sprintf("entry needs 3 colon-separated ranges, found %d", len(fields)),
		}
	}

	var ranges [3]Range
	for i, f := range fields {
		r, err := ParseRange(f)
		if err != nil {
			return Triple{}, err
		}
		ranges[i] = r
	}
	return Triple{Outer: ranges[0], Inner: ranges[1], Selector: ranges[2]}, nil
}

// ParseRange parses "n" or "lo-hi" into an inclusive Range.
func ParseRange(token string) (Range, error) {
	if token == "" {
		return Range{}, &ParseError{Token: token, Reason: "empty range"}
	}

	lo, hi, isPair := strings.Cut(token, "-")
	if !isPair {
		n, err := parseInt(token, token)
		if err != nil {
			return Range{}, err
		}
		return Single(n), nil
	}

	if lo == "" || hi == "" {
		return Range{}, &ParseError{Token: token, Reason: "range bound is missing"}
	}
	if strings.Contains(hi, "-") {
		return Range{}, &ParseError{Token: token, Reason: "range has more than one '-'"}
	}

	l, err := parseInt(lo, token)
	if err != nil {
		return Range{}, err
	}
	h, err := parseInt(hi, token)
	if err != nil {
		return Range{}, err
	}
	if l > h {
		return Range{}, &ParseError{Token: token, Reason: fmt.Sprintf("lower bound %d exceeds upper bound %d", l, h)}
	}
	return Range{Lo: l, Hi: h}, nil
}

// parseInt accepts only ASCII digits. Whole-token context is used in errors
// when the integer is half of a pair.
func parseInt(s, token string) (int, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			if s == token {
				return 0, &ParseError{Token: s, Reason: "not a non-negative integer"}
			}
			return 0, &ParseError{Token: token, Reason: fmt.Sprintf("bound %q is not a non-negative integer", s)}
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > MaxBound {
		return 0, &ParseError{Token: token, Reason: fmt.Sprintf("integer out of range (max %d)", MaxBound)}
	}
	return int(n), nil
}
