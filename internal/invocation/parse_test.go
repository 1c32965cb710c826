package invocation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TwoEntries(t *testing.T) {
	got, err := Parse("0-1:0-1:1,0-1:2-3:3")
	require.NoError(t, err)

	want := []Triple{
		{Outer: Range{0, 1}, Inner: Range{0, 1}, Selector: Range{1, 1}},
		{Outer: Range{0, 1}, Inner: Range{2, 3}, Selector: Range{3, 3}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_SingleEntry(t *testing.T) {
	got, err := Parse("100:0-1:10")
	require.NoError(t, err)

	want := []Triple{
		{Outer: Range{100, 100}, Inner: Range{0, 1}, Selector: Range{10, 10}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NamesOffendingToken(t *testing.T) {
	_, err := Parse("abc:0-1:1")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "abc", pe.Token)
	assert.Contains(t, err.Error(), `"abc"`)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParse_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		token string
	}{
		{"empty", "", ""},
		{"trailing comma", "0:0:1,", ""},
		{"leading comma", ",0:0:1", ""},
		{"two fields", "0:1", "0:1"},
		{"four fields", "0:1:2:3", "0:1:2:3"},
		{"empty range", "0::1", ""},
		{"negative", "-1:0:1", "-1"},
		{"missing upper", "0-:0:1", "0-"},
		{"double dash", "0-1-2:0:1", "0-1-2"},
		{"reversed", "3-1:0:1", "3-1"},
		{"space", "0:0:1, 1:0:1", " 1"},
		{"plus sign", "+1:0:1", "+1"},
		{"float", "1.5:0:1", "1.5"},
		{"bad upper bound", "0-x:0:1", "0-x"},
		{"overflow", "99999999999999999999:0:1", "99999999999999999999"},
		{"max int", "9223372036854775807:0:1", "9223372036854775807"},
		{"above bound", "0-4000000000:0:1", "0-4000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triples, err := Parse(tt.input)
			require.Error(t, err)
			assert.Nil(t, triples)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.token, pe.Token)
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("7")
	require.NoError(t, err)
	assert.Equal(t, Range{7, 7}, r)
	assert.Equal(t, int64(1), r.Len())

	r, err = ParseRange("2-5")
	require.NoError(t, err)
	assert.Equal(t, Range{2, 5}, r)
	assert.Equal(t, int64(4), r.Len())
	assert.Equal(t, "2-5", r.String())
}

func TestParseRange_Bound(t *testing.T) {
	r, err := ParseRange("2147483647")
	require.NoError(t, err)
	assert.Equal(t, Single(MaxBound), r)

	_, err = ParseRange("0-2147483648")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "0-2147483648", pe.Token)
}

func TestFormat_RoundTrip(t *testing.T) {
	for _, in := range []string{"0-1:0-1:1,0-1:2-3:3", "100:0-1:10", "5:5:5"} {
		triples, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, in, Format(triples))
	}
}
