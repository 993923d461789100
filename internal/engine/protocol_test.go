package engine

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	res, err := parseResponse("1523.75 5 17 42 9")
	require.NoError(t, err)
	require.Equal(t, 1523.75, res.Distance)
	require.Equal(t, []int64{5, 17, 42, 9}, res.Path)

	res, err = parseResponse("0")
	require.NoError(t, err)
	require.Empty(t, res.Path)

	for _, line := range []string{"", "   ", "inf", "NaN 1 2"} {
		_, err := parseResponse(line)
		if !errors.Is(err, ErrNoPath) {
			t.Fatalf("parseResponse(%q) error = %v, want ErrNoPath", line, err)
		}
	}

	for _, line := range []string{"abc 1 2", "12.5 1 x"} {
		_, err := parseResponse(line)
		if !errors.Is(err, ErrProtocol) || !errors.Is(err, ErrUnavailable) {
			t.Fatalf("parseResponse(%q) error = %v, want ErrProtocol", line, err)
		}
	}
}

func TestFormatRequest(t *testing.T) {
	require.Equal(t, "5 9999999\n", formatRequest(5, 9999999))
}

func TestLineBufferCarriesPartialLines(t *testing.T) {
	var (
		lb  lineBuffer
		got []string
	)
	collect := func(line string) bool {
		got = append(got, line)
		return true
	}

	lb.feed([]byte("12.5 1 "), collect)
	require.Empty(t, got)
	require.Equal(t, 7, lb.buffered())

	lb.feed([]byte("2\n\n7 3"), collect)
	require.Equal(t, []string{"12.5 1 2", ""}, got)

	lb.feed([]byte(" 4\r\n"), collect)
	require.Equal(t, []string{"12.5 1 2", "", "7 3 4"}, got)
	require.Zero(t, lb.buffered())
}

func TestLineBufferStopsWhenCallbackRefuses(t *testing.T) {
	var lb lineBuffer
	calls := 0
	ok := lb.feed([]byte("a\nb\nc\n"), func(string) bool {
		calls++
		return calls < 2
	})
	require.False(t, ok)
	require.Equal(t, 2, calls)
}

func TestReadLinesDropsUnterminatedTail(t *testing.T) {
	var got []string
	err := readLines(strings.NewReader("one\ntwo\nthr"), func(line string) bool {
		got = append(got, line)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, got)
}
