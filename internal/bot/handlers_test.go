package bot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"1", "28", " 15 "} {
		day, ok := parseDay(s)
		require.True(t, ok, s)
		require.Positive(t, day)
	}
	for _, s := range []string{"0", "29", "31", "abc", "", "-5"} {
		_, ok := parseDay(s)
		require.False(t, ok, s)
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	got, err := parseAmount("45000")
	require.NoError(t, err)
	require.Equal(t, 45000.0, got)

	got, err = parseAmount("45 000,50")
	require.NoError(t, err)
	require.Equal(t, 45000.5, got)

	got, err = parseAmount("1 000")
	require.NoError(t, err)
	require.Equal(t, 1000.0, got)

	_, err = parseAmount("сорок тысяч")
	require.Error(t, err)
}
