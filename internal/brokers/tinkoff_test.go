package brokers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeUniverse(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFilterStrictMembership(t *testing.T) {
	t.Parallel()

	path := writeUniverse(t, `
stocks: [SBER, lkoh]
etfs: [FXIT]
bonds: ["SU26238RMFS9;RU000A103X66"]
`)
	f := NewFilter(zap.NewNop(), path, true)

	require.True(t, f.IsTradable("SBER", "stock"))
	require.True(t, f.IsTradable("lkoh", "stock"))
	require.False(t, f.IsTradable("ROSN", "stock"))
	require.True(t, f.IsTradable("FXIT", "etf"))
	require.False(t, f.IsTradable("FXUS", "etf"))
	require.True(t, f.IsTradable("SU26238RMFS9", "bond"))

	// Types outside the filter's scope always pass.
	require.True(t, f.IsTradable("BTC", "crypto"))
	require.True(t, f.IsTradable("LQDT", "cash"))
}

func TestFilterMissingFileAllowsAll(t *testing.T) {
	t.Parallel()

	f := NewFilter(zap.NewNop(), filepath.Join(t.TempDir(), "absent.yml"), true)
	require.True(t, f.IsTradable("ANYTHING", "stock"))
}

func TestFilterDisabled(t *testing.T) {
	t.Parallel()

	path := writeUniverse(t, "stocks: [SBER]\n")
	f := NewFilter(zap.NewNop(), path, false)
	require.True(t, f.IsTradable("ROSN", "stock"))
}

func TestFilterReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeUniverse(t, "stocks: [SBER]\n")
	f := NewFilter(zap.NewNop(), path, true)
	require.False(t, f.IsTradable("ROSN", "stock"))

	require.NoError(t, os.WriteFile(path, []byte("stocks: [SBER, ROSN]\n"), 0o644))
	// Force a visible mtime change even on coarse filesystems.
	st, err := os.Stat(path)
	require.NoError(t, err)
	bumped := st.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, bumped, bumped))

	require.True(t, f.IsTradable("ROSN", "stock"))
}

func TestLoadUniverseIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeUniverse(t, `
stocks: [SBER]
futures: [RTS-12.25]
`)
	u, err := LoadUniverse(path)
	require.NoError(t, err)
	require.True(t, u["STOCKS"]["SBER"])
	require.Empty(t, u["BONDS"])
}
