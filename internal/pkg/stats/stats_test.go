package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersIncrementAndReset(t *testing.T) {
	require.NoError(t, Init())

	URLsFetchedIncr()
	URLsFetchedIncr()
	URLsFailedIncr()
	BytesStoredAdd(1024)
	FetcherRoutinesIncr()
	FetcherRoutinesIncr()
	FetcherRoutinesDecr()

	require.Equal(t, int64(2), GetURLsFetched())
	require.Equal(t, int64(1), GetURLsFailed())
	require.Equal(t, int64(1024), GetBytesStored())
	require.Equal(t, int64(1), GetFetcherRoutines())

	require.NoError(t, Init())
	require.Zero(t, GetURLsFetched())
}

func TestGetJSONRoundTrips(t *testing.T) {
	require.NoError(t, Init())
	URLsFetchedIncr()

	raw, err := GetJSON()
	require.NoError(t, err)
	require.Contains(t, string(raw), `"urls_fetched":1`)
}
