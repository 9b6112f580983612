package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeInclusive(t *testing.T) {
	start := time.Date(2024, 2, 27, 18, 30, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)

	got := Range(start, end)
	require.Len(t, got, 4)
	assert.Equal(t, time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got[2])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got[3])
}

func TestRangeSingleDay(t *testing.T) {
	d := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{d}, Range(d, d.Add(23*time.Hour)))
}

func TestRangeReversed(t *testing.T) {
	assert.Nil(t, Range(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDayNormalizesZone(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	local := time.Date(2024, 5, 2, 0, 30, 0, 0, oslo)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Day(local))
}

func TestParse(t *testing.T) {
	d, err := Parse("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, d.Location())

	_, err = Parse("01/05/2024")
	assert.Error(t, err)
}
