package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_EveryFiveMinutes(t *testing.T) {
	ref := time.Date(2025, 3, 1, 10, 7, 30, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 10, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 150*time.Second, info.TimeSinceLast)
	assert.Equal(t, 150*time.Second, info.TimeUntilNext)
}

func TestGetTriggerInfo_Daily(t *testing.T) {
	ref := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 3 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_Descriptor(t *testing.T) {
	ref := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@hourly", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), info.Last)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@every 10m"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("0 */5 * * * *"))
	assert.Error(t, Validate("not a cron"))
}
