package initdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInitDBCommand(t *testing.T) {
	cmd := NewInitDBCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "initdb", cmd.Use)
	assert.Nil(t, cmd.Run)
	assert.NotNil(t, cmd.RunE)

	skip := cmd.Flags().Lookup("skip-seed")
	require.NotNil(t, skip)
	assert.Equal(t, "false", skip.DefValue)
}

func TestSeedLocations(t *testing.T) {
	require.NotEmpty(t, seedLocations)

	seen := map[string]bool{}
	for _, loc := range seedLocations {
		assert.NotEmpty(t, loc.Name)
		assert.NotEmpty(t, loc.Country)
		assert.False(t, seen[loc.Name], "duplicate seed %s", loc.Name)
		seen[loc.Name] = true

		_, err := time.LoadLocation(loc.Timezone)
		assert.NoError(t, err, "bad zone for %s", loc.Name)

		assert.InDelta(t, 0, loc.Lat, 90)
		assert.InDelta(t, 0, loc.Lng, 180)
	}
}
