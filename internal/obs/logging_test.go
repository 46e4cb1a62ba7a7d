package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("shouting"))
	require.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	require.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
}

func TestInitLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "info", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Str("owner_id", "own-1").Msg("sale recorded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "sale recorded", line["message"])
	require.Equal(t, "own-1", line["owner_id"])
	require.Equal(t, "storeledger", line["service"])
}

func TestInitLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "error", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Msg("hidden")
	require.Zero(t, buf.Len())
}
