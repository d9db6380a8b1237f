package rows

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozsports/gamestate-bridge/internal/cache"
)

func newTestBuilder() *Builder {
	return NewBuilder(cache.New(), zerolog.Nop())
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestBuildSkipsWhileTickUnset(t *testing.T) {
	b := newTestBuilder()
	built, err := b.Build("tickperframe", decode(t, `{"count": 42}`), 0)
	require.NoError(t, err)
	assert.Nil(t, built)
}

func TestBuildUnknownSubject(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build("scoreboard.update", decode(t, `{}`), 42)
	assert.Error(t, err)
}

func TestBuildFrame(t *testing.T) {
	b := newTestBuilder()
	b.SetSystemTimestamp("2026-08-24T10:00:00.000Z")

	built, err := b.Build("tickperframe", decode(t, `{"count": 42, "framerate": 60.0}`), 42)
	require.NoError(t, err)
	require.Len(t, built, 1)

	assert.Equal(t, KindFrame, built[0].Kind)
	assert.Equal(t, int64(42), built[0].Props["tickID"])
	assert.Equal(t, "2026-08-24T10:00:00.000Z", built[0].Props["timestamp"])
}

func TestBuildPTZInfo(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{"panposition": 12.5, "tiltposition": -3.0, "timestamp": "2026-08-24T10:00:01.000Z"}`)

	built, err := b.Build("ptzinfo.camera3", payload, 7)
	require.NoError(t, err)
	require.Len(t, built, 2)

	cam := built[0]
	assert.Equal(t, KindCamera, cam.Kind)
	assert.Equal(t, "camera3", cam.Props["cameraID"])
	assert.Equal(t, int64(7), cam.Props["tickID"])
	assert.Equal(t, "2026-08-24T10:00:01.000Z", cam.Props["last_active_timestamp"])

	ptz := built[1]
	assert.Equal(t, KindPTZState, ptz.Kind)
	assert.Equal(t, "camera3_7", ptz.Props["stateID"])
	assert.Equal(t, 12.5, ptz.Props["panposition"])
	assert.Equal(t, -3.0, ptz.Props["tiltposition"])
	// Absent fields take defaults
	assert.Equal(t, 0.0, ptz.Props["zoomposition"])
	assert.Equal(t, 0.0, ptz.Props["panvelocity"])
}

func TestBuildPTZInfoChangeSuppressed(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{"panposition": 12.5}`)

	built, err := b.Build("ptzinfo.camera1", payload, 7)
	require.NoError(t, err)
	require.NotEmpty(t, built)

	// Same payload again is suppressed without error
	built, err = b.Build("ptzinfo.camera1", decode(t, `{"panposition": 12.5}`), 8)
	require.NoError(t, err)
	assert.Nil(t, built)

	// Beyond the tolerance it fires again
	built, err = b.Build("ptzinfo.camera1", decode(t, `{"panposition": 13.5}`), 9)
	require.NoError(t, err)
	assert.NotEmpty(t, built)
}

func TestBuildAllTracks(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{
		"timestamp": "2026-08-24T10:00:02.000Z",
		"players": [
			{"track_id": 7, "category": "player", "world_x": 1.5, "world_y": 2.5, "confidence": 0.9},
			{"track_id": 8, "category": "referee", "world_x": -4.0, "world_y": 0.0, "confidence": 0.8},
			{"category": "player"}
		],
		"balls": [
			{"track_id": 99, "world_x": 0.5, "world_y": 0.5, "is_best": true, "id_score": 0.7}
		],
		"PTZ": {"panposition": 1.0},
		"cam_params": {"intrinsic": [[800.0,0.0,640.0],[0.0,800.0,360.0],[0.0,0.0,1.0]], "translation": [0.0,0.0,10.0]}
	}`)

	built, err := b.Build("all_tracks.cam1", payload, 42)
	require.NoError(t, err)

	byKind := make(map[Kind][]Row)
	for _, r := range built {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	require.Len(t, byKind[KindFrame], 1)
	assert.Equal(t, int64(42), byKind[KindFrame][0].Props["tickID"])

	require.Len(t, byKind[KindCamera], 1)
	assert.Equal(t, "cam1", byKind[KindCamera][0].Props["cameraID"])

	// The player without a track_id is skipped
	require.Len(t, byKind[KindPlayerTrack], 2)
	assert.Equal(t, 7.0, byKind[KindPlayerTrack][0].Props["track_id"])
	assert.Equal(t, 8.0, byKind[KindPlayerTrack][1].Props["track_id"])
	assert.Equal(t, int64(42), byKind[KindPlayerTrack][0].Props["current_tick"])
	assert.Equal(t, "cam1", byKind[KindPlayerTrack][0].Props["cameraID"])

	require.Len(t, byKind[KindBallTrack], 1)
	assert.Equal(t, 99.0, byKind[KindBallTrack][0].Props["track_id"])
	assert.Equal(t, true, byKind[KindBallTrack][0].Props["is_best"])
	assert.Equal(t, 0.7, byKind[KindBallTrack][0].Props["id_score"])

	require.Len(t, byKind[KindPTZState], 1)
	assert.Equal(t, "cam1_42", byKind[KindPTZState][0].Props["stateID"])

	require.Len(t, byKind[KindCamParams], 1)
	assert.Equal(t, "cam1_42", byKind[KindCamParams][0].Props["paramsID"])

	require.Len(t, byKind[KindCameraConfigUpdate], 1)
	gimbal, ok := byKind[KindCameraConfigUpdate][0].Props["gimbal_position"].(string)
	require.True(t, ok, "gimbal_position should be a JSON string")
	assert.Contains(t, gimbal, `"pan":1`)
}

func TestBuildAllTracksBallIDFallback(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{"balls": [{"id": 5, "world_x": 1.0}, {"world_x": 2.0}]}`)

	built, err := b.Build("all_tracks.cam2", payload, 10)
	require.NoError(t, err)

	var ballRows []Row
	for _, r := range built {
		if r.Kind == KindBallTrack {
			ballRows = append(ballRows, r)
		}
	}
	// The ball with neither track_id nor id is skipped
	require.Len(t, ballRows, 1)
	assert.Equal(t, 5.0, ballRows[0].Props["track_id"])
	assert.Equal(t, 5.0, ballRows[0].Props["id"])
}

func TestBuildAllTracksMinimalPayload(t *testing.T) {
	b := newTestBuilder()
	built, err := b.Build("all_tracks.cam1", decode(t, `{}`), 3)
	require.NoError(t, err)

	// Frame and Camera always emit; no tracks, no PTZ, no params
	require.Len(t, built, 2)
	assert.Equal(t, KindFrame, built[0].Kind)
	assert.Equal(t, KindCamera, built[1].Kind)
}

func TestBuildAllTracksEmptyNestedObjects(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{"players": [], "balls": [], "PTZ": {}, "cam_params": {}}`)

	built, err := b.Build("all_tracks.cam1", payload, 5)
	require.NoError(t, err)

	// Empty PTZ/cam_params objects carry no state and must not produce
	// defaults-only rows or a blank config update
	require.Len(t, built, 2)
	assert.Equal(t, KindFrame, built[0].Kind)
	assert.Equal(t, KindCamera, built[1].Kind)
}

func TestBuildFusionBall(t *testing.T) {
	b := newTestBuilder()
	b.SetSystemTimestamp("2026-08-24T10:00:03.000Z")
	payload := decode(t, `{"position_world": [1.0, 2.0, 0.0], "velocity_mps": 5.0, "status": "tracked"}`)

	built, err := b.Build("fusion.ball_3d", payload, 42)
	require.NoError(t, err)
	require.Len(t, built, 1)

	props := built[0].Props
	assert.Equal(t, KindFusionBall3D, built[0].Kind)
	assert.Equal(t, []any{1.0, 2.0, 0.0}, props["position_world"])
	assert.Equal(t, 5.0, props["velocity_mps"])
	assert.Equal(t, "tracked", props["status"])
	assert.Equal(t, "2026-08-24T10:00:03.000Z", props["timestamp"])
	assert.Nil(t, props["fusion_method"])
}

func TestBuildFusedPlayers(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `[
		{"id": "p1", "x": 1.0, "y": 2.0, "status": "tracked", "team": "team_A"},
		{"id": "p2", "x": -1.0, "y": 0.5, "status": "predicted"},
		{"x": 9.0}
	]`)

	built, err := b.Build("fused_players", payload, 42)
	require.NoError(t, err)
	require.Len(t, built, 2)

	assert.Equal(t, "p1", built[0].Props["id"])
	assert.Equal(t, "team_A", built[0].Props["team"])
	assert.Equal(t, 0.0, built[0].Props["z"])
	assert.Equal(t, "p2", built[1].Props["id"])
}

func TestBuildFusedPlayersRequiresList(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build("fused_players", decode(t, `{"id": "p1"}`), 42)
	assert.Error(t, err)
}

func TestBuildFusedPlayersEmptyList(t *testing.T) {
	b := newTestBuilder()
	built, err := b.Build("fused_players", decode(t, `[]`), 42)
	require.NoError(t, err)
	assert.Nil(t, built)
}

func TestBuildIntent(t *testing.T) {
	b := newTestBuilder()
	payload := decode(t, `{
		"camera_id": "camera5",
		"status": "active",
		"intent_id": "u1",
		"intent_type": "nudge_tilt",
		"payload": {"offset_level": "L1", "direction": "1"}
	}`)

	built, err := b.Build("intents.processed", payload, 42)
	require.NoError(t, err)
	require.Len(t, built, 1)

	props := built[0].Props
	assert.Equal(t, KindIntent, built[0].Kind)
	assert.Equal(t, "camera5", props["cameraID"])
	assert.Equal(t, "active", props["status"])
	assert.Equal(t, "nudge_tilt", props["intent_type"])

	encoded, ok := props["payload"].(string)
	require.True(t, ok, "intent payload should be JSON-encoded")
	assert.JSONEq(t, `{"offset_level":"L1","direction":"1"}`, encoded)
	assert.Nil(t, props["reason"])
}

func TestBuildIntentMissingCameraID(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build("intents.processed", decode(t, `{"status": "active"}`), 42)
	assert.Error(t, err)
}

func TestTimestampPrecedence(t *testing.T) {
	b := newTestBuilder()
	b.SetSystemTimestamp("2026-08-24T09:00:00.000Z")

	// Explicit timestamp wins
	ts := b.timestampFor(map[string]any{
		"timestamp":    "2026-08-24T10:00:00.000Z",
		"last_updated": 1700000000.0,
	})
	assert.Equal(t, "2026-08-24T10:00:00.000Z", ts)

	// last_updated epoch seconds converted next
	ts = b.timestampFor(map[string]any{"last_updated": 1700000000.5})
	assert.Equal(t, "2023-11-14T22:13:20.500Z", ts)

	// Then the batch system timestamp
	ts = b.timestampFor(map[string]any{})
	assert.Equal(t, "2026-08-24T09:00:00.000Z", ts)

	// Finally wall clock
	b.SetSystemTimestamp("")
	parsed, err := time.Parse(TimestampLayout, b.timestampFor(map[string]any{}))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, 5*time.Second)
}

func TestFormatTimestamp(t *testing.T) {
	ts := FormatTimestamp(time.Date(2026, 8, 24, 12, 30, 45, 123_000_000, time.UTC))
	assert.Equal(t, "2026-08-24T12:30:45.123Z", ts)

	// Non-UTC inputs are normalised
	loc := time.FixedZone("AEST", 10*3600)
	ts = FormatTimestamp(time.Date(2026, 8, 24, 22, 30, 45, 0, loc))
	assert.Equal(t, "2026-08-24T12:30:45.000Z", ts)
}

func TestEnsurePropsFillsAbsentAndNull(t *testing.T) {
	out := ensureProps(map[string]any{"x": 1.0, "status": nil}, fusedPlayerDefaults)
	assert.Equal(t, 1.0, out["x"])
	assert.Equal(t, 0.0, out["z"])
	assert.Nil(t, out["status"])
	// Keys outside the defaults are not carried over
	_, ok := out["timestamp"]
	assert.False(t, ok)
}
