package rows

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ozsports/gamestate-bridge/internal/cache"
)

// Builder converts NATS messages into graph write-rows.
//
// Build is called from the single batch-loop goroutine, so the per-batch
// system timestamp needs no locking. The change cache it holds gates the
// ptzinfo.* route.
type Builder struct {
	cache  *cache.ChangeCache
	logger zerolog.Logger

	systemTimestamp string // set once per batch
}

// NewBuilder creates a row builder sharing the bridge's change cache
func NewBuilder(c *cache.ChangeCache, logger zerolog.Logger) *Builder {
	return &Builder{cache: c, logger: logger.With().Str("component", "rows").Logger()}
}

// SetSystemTimestamp pins the fallback timestamp for the current batch
func (b *Builder) SetSystemTimestamp(ts string) {
	b.systemTimestamp = ts
}

// timestampFor picks the row timestamp: message timestamp string, then
// last_updated epoch seconds, then the batch system timestamp, then now.
func (b *Builder) timestampFor(data map[string]any) string {
	if ts, ok := data["timestamp"].(string); ok && ts != "" {
		return ts
	}
	if unix, ok := data["last_updated"].(float64); ok {
		return FormatTimestamp(time.UnixMilli(int64(unix * 1000)))
	}
	if b.systemTimestamp != "" {
		return b.systemTimestamp
	}
	return FormatTimestamp(time.Now())
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func jsonString(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}

// Build translates one message into zero or more write-rows.
//
// A nil, nil return means the message was legitimately suppressed (change
// cache, zero tick); an error means the message is malformed and should be
// counted as a build error.
func (b *Builder) Build(subject string, payload any, currentTick int64) ([]Row, error) {
	if currentTick == 0 {
		b.logger.Debug().Str("subject", subject).Msg("Skipping message, current tick not set")
		return nil, nil
	}

	switch {
	case strings.HasPrefix(subject, "tickperframe"):
		return b.buildFrame(payload)

	case strings.HasPrefix(subject, "ptzinfo."):
		return b.buildPTZInfo(subject, payload, currentTick)

	case strings.HasPrefix(subject, "all_tracks."):
		return b.buildAllTracks(subject, payload, currentTick)

	case strings.HasPrefix(subject, "fusion.ball_3d"):
		return b.buildFusionBall(payload)

	case strings.HasPrefix(subject, "fused_players"):
		return b.buildFusedPlayers(payload)

	case strings.HasPrefix(subject, "intents.processed"):
		return b.buildIntent(payload)

	default:
		return nil, fmt.Errorf("unsupported subject %q", subject)
	}
}

func (b *Builder) buildFrame(payload any) ([]Row, error) {
	data := asMap(payload)
	if data == nil {
		return nil, fmt.Errorf("tickperframe payload is not an object")
	}
	count, _ := data["count"].(float64)
	return []Row{{KindFrame, map[string]any{
		"tickID":    int64(count),
		"timestamp": b.timestampFor(data),
	}}}, nil
}

func (b *Builder) buildPTZInfo(subject string, payload any, tick int64) ([]Row, error) {
	data := asMap(payload)
	if data == nil {
		return nil, fmt.Errorf("ptzinfo payload is not an object")
	}
	cameraID := subject[len("ptzinfo."):]
	if cameraID == "" {
		return nil, fmt.Errorf("ptzinfo subject missing camera id")
	}

	if !b.cache.HasChanged(subject, data, cache.DefaultTolerance) {
		return nil, nil
	}

	ts := b.timestampFor(data)

	ptz := ensureProps(data, ptzDefaults)
	ptz["stateID"] = fmt.Sprintf("%s_%d", cameraID, tick)
	ptz["cameraID"] = cameraID
	ptz["tickID"] = tick
	ptz["timestamp"] = ts

	return []Row{
		{KindCamera, map[string]any{
			"cameraID":              cameraID,
			"tickID":                tick,
			"timestamp":             ts,
			"last_active_timestamp": ts,
		}},
		{KindPTZState, ptz},
	}, nil
}

func (b *Builder) buildAllTracks(subject string, payload any, tick int64) ([]Row, error) {
	data := asMap(payload)
	if data == nil {
		return nil, fmt.Errorf("all_tracks payload is not an object")
	}
	cameraID := subject[len("all_tracks."):]
	if cameraID == "" {
		return nil, fmt.Errorf("all_tracks subject missing camera id")
	}

	ts := b.timestampFor(data)
	balls := asSlice(data["balls"])
	players := asSlice(data["players"])
	ptzData := asMap(data["PTZ"])
	camParamsData := asMap(data["cam_params"])

	out := make([]Row, 0, 4+len(balls)+len(players))

	// Frame and Camera first so the track relationships can MERGE them
	out = append(out, Row{KindFrame, map[string]any{
		"tickID":    tick,
		"timestamp": ts,
	}})
	out = append(out, Row{KindCamera, map[string]any{
		"cameraID":              cameraID,
		"tickID":                tick,
		"timestamp":             ts,
		"last_active_timestamp": ts,
	}})

	// Present-but-empty PTZ/cam_params objects carry no state and emit
	// nothing
	if len(ptzData) > 0 {
		ptz := ensureProps(ptzData, ptzDefaults)
		ptz["stateID"] = fmt.Sprintf("%s_%d", cameraID, tick)
		ptz["cameraID"] = cameraID
		ptz["tickID"] = tick
		ptz["timestamp"] = ts
		out = append(out, Row{KindPTZState, ptz})
	}

	if len(camParamsData) > 0 {
		cp := ensureProps(camParamsData, camParamsDefaults)
		cp["paramsID"] = fmt.Sprintf("%s_%d", cameraID, tick)
		cp["cameraID"] = cameraID
		cp["tickID"] = tick
		cp["timestamp"] = ts
		out = append(out, Row{KindCamParams, cp})
	}

	// Latest gimbal/calibration snapshot is mirrored onto the persistent
	// CameraConfig node
	if len(ptzData) > 0 || len(camParamsData) > 0 {
		gimbal := map[string]any{
			"pan":  ptzData["panposition"],
			"tilt": ptzData["tiltposition"],
			"zoom": ptzData["zoomposition"],
		}
		params := map[string]any{
			"intrinsic":   camParamsData["intrinsic"],
			"rotation":    camParamsData["rotation"],
			"translation": camParamsData["translation"],
		}
		out = append(out, Row{KindCameraConfigUpdate, map[string]any{
			"cameraID":          cameraID,
			"gimbal_position":   jsonString(gimbal),
			"camera_parameters": jsonString(params),
			"timestamp":         ts,
		}})
	}

	for _, raw := range balls {
		ball := asMap(raw)
		if ball == nil {
			continue
		}
		props := ensureProps(ball, ballDefaults)
		trackID := props["track_id"]
		if trackID == nil {
			trackID = ball["id"]
		}
		if trackID == nil {
			continue
		}
		props["track_id"] = trackID
		props["id"] = ball["id"]
		props["cameraID"] = cameraID
		props["current_tick"] = tick
		props["timestamp"] = ts
		out = append(out, Row{KindBallTrack, props})
	}

	for _, raw := range players {
		player := asMap(raw)
		if player == nil {
			continue
		}
		props := ensureProps(player, playerDefaults)
		if props["track_id"] == nil {
			continue
		}
		props["cameraID"] = cameraID
		props["current_tick"] = tick
		props["timestamp"] = ts
		out = append(out, Row{KindPlayerTrack, props})
	}

	return out, nil
}

func (b *Builder) buildFusionBall(payload any) ([]Row, error) {
	data := asMap(payload)
	if data == nil {
		return nil, fmt.Errorf("fusion.ball_3d payload is not an object")
	}
	props := ensureProps(data, fusionBall3DDefaults)
	props["timestamp"] = b.timestampFor(data)
	return []Row{{KindFusionBall3D, props}}, nil
}

func (b *Builder) buildFusedPlayers(payload any) ([]Row, error) {
	list, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("fused_players payload is not a list")
	}

	out := make([]Row, 0, len(list))
	for _, raw := range list {
		player := asMap(raw)
		if player == nil {
			continue
		}
		props := ensureProps(player, fusedPlayerDefaults)
		if props["id"] == nil {
			continue
		}
		props["timestamp"] = b.timestampFor(player)
		out = append(out, Row{KindFusedPlayer, props})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (b *Builder) buildIntent(payload any) ([]Row, error) {
	data := asMap(payload)
	if data == nil {
		return nil, fmt.Errorf("intent payload is not an object")
	}
	props := ensureProps(data, intentDefaults)
	cameraID, _ := props["camera_id"].(string)
	if cameraID == "" {
		return nil, fmt.Errorf("intent message missing camera_id")
	}

	return []Row{{KindIntent, map[string]any{
		"cameraID":        cameraID,
		"status":          props["status"],
		"intent_id":       props["intent_id"],
		"intent_type":     props["intent_type"],
		"resolved_ttl_ms": props["resolved_ttl_ms"],
		"payload":         jsonString(props["payload"]),
		"rule_definition": jsonString(props["rule_definition"]),
		"reason":          props["reason"],
		"timestamp":       b.timestampFor(data),
	}}}, nil
}
