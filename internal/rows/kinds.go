// Package rows translates NATS messages into typed graph write-rows.
//
// Each message becomes zero or more (Kind, properties) pairs. Ephemeral
// kinds are created per event and swept by TTL; persistent kinds are
// upserted in place and never swept.
package rows

import "time"

// Kind identifies a graph entity family produced by the builder
type Kind string

const (
	KindFrame              Kind = "Frame"
	KindCamera             Kind = "Camera"
	KindPlayerTrack        Kind = "PlayerTrack"
	KindBallTrack          Kind = "BallTrack"
	KindPTZState           Kind = "PTZState"
	KindCamParams          Kind = "CamParams"
	KindCameraConfigUpdate Kind = "CameraConfigUpdate"
	KindFusionBall3D       Kind = "FusionBall3D"
	KindFusedPlayer        Kind = "FusedPlayer"
	KindIntent             Kind = "Intent"
)

// WriteOrder is the fixed execution order for batched writes: referenced
// nodes before referencers, append-only ephemeral kinds before persistent
// upserts.
var WriteOrder = []Kind{
	KindFrame,
	KindCamera,
	KindPlayerTrack,
	KindBallTrack,
	KindPTZState,
	KindCamParams,
	KindCameraConfigUpdate,
	KindFusionBall3D,
	KindFusedPlayer,
	KindIntent,
}

// Row is one graph write: an entity kind plus its parameter row
type Row struct {
	Kind  Kind
	Props map[string]any
}

// TimestampLayout is the persisted timestamp format: ISO-8601 UTC with
// millisecond precision and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the persisted timestamp format
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
