package rows

// Per-kind defaults keep rows of the same kind column-shaped regardless of
// which optional fields a message carried. Absent or null fields take the
// default so every UNWIND row binds the same parameters.

// playerDefaults covers per-detection player fields
var playerDefaults = map[string]any{
	"category":   nil, // 'player' or 'referee'
	"track_id":   nil,
	"bbox":       nil, // [x1, y1, x2, y2]
	"confidence": nil,
	"world_x":    nil,
	"world_y":    nil,

	"transform_PAN":  nil,
	"transform_TILT": nil,
	"dist":           nil,

	// 3D ray casting, only present on ray-enabled detections
	"ray_origin":          nil,
	"ray_world_space_dir": nil,
}

// ballDefaults covers per-detection ball fields, kept separate from the
// player set because the scoring and velocity fields only exist for balls
var ballDefaults = map[string]any{
	"world_x":    nil,
	"world_y":    nil,
	"bbox":       nil,
	"confidence": nil,

	"transform_PAN":  nil,
	"transform_TILT": nil,
	"dist":           nil,
	"phi":            nil,
	"track_id":       nil,

	"velocity":           nil,
	"velocity_x":         nil,
	"velocity_y":         nil,
	"velocity_direction": nil,
	"movement_score":     nil,
	"is_best":            nil,

	// Only present on the best_track detection
	"id_score":   nil,
	"dist_score": nil,

	"ray_origin":          nil,
	"ray_world_space_dir": nil,
}

// ptzDefaults covers pan/tilt/zoom control state
var ptzDefaults = map[string]any{
	// Current positions
	"panposition":   0.0,
	"tiltposition":  0.0,
	"rollposition":  0.0,
	"zoomposition":  0.0,
	"focusposition": 0.0,

	// Setpoints
	"pansetpoint":  0.0,
	"tiltsetpoint": 0.0,
	"zoomsetpoint": 0.0,

	// Motor power
	"panpower":  0.0,
	"tiltpower": 0.0,
	"rollpower": 0.0,

	// Speed
	"pan":       0.0,
	"tilt":      0.0,
	"zoomspeed": 0.0,

	"tickID": nil,

	"panvelocity":  0.0,
	"tiltvelocity": 0.0,
	"zoomvelocity": 0.0,
}

// camParamsDefaults covers camera calibration matrices
var camParamsDefaults = map[string]any{
	"intrinsic":   nil, // 3x3 [[fx,0,cx],[0,fy,cy],[0,0,1]]
	"rotation":    nil, // 3x3 world-space rotation
	"translation": nil, // [x, y, z]
	"tickID":      nil,
}

// fusionBall3DDefaults covers the fused 3D ball singleton
var fusionBall3DDefaults = map[string]any{
	"position_world":  nil, // stored under the `3dposition` property
	"velocity_mps":    nil,
	"status":          nil,
	"fusion_method":   nil,
	"kalman_filtered": nil,
	"smooth_2d":       nil,
	"camera_ready":    nil,
}

// fusedPlayerDefaults covers per-id fused player state
var fusedPlayerDefaults = map[string]any{
	"id":       nil,
	"x":        nil,
	"y":        nil,
	"z":        0.0,
	"vel_x":    nil,
	"vel_y":    nil,
	"status":   nil, // 'tracked' or 'predicted'
	"category": nil, // 'player' or 'referee'
	"team":     nil, // 'team_A', 'team_B', or 'none'
}

// intentDefaults covers camera intent state
var intentDefaults = map[string]any{
	"status":          nil, // 'active' or 'expired'
	"intent_id":       nil, // UUID or 'superseded'
	"camera_id":       nil,
	"intent_type":     nil, // 'nudge_tilt', 'nudge_pan', 'none', 'unknown'
	"resolved_ttl_ms": nil,
	"payload":         nil,
	"rule_definition": nil,
	"reason":          nil, // 'SUPERSEDED', 'TTL_EXPIRED', or null
}

// ensureProps fills absent or null fields from defaults so rows of one kind
// share a column shape
func ensureProps(data map[string]any, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(defaults))
	for k, def := range defaults {
		if v, ok := data[k]; ok && v != nil {
			out[k] = v
		} else {
			out[k] = def
		}
	}
	return out
}
