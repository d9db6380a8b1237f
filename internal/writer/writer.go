// Package writer executes batched graph writes in a fixed per-kind order.
package writer

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/ozsports/gamestate-bridge/internal/rows"
)

// Executor runs Cypher statements. Satisfied by graph.Client.
type Executor interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
	ExecutePooled(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
}

// Frames MERGE on tickID because several subjects reference the same frame
// across batches.
const frameQuery = `
UNWIND $rows AS row
MERGE (f:Frame {tickID: row.tickID})
SET f.timestamp = row.timestamp`

const cameraQuery = `
UNWIND $rows AS row
MERGE (c:Camera {cameraID: row.cameraID})
SET c.last_active_tick = row.tickID,
    c.timestamp = row.timestamp,
    c.last_active_timestamp = row.last_active_timestamp`

// One PlayerTrack node per detection, linked to its frame and camera
const playerTrackQuery = `
UNWIND $rows AS row
CREATE (pt:PlayerTrack {
    track_id: row.track_id,
    tickID: row.current_tick,
    timestamp: row.timestamp,
    category: row.category,
    world_x: row.world_x,
    world_y: row.world_y,
    confidence: row.confidence,
    bbox: row.bbox,
    transform_PAN: row.transform_PAN,
    transform_TILT: row.transform_TILT,
    dist: row.dist,
    ray_origin: row.ray_origin,
    ray_world_space_dir: row.ray_world_space_dir,
    last_updated: row.timestamp
})
WITH pt, row
MERGE (f:Frame {tickID: row.current_tick})
CREATE (f)-[:HAS_ACTIVE_TRACK]->(pt)
WITH pt, row
MERGE (c:Camera {cameraID: row.cameraID})
CREATE (c)-[:TRACKS_PLAYER]->(pt)`

// Optional ball fields are set via FOREACH guards so absent values leave no
// property behind instead of storing nulls
const ballTrackQuery = `
UNWIND $rows AS row
CREATE (bt:BallTrack {
    track_id: row.track_id,
    tickID: row.current_tick,
    timestamp: row.timestamp,
    world_x: row.world_x,
    world_y: row.world_y,
    confidence: row.confidence,
    bbox: row.bbox,
    transform_PAN: row.transform_PAN,
    transform_TILT: row.transform_TILT,
    dist: row.dist,
    phi: row.phi,
    velocity: row.velocity,
    velocity_x: row.velocity_x,
    velocity_y: row.velocity_y,
    velocity_direction: row.velocity_direction,
    movement_score: row.movement_score,
    is_best: row.is_best,
    last_updated: row.timestamp
})
WITH bt, row
FOREACH (value IN CASE WHEN row.id IS NOT NULL THEN [row.id] ELSE [] END |
    SET bt.id = value
)
FOREACH (value IN CASE WHEN row.id_score IS NOT NULL THEN [row.id_score] ELSE [] END |
    SET bt.id_score = value
)
FOREACH (value IN CASE WHEN row.dist_score IS NOT NULL THEN [row.dist_score] ELSE [] END |
    SET bt.dist_score = value
)
FOREACH (value IN CASE WHEN row.ray_origin IS NOT NULL THEN [row.ray_origin] ELSE [] END |
    SET bt.ray_origin = value
)
FOREACH (value IN CASE WHEN row.ray_world_space_dir IS NOT NULL THEN [row.ray_world_space_dir] ELSE [] END |
    SET bt.ray_world_space_dir = value
)
WITH bt, row
MERGE (f:Frame {tickID: row.current_tick})
CREATE (f)-[:HAS_ACTIVE_TRACK]->(bt)
WITH bt, row
MERGE (c:Camera {cameraID: row.cameraID})
CREATE (c)-[:TRACKS_BALL]->(bt)`

// The frame edge is FOREACH-guarded on tickID because ptzinfo messages can
// arrive without one
const ptzStateQuery = `
UNWIND $rows AS row
CREATE (s:PTZState {
    stateID: row.stateID,
    cameraID: row.cameraID,
    panposition: row.panposition,
    tiltposition: row.tiltposition,
    rollposition: row.rollposition,
    pansetpoint: row.pansetpoint,
    tiltsetpoint: row.tiltsetpoint,
    zoomsetpoint: row.zoomsetpoint,
    panpower: row.panpower,
    tiltpower: row.tiltpower,
    rollpower: row.rollpower,
    pan: row.pan,
    tilt: row.tilt,
    zoomspeed: row.zoomspeed,
    zoomposition: row.zoomposition,
    focusposition: row.focusposition,
    timestamp: row.timestamp,
    last_updated: row.timestamp
})
WITH s, row
FOREACH (tickID IN CASE WHEN row.tickID IS NOT NULL THEN [row.tickID] ELSE [] END |
    SET s.tickID = tickID
)
WITH s, row
FOREACH (tickID IN CASE WHEN row.tickID IS NOT NULL THEN [row.tickID] ELSE [] END |
    MERGE (f:Frame {tickID: tickID})
    CREATE (f)-[:HAS_PTZ_STATE]->(s)
)
WITH s, row
MERGE (c:Camera {cameraID: row.cameraID})
CREATE (c)-[:HAS_PTZ_STATE]->(s)`

const camParamsQuery = `
UNWIND $rows AS row
CREATE (cp:CamParams {
    paramsID: row.paramsID,
    cameraID: row.cameraID,
    intrinsic: row.intrinsic,
    rotation: row.rotation,
    translation: row.translation,
    timestamp: row.timestamp,
    last_updated: row.timestamp
})
WITH cp, row
FOREACH (tickID IN CASE WHEN row.tickID IS NOT NULL THEN [row.tickID] ELSE [] END |
    SET cp.tickID = tickID
)
WITH cp, row
FOREACH (tickID IN CASE WHEN row.tickID IS NOT NULL THEN [row.tickID] ELSE [] END |
    MERGE (f:Frame {tickID: tickID})
    CREATE (f)-[:HAS_CAM_PARAMS]->(cp)
)
WITH cp, row
MERGE (c:Camera {cameraID: row.cameraID})
CREATE (c)-[:HAS_CAM_PARAMS]->(cp)`

// gimbal_position and camera_parameters arrive pre-serialized as JSON strings
const cameraConfigUpdateQuery = `
UNWIND $rows AS row
MERGE (cc:CameraConfig {cameraID: row.cameraID})
SET cc.gimbal_position = row.gimbal_position,
    cc.camera_parameters = row.camera_parameters,
    cc.last_updated = row.timestamp`

// The fused ball is a singleton holding latest state only, no history
const fusionBallQuery = `
UNWIND $rows AS row
MERGE (fb:FusionBall3D {id: 'singleton'})
SET fb.timestamp = row.timestamp,
    fb.` + "`3dposition`" + ` = row.position_world,
    fb.velocity_mps = row.velocity_mps,
    fb.status = row.status,
    fb.fusion_method = row.fusion_method,
    fb.kalman_filtered = row.kalman_filtered,
    fb.smooth_2d = row.smooth_2d,
    fb.camera_ready = row.camera_ready,
    fb.last_updated = row.timestamp`

const fusionBallEdgeQuery = `
MATCH (fb:FusionBall3D {id: 'singleton'})
MATCH (sd:Scene_Descriptor)
MERGE (sd)-[:HAS_BALL]->(fb)`

const fusedPlayerQuery = `
UNWIND $rows AS row
MERGE (fp:FusedPlayer {id: row.id})
SET fp.x = row.x,
    fp.y = row.y,
    fp.z = row.z,
    fp.vel_x = row.vel_x,
    fp.vel_y = row.vel_y,
    fp.status = row.status,
    fp.category = row.category,
    fp.team = row.team,
    fp.last_updated = row.timestamp`

const fusedPlayerEdgeQuery = `
MATCH (sd:Scene_Descriptor)
MATCH (fp:FusedPlayer)
MERGE (sd)-[:HAS_PLAYER]->(fp)`

// One Intent per camera, upserted in place and linked to its CameraConfig
const intentQuery = `
UNWIND $rows AS row
MERGE (i:Intent {cameraID: row.cameraID})
SET i.status = row.status,
    i.intent_id = row.intent_id,
    i.intent_type = row.intent_type,
    i.resolved_ttl_ms = row.resolved_ttl_ms,
    i.payload = row.payload,
    i.rule_definition = row.rule_definition,
    i.reason = row.reason,
    i.timestamp = row.timestamp
WITH i, row
MERGE (cc:CameraConfig {cameraID: row.cameraID})
MERGE (cc)-[:HAS_INTENT]->(i)`

var kindQueries = map[rows.Kind]string{
	rows.KindFrame:              frameQuery,
	rows.KindCamera:             cameraQuery,
	rows.KindPlayerTrack:        playerTrackQuery,
	rows.KindBallTrack:          ballTrackQuery,
	rows.KindPTZState:           ptzStateQuery,
	rows.KindCamParams:          camParamsQuery,
	rows.KindCameraConfigUpdate: cameraConfigUpdateQuery,
	rows.KindFusionBall3D:       fusionBallQuery,
	rows.KindFusedPlayer:        fusedPlayerQuery,
	rows.KindIntent:             intentQuery,
}

// Writer flushes grouped write-rows to the graph
type Writer struct {
	exec   Executor
	logger zerolog.Logger
}

// New creates a batch writer
func New(exec Executor, logger zerolog.Logger) *Writer {
	return &Writer{exec: exec, logger: logger.With().Str("component", "writer").Logger()}
}

// Group buckets rows by kind, preserving order within each kind
func Group(items []rows.Row) map[rows.Kind][]map[string]any {
	groups := make(map[rows.Kind][]map[string]any)
	for _, r := range items {
		groups[r.Kind] = append(groups[r.Kind], r.Props)
	}
	return groups
}

// Write executes the grouped rows in the fixed kind order. A failed kind
// aborts the batch so later kinds never reference nodes that were not
// written; the caller counts it as one write error.
func (w *Writer) Write(ctx context.Context, groups map[rows.Kind][]map[string]any) error {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total > 200 {
		w.logger.Debug().
			Int("items", total).
			Int("kinds", len(groups)).
			Msg("Executing large write batch")
	}

	for _, kind := range rows.WriteOrder {
		group := groups[kind]
		if len(group) == 0 {
			continue
		}
		params := map[string]any{"rows": group}
		query := kindQueries[kind]

		var err error
		if kind == rows.KindFrame {
			// Frames are the hottest statement; route them through the
			// session pool
			_, err = w.exec.ExecutePooled(ctx, query, params)
		} else {
			_, err = w.exec.Execute(ctx, query, params)
		}
		if err != nil {
			w.logger.Error().Err(err).
				Str("kind", string(kind)).
				Int("rows", len(group)).
				Msg("Batch write failed")
			return fmt.Errorf("writing %s rows: %w", kind, err)
		}

		switch kind {
		case rows.KindFusionBall3D:
			// Scene anchor may not exist yet on a fresh graph; skip quietly
			if _, err := w.exec.Execute(ctx, fusionBallEdgeQuery, nil); err != nil {
				w.logger.Debug().Err(err).Msg("Could not link FusionBall3D to scene")
			}
		case rows.KindFusedPlayer:
			if _, err := w.exec.Execute(ctx, fusedPlayerEdgeQuery, nil); err != nil {
				w.logger.Debug().Err(err).Msg("Could not link FusedPlayer nodes to scene")
			}
		}
	}
	return nil
}
