package scene

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

// Executor runs Cypher statements. Satisfied by graph.Client.
type Executor interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
}

const sceneCountQuery = "MATCH (sd:Scene_Descriptor) RETURN count(sd)"

const sceneQuery = `
MERGE (sd:Scene_Descriptor {venue_id: $venue_id})
SET sd.units = $units,
    sd.up_axis = $up_axis,
    sd.origin = $origin,
    sd.handedness = $handedness,
    sd.version = $version,
    sd.pitch_markers = $pitch_markers
RETURN sd`

const cameraConfigQuery = `
MERGE (cc:CameraConfig {cameraID: $cameraID})
SET cc.role = $role,
    cc.status = $status,
    cc.operation_mode = $operation_mode,
    cc.zoom_mode = $zoom_mode,
    cc.pan_range = $pan_range,
    cc.tilt_range = $tilt_range,
    cc.zoom_range = $zoom_range,
    cc.camerapos = $camerapos,
    cc.venue = $venue,
    cc.gimbal_position = $gimbal_position,
    cc.camera_parameters = $camera_parameters
WITH cc
MATCH (sd:Scene_Descriptor {venue_id: $venue})
MERGE (sd)-[:HAS_CAMERA]->(cc)
RETURN cc`

// Bootstrap seeds the persistent scene structure exactly once.
//
// If a Scene_Descriptor already exists the whole pass is skipped; otherwise
// the singleton is merged first, then the CameraConfig nodes linked under it.
// Failures are returned but callers should treat them as non-fatal: the
// service can still ingest, and the edge-creation statements tolerate a
// missing scene until the next restart.
func Bootstrap(ctx context.Context, exec Executor, provider VenueProvider, logger zerolog.Logger) error {
	log := logger.With().Str("component", "scene").Logger()

	records, err := exec.Execute(ctx, sceneCountQuery, nil)
	if err == nil && len(records) > 0 && len(records[0].Values) > 0 {
		if count, _ := records[0].Values[0].(int64); count >= 1 {
			log.Info().Msg("Scene descriptor already present, skipping bootstrap")
			return nil
		}
	}

	venue := provider.Venue()

	markersJSON, err := json.Marshal(venue.PitchMarkers)
	if err != nil {
		return fmt.Errorf("encoding pitch markers: %w", err)
	}

	log.Info().Str("venue", venue.ID).Msg("Initializing scene descriptor")
	_, err = exec.Execute(ctx, sceneQuery, map[string]any{
		"venue_id":      venue.ID,
		"units":         "meters",
		"up_axis":       "Z",
		"origin":        "PITCH_TOP_LEFT",
		"handedness":    "RIGHT",
		"version":       "1.0",
		"pitch_markers": string(markersJSON),
	})
	if err != nil {
		return fmt.Errorf("initializing scene descriptor: %w", err)
	}

	if len(venue.Cameras) != 6 {
		log.Warn().Int("count", len(venue.Cameras)).Msg("Unexpected camera config count, expected 6")
	}

	for _, cam := range venue.Cameras {
		gimbalJSON, err := json.Marshal(cam.Gimbal)
		if err != nil {
			return fmt.Errorf("encoding gimbal position for %s: %w", cam.CameraID, err)
		}
		paramsJSON, err := json.Marshal(cam.Parameters)
		if err != nil {
			return fmt.Errorf("encoding camera parameters for %s: %w", cam.CameraID, err)
		}

		_, err = exec.Execute(ctx, cameraConfigQuery, map[string]any{
			"cameraID":          cam.CameraID,
			"role":              cam.Role,
			"status":            cam.Status,
			"operation_mode":    cam.OperationMode,
			"zoom_mode":         cam.ZoomMode,
			"pan_range":         cam.PanRange,
			"tilt_range":        cam.TiltRange,
			"zoom_range":        cam.ZoomRange,
			"camerapos":         cam.CameraPos,
			"venue":             venue.ID,
			"gimbal_position":   string(gimbalJSON),
			"camera_parameters": string(paramsJSON),
		})
		if err != nil {
			return fmt.Errorf("initializing camera config %s: %w", cam.CameraID, err)
		}
		log.Debug().Str("camera", cam.CameraID).Str("role", cam.Role).Msg("Camera config initialized")
	}

	log.Info().Str("venue", venue.ID).Int("cameras", len(venue.Cameras)).Msg("Scene structure initialized")
	return nil
}
