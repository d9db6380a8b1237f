package graph

import (
	"context"
	"strings"
)

// indexStatements is the fixed set of single-property indexes created at
// startup. TTL timestamp columns are deliberately unindexed to keep write
// amplification down.
var indexStatements = []string{
	// Primary lookup indexes
	"CREATE INDEX ON :Frame(tickID)",
	"CREATE INDEX ON :Camera(cameraID)",

	// Track entity indexes
	"CREATE INDEX ON :BallTrack(track_id)",
	"CREATE INDEX ON :BallTrack(is_best)",
	"CREATE INDEX ON :PlayerTrack(track_id)",

	"CREATE INDEX ON :CamParams(cameraID)",

	// Persistent scene nodes
	"CREATE INDEX ON :Scene_Descriptor(venue_id)",
	"CREATE INDEX ON :FusedPlayer(id)",
	"CREATE INDEX ON :FusedPlayer(status)",
	"CREATE INDEX ON :FusedPlayer(x)",
	"CREATE INDEX ON :FusedPlayer(y)",
	"CREATE INDEX ON :FusedPlayer(z)",
	"CREATE INDEX ON :FusionBall3D(position_world)",
	"CREATE INDEX ON :FusionBall3D(status)",
	"CREATE INDEX ON :CameraConfig(cameraID)",
	"CREATE INDEX ON :CameraConfig(role)",
	"CREATE INDEX ON :CameraConfig(gimbal_position)",

	"CREATE INDEX ON :Intent(cameraID)",
	"CREATE INDEX ON :Intent(status)",
}

// CreateIndexes issues the fixed index list. Already-existing indexes are
// logged at debug and skipped; other failures are logged but never abort
// startup.
func (c *Client) CreateIndexes(ctx context.Context) {
	c.logger.Info().Msg("Creating database indexes")

	for _, stmt := range indexStatements {
		if _, err := c.Execute(ctx, stmt, nil); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "already exists") {
				c.logger.Debug().Str("index", stmt).Msg("Index already exists")
				continue
			}
			c.logger.Warn().Err(err).Str("index", stmt).Msg("Failed to create index")
		}
	}

	c.logger.Info().Int("indexes", len(indexStatements)).Msg("Index creation completed")
	c.verifyCriticalIndexes(ctx)
}

// verifyCriticalIndexes best-effort checks the two hottest lookup indexes.
// SHOW INDEX INFO is Memgraph-specific and may be unsupported on older
// versions; failure is only a debug line.
func (c *Client) verifyCriticalIndexes(ctx context.Context) {
	critical := [][2]string{
		{"Frame", "tickID"},
		{"Camera", "cameraID"},
	}

	records, err := c.Execute(ctx, "SHOW INDEX INFO", nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Could not verify indexes")
		return
	}

	for _, want := range critical {
		found := false
		for _, rec := range records {
			var label, property bool
			for _, v := range rec.Values {
				s, ok := v.(string)
				if !ok {
					continue
				}
				if s == want[0] {
					label = true
				}
				if s == want[1] {
					property = true
				}
			}
			if label && property {
				found = true
				break
			}
		}
		if found {
			c.logger.Info().Str("label", want[0]).Str("property", want[1]).Msg("Critical index verified")
		} else {
			c.logger.Debug().Str("label", want[0]).Str("property", want[1]).Msg("Index status unknown")
		}
	}
}
