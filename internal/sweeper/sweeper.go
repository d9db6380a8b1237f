// Package sweeper enforces the rolling retention window by deleting expired
// ephemeral nodes.
//
// Persistent kinds (Scene_Descriptor, CameraConfig, FusedPlayer, FusionBall3D,
// Intent) are never swept; they hold current game state indefinitely.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/ozsports/gamestate-bridge/internal/graph"
	"github.com/ozsports/gamestate-bridge/internal/monitoring"
	"github.com/ozsports/gamestate-bridge/internal/rows"
)

// statementTimeout bounds each delete statement; a sweep that exceeds it is
// abandoned and retried on the next cycle
const statementTimeout = 10 * time.Second

const maxAttempts = 3

// errSweepTimedOut marks a pass abandoned at the per-statement deadline.
// The next scheduled sweep reattempts; the abandoned pass is neither a
// success nor a retryable conflict.
var errSweepTimedOut = errors.New("sweep statement timed out")

// Executor runs Cypher statements. Satisfied by graph.Client.
type Executor interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
}

// Track nodes go first because they are the most numerous; Frame and Camera
// last because other deletes detach from them.
var sweepStatements = []struct {
	name  string
	query string
}{
	{"PlayerTrack", "MATCH (pt:PlayerTrack) WHERE pt.last_updated < $cutoff_timestamp DETACH DELETE pt"},
	{"BallTrack", "MATCH (bt:BallTrack) WHERE bt.last_updated < $cutoff_timestamp DETACH DELETE bt"},
	{"PTZState", "MATCH (s:PTZState) WHERE s.timestamp < $cutoff_timestamp DETACH DELETE s"},
	{"CamParams", "MATCH (cp:CamParams) WHERE cp.timestamp < $cutoff_timestamp DETACH DELETE cp"},
	{"Frame", "MATCH (f:Frame) WHERE f.timestamp < $cutoff_timestamp DETACH DELETE f"},
	{"Camera", "MATCH (c:Camera) WHERE c.last_active_timestamp < $cutoff_timestamp DETACH DELETE c"},
}

var statQueries = map[string]string{
	"frames":        "MATCH (f:Frame) WHERE f.timestamp < $cutoff_timestamp RETURN count(f) as count",
	"player_tracks": "MATCH (pt:PlayerTrack) WHERE pt.last_updated < $cutoff_timestamp RETURN count(pt) as count",
	"ball_tracks":   "MATCH (bt:BallTrack) WHERE bt.last_updated < $cutoff_timestamp RETURN count(bt) as count",
	"ptz_states":    "MATCH (s:PTZState) WHERE s.timestamp < $cutoff_timestamp RETURN count(s) as count",
	"cam_params":    "MATCH (cp:CamParams) WHERE cp.timestamp < $cutoff_timestamp RETURN count(cp) as count",
	"cameras":       "MATCH (c:Camera) WHERE c.last_active_timestamp < $cutoff_timestamp RETURN count(c) as count",
}

const sceneCountQuery = "MATCH (sd:Scene_Descriptor) RETURN count(sd)"

// Sweeper deletes ephemeral nodes older than the rolling window
type Sweeper struct {
	exec      Executor
	window    time.Duration
	baseDelay time.Duration // backoff base for transient-conflict retries
	logger    zerolog.Logger
}

// New creates a sweeper with the given retention window
func New(exec Executor, window, baseDelay time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		exec:      exec,
		window:    window,
		baseDelay: baseDelay,
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) cutoff(now time.Time) string {
	return rows.FormatTimestamp(now.Add(-s.window))
}

// Sweep removes all ephemeral nodes whose retention timestamp predates the
// rolling window. Statements run in a fixed order; a timeout or failure
// aborts the remainder of the pass. Transient write conflicts retry the whole
// pass with exponential backoff. A non-nil return means the pass did not
// complete; the next scheduled sweep reattempts.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	cutoff := s.cutoff(now)
	params := map[string]any{"cutoff_timestamp": cutoff}
	s.logger.Debug().
		Str("cutoff", cutoff).
		Dur("window", s.window).
		Msg("Sweeping expired nodes")

	start := time.Now()
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.sweepOnce(ctx, params)
		if err == nil {
			monitoring.ObserveSweep(time.Since(start))
			s.logger.Debug().Str("cutoff", cutoff).Msg("Sweep completed")
			return nil
		}

		// An abandoned pass is not retried within this cycle
		if errors.Is(err, errSweepTimedOut) {
			monitoring.RecordSweepError()
			return err
		}

		if graph.IsTransient(err) && attempt < maxAttempts-1 {
			delay := s.baseDelay * (1 << attempt)
			s.logger.Warn().
				Int("attempt", attempt+1).
				Int("max_attempts", maxAttempts).
				Dur("retry_in", delay).
				Msg("Write conflict during sweep, retrying")
			time.Sleep(delay)
			continue
		}

		monitoring.RecordSweepError()
		if graph.IsTransient(err) {
			s.logger.Error().
				Int("attempts", maxAttempts).
				Msg("Sweep failed after retries due to write conflicts; system may be under high load")
		} else {
			s.logger.Error().Err(err).Msg("Sweep aborted")
		}
		return err
	}
	return err
}

func (s *Sweeper) sweepOnce(ctx context.Context, params map[string]any) error {
	s.checkScene(ctx, "before")

	for i, stmt := range sweepStatements {
		stmtCtx, cancel := context.WithTimeout(ctx, statementTimeout)
		_, err := s.exec.Execute(stmtCtx, stmt.query, params)
		cancel()
		if err != nil {
			if stmtCtx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn().
					Str("entity", stmt.name).
					Int("statement", i+1).
					Msg("Sweep statement timed out, abandoning pass")
				return fmt.Errorf("statement %d (%s): %w", i+1, stmt.name, errSweepTimedOut)
			}
			return fmt.Errorf("sweep statement %d (%s): %w", i+1, stmt.name, err)
		}
		s.logger.Debug().Str("entity", stmt.name).Msg("Sweep statement completed")
	}

	s.checkScene(ctx, "after")
	return nil
}

// checkScene verifies the scene anchor survived the pass. Sweep statements
// never match Scene_Descriptor, so a zero count means operator intervention
// is needed to re-run scene bootstrap.
func (s *Sweeper) checkScene(ctx context.Context, phase string) {
	records, err := s.exec.Execute(ctx, sceneCountQuery, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Could not verify scene descriptor")
		return
	}
	count := int64(0)
	if len(records) > 0 && len(records[0].Values) > 0 {
		count, _ = records[0].Values[0].(int64)
	}
	if count == 0 {
		if phase == "after" {
			s.logger.Error().Msg("Scene descriptor missing after sweep; re-run scene bootstrap")
		} else {
			s.logger.Warn().Msg("Scene descriptor missing before sweep")
		}
	}
}

// Stats reports how many nodes of each ephemeral kind a sweep at now would
// delete. A failed count reports -1 for every kind.
func (s *Sweeper) Stats(ctx context.Context, now time.Time) map[string]int64 {
	params := map[string]any{"cutoff_timestamp": s.cutoff(now)}

	stats := make(map[string]int64, len(statQueries))
	for entity, query := range statQueries {
		records, err := s.exec.Execute(ctx, query, params)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error collecting sweep stats")
			for e := range statQueries {
				stats[e] = -1
			}
			return stats
		}
		var count int64
		if len(records) > 0 && len(records[0].Values) > 0 {
			count, _ = records[0].Values[0].(int64)
		}
		stats[entity] = count
	}
	return stats
}
