// Package graph wraps the Bolt connection to Memgraph.
//
// The client keeps one primary session for ordinary statements plus a small
// LIFO pool of extra sessions for hot-path writes. Sessions are not safe for
// concurrent use, so the primary is mutex-guarded and pooled sessions are
// owned exclusively between acquire and release.
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

// Config holds connection parameters for Memgraph
type Config struct {
	Host           string
	Port           int
	MaxRetries     int           // Connect attempts before failing hard
	RetryDelay     time.Duration // Linear backoff between connect attempts
	PoolSize       int           // Extra sessions beyond the primary
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration // Per-statement deadline when the caller sets none
}

// Client is a pooled Memgraph client
type Client struct {
	driver    neo4j.DriverWithContext
	primary   neo4j.SessionWithContext
	primaryMu sync.Mutex

	pool     []neo4j.SessionWithContext
	poolMu   sync.Mutex
	poolSize int

	queryTimeout time.Duration

	logger zerolog.Logger
}

// IsTransient reports whether an error belongs to the retryable
// "conflicting transactions" class Memgraph raises under write contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflicting transaction") ||
		strings.Contains(msg, "cannot resolve conflicting")
}

// Connect opens the primary connection with linear-backoff retries.
// Fails hard after cfg.MaxRetries attempts; startup treats that as fatal.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)

	var driver neo4j.DriverWithContext
	var err error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		logger.Info().
			Str("uri", uri).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxRetries).
			Msg("Connecting to Memgraph")

		driver, err = neo4j.NewDriverWithContext(uri, neo4j.NoAuth(), func(c *neo4j.Config) {
			if cfg.ConnectTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectTimeout
			}
			// The driver's own pool must cover primary + our session pool
			c.MaxConnectionPoolSize = cfg.PoolSize + 1
		})
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
			if err == nil {
				break
			}
			_ = driver.Close(ctx)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("Memgraph connection attempt failed")
		if attempt < cfg.MaxRetries {
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Memgraph at %s after %d attempts: %w",
			uri, cfg.MaxRetries, err)
	}

	c := &Client{
		driver:       driver,
		primary:      driver.NewSession(ctx, neo4j.SessionConfig{}),
		poolSize:     cfg.PoolSize,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}
	logger.Info().Str("uri", uri).Msg("Connected to Memgraph")

	c.initPool(ctx)
	return c, nil
}

// initPool opens the extra sessions. Session construction is lazy in the
// driver, so this cannot partially fail; a smaller driver-side pool simply
// serializes the excess.
func (c *Client) initPool(ctx context.Context) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	for i := 0; i < c.poolSize; i++ {
		c.pool = append(c.pool, c.driver.NewSession(ctx, neo4j.SessionConfig{}))
	}
	c.logger.Info().Int("pool_size", len(c.pool)).Msg("Connection pool initialized")
}

// withQueryDeadline applies the configured per-statement deadline. A caller
// that already carries a deadline keeps it; longer-running statements like
// retention sweeps set their own.
func (c *Client) withQueryDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.queryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.queryTimeout)
}

func run(ctx context.Context, sess neo4j.SessionWithContext, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := sess.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// Execute runs a statement on the primary session.
//
// The "conflicting transactions" class is retried exactly once after 1 ms;
// every other error is surfaced to the caller.
func (c *Client) Execute(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := c.withQueryDeadline(ctx)
	defer cancel()

	c.primaryMu.Lock()
	defer c.primaryMu.Unlock()

	records, err := run(ctx, c.primary, query, params)
	if err != nil && IsTransient(err) {
		time.Sleep(time.Millisecond)
		records, err = run(ctx, c.primary, query, params)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Query execution failed")
		return nil, err
	}
	return records, nil
}

// ExecutePooled runs a statement on a pooled session, falling back to the
// primary when the pool is exhausted. The fallback primary is never returned
// to the pool.
func (c *Client) ExecutePooled(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := c.withQueryDeadline(ctx)
	defer cancel()

	c.poolMu.Lock()
	var sess neo4j.SessionWithContext
	if n := len(c.pool); n > 0 {
		sess = c.pool[n-1]
		c.pool = c.pool[:n-1]
	}
	c.poolMu.Unlock()

	if sess == nil {
		return c.Execute(ctx, query, params)
	}

	defer func() {
		c.poolMu.Lock()
		if len(c.pool) < c.poolSize {
			c.pool = append(c.pool, sess)
		}
		c.poolMu.Unlock()
	}()
	return run(ctx, sess, query, params)
}

// Close releases every session and the underlying driver
func (c *Client) Close(ctx context.Context) {
	c.poolMu.Lock()
	for _, sess := range c.pool {
		_ = sess.Close(ctx)
	}
	c.pool = nil
	c.poolMu.Unlock()

	c.primaryMu.Lock()
	_ = c.primary.Close(ctx)
	c.primaryMu.Unlock()

	_ = c.driver.Close(ctx)
	c.logger.Info().Msg("Closed Memgraph connection")
}
