package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects the bridge consumes. Wildcards cover the per-camera subjects.
var subscribeSubjects = []string{
	"tickperframe",
	"all_tracks.*",
	"ptzinfo.*",
	"fusion.ball_3d",
	"intents.processed",
	"fused_players",
}

// NATSConfig holds broker connection parameters
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSClient wraps the broker connection and its subscriptions
type NATSClient struct {
	conn      *nats.Conn
	subs      map[string]*nats.Subscription
	subsMutex sync.Mutex
	logger    zerolog.Logger
}

// ConnectNATS opens the broker connection with reconnect handling.
// The nats client retries transparently once connected; the initial connect
// failing is fatal to the caller.
func ConnectNATS(cfg NATSConfig, logger zerolog.Logger) (*NATSClient, error) {
	client := &NATSClient{
		subs:   make(map[string]*nats.Subscription),
		logger: logger.With().Str("component", "nats").Logger(),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ConnectHandler(func(conn *nats.Conn) {
			client.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			client.logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			client.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			event := client.logger.Error().Err(err)
			if sub != nil {
				event = event.Str("subject", sub.Subject)
			}
			event.Msg("NATS async error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	client.conn = conn
	return client, nil
}

// Subscribe registers handler for subject. The handler runs on the client's
// delivery goroutine and must not block.
func (c *NATSClient) Subscribe(subject string, handler func(subject string, data []byte)) error {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub
	c.logger.Info().Str("subject", subject).Msg("Subscribed")
	return nil
}

// IsConnected reports broker connectivity
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close unsubscribes everything and closes the connection
func (c *NATSClient) Close() {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn().Err(err).Str("subject", subject).Msg("Error unsubscribing")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if c.conn != nil {
		c.conn.Close()
		c.logger.Info().Msg("NATS connection closed")
	}
}
