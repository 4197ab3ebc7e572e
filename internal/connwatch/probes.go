package connwatch

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionAwaiter is satisfied by the MQTT client.
type ConnectionAwaiter interface {
	AwaitConnection(ctx context.Context) error
}

// Pinger is satisfied by the InfluxDB client.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// BrokerProbe reports healthy once the broker connection is up. The
// probe timeout bounds the wait.
func BrokerProbe(c ConnectionAwaiter) ProbeFunc {
	return func(ctx context.Context) error {
		if err := c.AwaitConnection(ctx); err != nil {
			return fmt.Errorf("broker not connected: %w", err)
		}
		return nil
	}
}

// PingProbe reports healthy when the server answers a ping.
func PingProbe(p Pinger) ProbeFunc {
	return func(ctx context.Context) error {
		ok, err := p.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if !ok {
			return errors.New("ping: server not ready")
		}
		return nil
	}
}
