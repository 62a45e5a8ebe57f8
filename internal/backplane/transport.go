package backplane

import (
	"context"
	"fmt"
)

const (
	DriverNone  = "none"
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

// Open connects the transport named by driver. DriverNone and "" return a
// nil transport: the process then routes through its hub alone.
func Open(ctx context.Context, driver string, redisCfg RedisConfig, natsCfg NATSConfig) (Transport, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverRedis:
		t, err := NewRedisTransport(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case DriverNATS:
		t, err := NewNATSTransport(natsCfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
