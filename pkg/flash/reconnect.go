package flash

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
)

type reconnectConfig struct {
	attempts uint
	delay    time.Duration
	sleep    Sleeper
}

type ReconnectOption func(*reconnectConfig)

func WithAttempts(n uint) ReconnectOption {
	return func(c *reconnectConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithDelay(d time.Duration) ReconnectOption {
	return func(c *reconnectConfig) {
		c.delay = d
	}
}

func WithSleeper(s Sleeper) ReconnectOption {
	return func(c *reconnectConfig) {
		c.sleep = s
	}
}

// Reconnect opens a new transport after the ECU dropped its channel. Every
// attempt first waits the delay so the ECU can come back, then clears the
// bus and dials.
func Reconnect(ctx context.Context, bus Bus, logicalID byte, opts ...ReconnectOption) (Transport, error) {
	cfg := &reconnectConfig{
		attempts: 10,
		delay:    time.Second,
		sleep:    SleepContext,
	}
	for _, o := range opts {
		o(cfg)
	}

	var (
		t     Transport
		tries int
	)
	err := retry.Do(
		func() error {
			tries++
			if err := cfg.sleep(ctx, cfg.delay); err != nil {
				return retry.Unrecoverable(err)
			}
			log.Printf("reconnecting, attempt %d/%d", tries, cfg.attempts)
			bus.Clear()
			tr, err := bus.Dial(ctx, logicalID)
			if err != nil {
				return err
			}
			t = tr
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.attempts),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("reconnect attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ReconnectExhaustedError{Attempts: tries, Err: err}
	}
	return t, nil
}
