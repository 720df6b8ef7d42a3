package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fmu-service/internal/comms"
	"fmu-service/internal/logger"
	"fmu-service/internal/types"

	"github.com/redis/go-redis/v9"
)

type Callbacks struct {
	ModeCallback func(types.Mode) error // "run" or "configuration"
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the Redis command listeners. The control loop never
// blocks on Redis; commands are staged through the callbacks.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	r.wg.Add(1)
	go r.listCommandListener("fmu:mode", r.handleModeCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					// Timeout elapsed, loop back to check context
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleModeCommand(value string) error {
	switch value {
	case "run":
		return r.callbacks.ModeCallback(types.ModeRun)
	case "configuration":
		return r.callbacks.ModeCallback(types.ModeConfiguration)
	default:
		return fmt.Errorf("unknown mode command: %s", value)
	}
}

func (r *RedisClient) PublishMode(mode types.Mode) error {
	r.logger.Infof("Publishing FMU mode: %s", mode)
	timestamp := time.Now().Format(time.RFC3339)

	// Atomically set both mode and timestamp fields
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "fmu", "mode", string(mode))
	pipe.HSet(r.ctx, "fmu", "mode:timestamp", timestamp)
	pipe.Publish(r.ctx, "fmu", "mode")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish FMU mode: %v", err)
		return err
	}
	return nil
}

func (r *RedisClient) PublishLinkStats(stats comms.LinkStats) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "fmu", "link:frames-sent", stats.FramesSent)
	pipe.HSet(r.ctx, "fmu", "link:frames-received", stats.FramesReceived)
	pipe.HSet(r.ctx, "fmu", "link:bytes-dropped", stats.BytesDropped)
	pipe.HSet(r.ctx, "fmu", "link:overwrites", stats.Overwrites)
	pipe.Publish(r.ctx, "fmu", "link")
	_, err := pipe.Exec(r.ctx)
	if err != nil {
		r.logger.Warnf("Failed to publish link stats: %v", err)
	}
	return err
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
