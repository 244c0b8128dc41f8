package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 10 * time.Second

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Options shapes the points a Client writes. Zero values select defaults.
type Options struct {
	// SiteID is added as a "site" tag to every point when set.
	SiteID string

	// TelemetryMeasurement and SessionMeasurement override the
	// measurement names (device_telemetry and session_state).
	TelemetryMeasurement string
	SessionMeasurement   string

	// OnWriteError receives batch write failures wrapped in ErrWriteFailed.
	// It runs on the client's error goroutine.
	OnWriteError func(err error)
}

// Stats counts points handed to the write API and batch failures.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Client is the monitor's telemetry sink. Writes are queued to the
// batching write API and never block the caller.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	schema   schema
	onError  func(err error)

	closed  atomic.Bool
	written atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the server and prepares the batching write API for
// cfg.Org and cfg.Bucket.
//
// Returns:
//   - *Client: ready sink
//   - error: ErrDisabled when export is off, ErrConnectionFailed when the
//     server cannot be reached
func Connect(ctx context.Context, cfg config.InfluxDBConfig, opts Options) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg, opts))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		schema:   newSchema(opts),
		onError:  opts.OnWriteError,
	}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions converts the config into library options. Points carry
// millisecond timestamps, matching the received_at precision.
func clientOptions(cfg config.InfluxDBConfig, opts Options) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = DefaultFlushInterval
	}

	// #nosec G115 -- both values are positive
	o := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond)
	if opts.SiteID != "" {
		o.AddDefaultTag("site", opts.SiteID)
	}
	return o
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not ready")
	}
	return nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		if c.onError != nil {
			c.onError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{Written: c.written.Load(), Failed: c.failed.Load()}
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes buffered points and releases the client. Later writes
// are dropped. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
