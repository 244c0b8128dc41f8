// Package influxdb is DeviceLink's optional telemetry sink.
//
// The monitor service hands every attributed payload to WriteTelemetry and
// every session state change to WriteSessionState. Points are queued to
// the batching write API of influxdb-client-go and flushed by size or
// interval, so the consumer loop never waits on the network.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{
//	    SiteID:       cfg.Site.ID,
//	    OnWriteError: func(err error) { log.Error("InfluxDB write error", "error", err) },
//	})
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without export
//	}
//	defer client.Close()
//
// Batch failures surface only through Options.OnWriteError, wrapped in
// ErrWriteFailed, and in Stats. Connect and HealthCheck return their
// errors directly.
package influxdb
