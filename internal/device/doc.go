// Package device provides the Persistence Gateway for DeviceLink.
//
// The gateway stores monitored devices, their last known telemetry and the
// broker connection flag in SQLite. Every committed write wakes the
// reactive queries, so the API and WebSocket hub see changes without
// polling.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                      Persistence Gateway                       │
//	│                                                                │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌────────────┐  │
//	│  │    Repository    │   │     Watchers     │   │ Validation │  │
//	│  │ (repository.go)  │──▶│   (watch.go)     │   │            │  │
//	│  │ • CRUD           │   │ • WatchAll       │   │ • name     │  │
//	│  │ • bulk mutators  │   │ • field watches  │   │ • topic    │  │
//	│  └──────────────────┘   └──────────────────┘   └────────────┘  │
//	│           │                                                    │
//	│  ┌──────────────────┐                                          │
//	│  │ HistoryRepository│  telemetry_history rows per payload      │
//	│  └──────────────────┘                                          │
//	└───────────│────────────────────────────────────────────────────┘
//	            ▼
//	  SQLite (devices, session_status, telemetry_history)
//
// # Key Types
//
//   - Device: a monitored device bound to one MQTT topic filter
//   - Telemetry: the four fields a payload overwrites
//   - Repository: persistence and reconciliation mutators
//   - Watcher: reactive queries over the same store
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	d := device.NewDevice("Boiler", "Acme", "thermostat", "sensors/1")
//	if err := repo.Insert(ctx, d); err != nil {
//	    return err
//	}
//	for devices := range repo.WatchAll(ctx) {
//	    render(devices)
//	}
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use. Writes are serialised by the
// single-connection pool opened by the database package.
package device
