// Package logging provides structured logging for DeviceLink.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields on every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or JWT secrets.
package logging
