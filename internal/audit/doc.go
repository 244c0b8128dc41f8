// Package audit records the commands issued through the DeviceLink API
// (session connect/disconnect, publishes, subscription and device changes)
// in the audit_logs table, and lists them newest first.
package audit
