// Package auth issues and validates the bearer tokens accepted by the
// DeviceLink API.
//
// Tokens are HS256 JWTs carrying a subject and a Role. The role maps to a
// static permission set:
//   - viewer: read devices, session status and telemetry history
//   - operator: viewer plus session control, publishing and device changes
//
// There is no user store. Operators mint tokens offline with
// `devicelink token` using the configured secret.
package auth
