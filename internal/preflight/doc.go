// Package preflight provides readiness checks for the backend, external
// binaries, and filesystem paths storyloom depends on.
//
// These checks run in two contexts:
//   - "storyloom serve" calls RunAll before binding the listener and refuses
//     to start when a required check fails.
//   - "storyloom status" renders every Result with colored status lines.
//
// Optional integrations (GCS mirror, NATS events, ntfy) report "Disabled"
// rather than failing when they are not configured.
package preflight
