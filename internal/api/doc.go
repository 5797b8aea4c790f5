// Package api provides the local HTTP surface of the bridge: a JSON REST
// API over the device registry and state history, a command endpoint that
// forwards actions to the portal, and a WebSocket feed of state changes.
//
// All /api routes require a Bearer JWT signed with the configured shared
// secret. The health endpoint is unauthenticated so supervisors can probe
// it without credentials.
package api
