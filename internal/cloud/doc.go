// Package cloud implements the SinricPro portal client: authentication,
// command dispatch and the server-sent event stream.
//
// Three components cooperate here:
//
//   - SessionManager exchanges the account API key for a short-lived bearer
//     token and refreshes it before expiry. Callers never see the API key;
//     they ask for a Session and get a valid token or an error.
//
//   - Dispatcher sends device commands to the portal REST API. Every command
//     travels in a fixed envelope (clientId, messageId, type, action,
//     createdAt, value) matching what the portal expects from API clients.
//
//   - StreamClient consumes the portal's SSE feed and delivers device state
//     changes to a handler in arrival order. It reconnects with exponential
//     backoff and tears down stalled connections via an idle watchdog.
//
// All components are safe for concurrent use. The package does not interpret
// device state; it hands raw action/value pairs to the device layer.
package cloud
