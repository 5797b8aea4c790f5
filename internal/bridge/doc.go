// Package bridge wires the portal client to the local surfaces.
//
// On startup the bridge restores device handles from the SQLite store,
// reconciles them against the portal inventory, then opens the event
// stream. From that point every routed state change is persisted,
// mirrored to the local MQTT topics, recorded as telemetry and fanned
// out to in-process subscribers such as the WebSocket hub.
//
// In the other direction, commands arrive from MQTT set topics or the
// HTTP API and are dispatched to the portal; the resulting state change
// comes back over the stream like any other, so every surface converges
// on the same state without special-casing local commands.
package bridge
