// Package device is the domain model for synchronised SinricPro devices.
//
// Each portal device gets a local handle holding its canonical state. State
// only changes through reducers: pure functions keyed by action that take
// the current state and an action value and return the next state. Reducers
// are total (an undecodable or unknown value leaves state unchanged) and
// idempotent (applying the same action value twice equals applying it once),
// which makes replayed or duplicated stream frames harmless.
//
// The Registry routes inbound state changes to handles by device ID and
// notifies a change callback exactly once per routed event. Events for
// unknown devices are dropped; devices can appear on the account that this
// bridge has not been told to manage.
//
// The Store persists last-observed state and an append-only change history
// to SQLite so restarts do not lose state while the portal is unreachable.
package device
