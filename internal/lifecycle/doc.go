// Package lifecycle mediates between host-reported application lifecycle
// events and the backgrounding policy. It tracks each application's state,
// asks the policy resolver what to do when an application leaves the
// foreground, and issues keep-alive, allow-suspension or terminate requests to
// the host. Forced terminations are always honored.
package lifecycle
