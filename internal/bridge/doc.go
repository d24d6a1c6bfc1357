// Package bridge implements the two-way template sync between
// home-automation entity state and control processor joins.
//
// # Inbound (MQTT → joins)
//
// Entity state arrives on xsig/state/{entity_id} as JSON
// {"state": ..., "attributes": {...}} and is cached. Every to-join
// rule sourcing that entity re-evaluates: its value is rendered (raw
// state, a single attribute, or a text/template with states and
// state_attr functions), coerced to the join kind and pushed to the
// processor. Rules rendering empty or unknown are skipped so entities
// that have never reported don't push zeros.
//
// # Outbound (joins → MQTT)
//
// Join transitions from the dispatcher publish a retained mirror
// message on xsig/join/{kind}/{number} and, when a from-join rule is
// configured, fire an action invocation on
// xsig/action/{domain}/{service}. Digital release edges are ignored so
// momentary presses fire once, not twice.
//
// # Synchronisation
//
// The processor's sync-all request and every new session replay all
// to-join rules, bringing a freshly booted processor up to date from
// the cache.
//
// The package also carries the periodic MQTT health reporter
// (health.go) combining broker state, processor link statistics and
// join counts.
package bridge
