// Package daemon coordinates the long-running ozonassist process.
//
// It wires configuration, the complaint store, the queue engine, the
// attachment registry, and the change-event bus into a single lifecycle with
// flock-based locking so two processes never share one database. The daemon
// owns the HTTP ingress the browser agent polls, the cron-driven reaper that
// times out abandoned claims, and the operator alerts those paths raise.
//
// Keep orchestration here: queue and attachment semantics live in their own
// packages while the daemon focuses on startup, shutdown, and request
// plumbing.
package daemon
