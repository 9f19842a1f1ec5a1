// Package events fans out content-free change notifications.
//
// An Event says only that some topic changed and carries a sequence number; it
// never describes the change. Observers re-read authoritative state from the
// ingress API after each event, so nothing pushed here can drift from the
// database. Delivery is best effort: a subscriber that falls behind loses
// events, and the next one it does receive still tells it to re-pull.
package events
