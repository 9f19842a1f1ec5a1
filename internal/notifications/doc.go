// Package notifications delivers operator alerts via ntfy.
//
// Alerts fire only for transitions an operator cares about: the browser agent
// reporting a hard failure, stale claims being timed out, and the queue
// draining. When no ntfy topic is configured the service degrades to a no-op.
// Identical alerts inside the configured dedup window are sent once.
package notifications
