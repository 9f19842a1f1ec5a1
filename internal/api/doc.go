// Package api defines the wire format shared by the HTTP ingress and the CLI
// client. It translates store models into transport-friendly DTOs so that the
// browser agent and operator tools never couple to internal types.
//
// # Envelope
//
// Every response body is an Envelope: success plus either data or a message.
// HTTP status codes are secondary. An expected failure such as "no pending
// complaint" or "unknown sku" is a 200 with success=false; only store faults
// produce a 5xx.
//
// # Key Types
//
// Complaint: a work item with its linked image path and absolute image URL.
//
// Image: an attachment row plus its URL and a missing-on-disk flag.
//
// Stats, ComplaintPage, ImagePage: admin listing payloads.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for the JavaScript consumers. Statuses are the
// lowercase store strings. Timestamps use RFC3339 with milliseconds. Request
// IDs accept either JSON numbers or numeric strings because the extension
// sends whatever it scraped from the page.
package api
