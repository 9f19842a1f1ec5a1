// Package preflight provides readiness checks for the filesystem paths,
// listener address, and alert endpoint ozonassist depends on.
//
// The daemon runs RunAll before binding the ingress so a misconfigured data
// directory fails loudly at startup instead of on the first claim. The CLI
// "ozonassist health" command prints the same results.
package preflight
