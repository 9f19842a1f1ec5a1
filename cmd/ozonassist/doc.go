// Command ozonassist runs the complaint queue daemon and administers it.
//
// "ozonassist daemon" serves the browser agent in the foreground. The queue,
// images, status, and health commands talk to a running daemon over its
// HTTP admin API; config commands work without one.
package main
