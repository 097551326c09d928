// Package terminal manages server-side interactive subprocesses over PTYs.
//
// Each session is a shell spawned via creack/pty, bound to exactly one owning
// channel. Output streams to the owner only; input, resize, and close are
// owner-gated. State machine: CREATED -> RUNNING -> {EXITED | KILLED}.
// Disconnect of the owning channel force-kills every RUNNING session it owns,
// and output already queued when a session is killed is discarded at the
// listener boundary.
package terminal
