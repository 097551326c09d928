// Package main is the entry point for the CodeHive collaboration server.
//
// The server is the real-time layer of the browser-based editor: it
// authenticates websocket connections, tracks who is present in which
// project, relays editing events between collaborators, and multiplexes
// interactive terminal subprocesses onto the same connections.
//
// The server provides:
//   - A websocket endpoint (/ws) carrying the full session protocol
//   - REST endpoints for the service banner, liveness and a live status
//     snapshot
//   - Prometheus metrics on /metrics
//
// Configuration comes from environment variables (12-factor), with CLI
// flags overriding the listen port and database path.
//
// Usage:
//
//	JWT_SECRET=... ./server -port 8080 -db /var/lib/codehive/codehive.db
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown (drains channels, kills terminals)
package main
