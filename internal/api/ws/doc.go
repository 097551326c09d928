// Package ws implements the websocket transport for the collaboration
// server. Each accepted connection becomes a Client registered with the
// presence layer; the handler's read loop decodes the wire envelope and
// routes room, event and terminal messages to the owning subsystems.
//
// The credential is checked before the HTTP upgrade, so a bad token costs
// one 401 response and leaves no server-side state behind.
package ws
