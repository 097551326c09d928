// Package presence tracks live channels and project-room membership.
//
// The registry is the single ownership boundary for the room-membership map:
// request handlers call Join, Leave, Heartbeat, and Disconnect, and never see
// the maps themselves. Disconnect is the one teardown path, shared by explicit
// closes and the idle reaper, and cascades into terminal termination.
package presence
