// Package presence tracks who is live in which room.
//
// A Registry holds one session per (room, participant) with per-room
// locking, a Counter keeps the per-room participant count, and a Tracker
// composes the two so every join, leave, and sweep settles with the count
// equal to the number of live sessions and a broadcast on the wire.
package presence
