// Package client implements the conductor-side proxy for one remote player.
//
// A Client owns the four phase definitions of its worker and drives the player
// through one phase at a time: Download sends the phase and waits for the
// acknowledgement, Trigger binds the result listener and sends RUN, and
// CollectResults drains one RESULT per inbound connection until DONE.
package client
