// Package protocol implements the framed wire protocol spoken between the
// conductor and its players.
//
// Every frame is a 4-byte big-endian length followed by a UTF-8 JSON body:
//
//	{"version":1,"type":"phase","data":{...}}
//
// The receive side checks the declared length against the codec's limit
// before reading any body bytes, then rejects bodies that are not objects,
// lack a version, carry a different version or name an unknown message type.
// Every rejection is a *Error that can be matched with errors.Is against the
// exported sentinels.
package protocol
