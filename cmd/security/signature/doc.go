// Package signature provides the HMAC primitives of the Pusher protocol.
//
// It is the single source of truth for two schemes:
//   - Channel authorization: auth = "<key>:" + hex(HMAC-SHA256(secret, socket_id:channel[:channel_data])).
//   - HTTP API request signing: auth_signature = hex(HMAC-SHA256(secret, METHOD\nPATH\nsorted query)).
//
// All comparisons are constant-time.
package signature
