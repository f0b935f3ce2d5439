// Package httpapi serves the signed backend API of the gateway:
//
//	POST /apps/{appId}/events
//	POST /apps/{appId}/batch_events
//	GET  /apps/{appId}/channels
//	GET  /apps/{appId}/channels/{channel}
//	GET  /apps/{appId}/channels/{channel}/users
//
// Every request must carry a valid Pusher request signature for the app.
package httpapi
