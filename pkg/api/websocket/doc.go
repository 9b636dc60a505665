// Package websocket serves client sessions over WebSocket.
//
// Clients connect to the server root with an Upgrade request. Each session
// is announced with {"type":"id","data":<uuid>} and then receives the
// results of the count jobs it submits over HTTP.
package websocket
