// Package client talks to a chcount server.
//
// A Client keeps one WebSocket session open. The server announces the
// session id on connect, Submit posts text to /api/count with that id and
// waits for the result pushed over the session. The HTTP response and the
// push may arrive in either order; Correlator reconciles them.
package client
