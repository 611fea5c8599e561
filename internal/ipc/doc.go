// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket.
// The CLI is the only intended client; payloads are small request/response
// structs that stay stable across daemon restarts.
package ipc
