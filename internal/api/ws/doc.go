// Package ws streams bridge events to WebSocket clients and accepts
// terminal input from them.
package ws
