// Package server implements the chat relay core: the connection registry,
// broadcast with failed-peer pruning, the "!" command interpreter, the
// per-connection handler, and the TCP accept and console loops.
//
// The implementation is organized into specialized files for configuration,
// registry and broadcast, connections, commands, and the WebSocket gateway
// that lets browser peers join the same room.
package server
