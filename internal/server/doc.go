// Package server implements the HTTP and WebSocket surface of the parley
// real-time delivery service.
//
// The implementation is organized into specialized files for configuration,
// session handling, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
