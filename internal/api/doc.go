// Package api defines the transport-facing DTOs and the service layer both
// the HTTP surface and the control socket are built on. It owns the mapping
// from engine errors onto wire error codes.
package api
