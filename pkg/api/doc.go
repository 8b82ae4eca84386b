// Package api defines the wire-level types shared by the Loom engine, its
// HTTP server, and external collaborators: workflow definitions, steps,
// conditions, executions, and lifecycle events
package api
