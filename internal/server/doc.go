// Package server implements the HTTP API server for the workflow engine
//
// This package provides REST endpoints for managing workflows, executions,
// dynamic steps, triggers, and WebSocket event streaming
package server
