// Package mcp provides an MCP (Model Context Protocol) server adapter for Folio.
// It lets AI assistants search notebooks, submit documents and follow
// background jobs and report runs.
package mcp

import "errors"

// ErrMissingRetrievalService is returned when the retrieval service is not provided.
var ErrMissingRetrievalService = errors.New("mcp: retrieval service is required")
