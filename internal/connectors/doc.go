// Package connectors provides inputs that feed documents into Folio from
// outside the CLI and HTTP API. The filesystem connector watches an inbox
// directory and submits dropped files for ingestion.
package connectors
