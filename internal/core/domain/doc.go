// Package domain defines the core business entities for Folio.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Notebook: A collection of documents sharing a metadata schema
//   - Document: An uploaded artifact and its normalised text
//   - Chunk: A retrievable unit within a document
//   - Embedding: The vector bound to a chunk for one model
//   - Job: A tracked unit of background work
//   - ReportTemplate / ReportGeneration: Multi-section report runs
//   - ChatSession / ChatMessage: Retrieval-grounded conversations
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
