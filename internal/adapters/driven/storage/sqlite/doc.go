// Package sqlite provides a SQLite-based implementation of every storage port.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. A single Store implements NotebookStore, DocumentStore, ChunkStore,
// JobStore, ReportStore and ChatStore over one database file.
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory and recorded in schema_migrations. Timestamps are
// stored as Unix milliseconds.
//
// # Similarity search
//
// Embeddings are stored as little-endian float32 blobs and scored in process
// with cosine similarity after SQL narrows candidates to the notebook and model.
//
// # Jobs
//
// Claims and state changes are single conditional UPDATE ... RETURNING
// statements, so two workers can never hold the same job.
//
// # Data Location
//
// By default, the database is stored at ~/.folio/data/folio.db
package sqlite
