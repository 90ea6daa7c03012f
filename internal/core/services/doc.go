// Package services implements the driving port interfaces.
// Services contain the core business logic: ingestion, embedding, retrieval,
// the job worker pool, report generation and chat. They orchestrate calls to
// driven ports (storage, providers, events) and never import adapters.
package services
