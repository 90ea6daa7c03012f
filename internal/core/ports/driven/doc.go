// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - NotebookStore, DocumentStore, ChunkStore: Content persistence and similarity search
//   - JobStore: Job state with atomic claim (compare-and-set on state + owner)
//   - ReportStore, ChatStore: Report runs and conversations
//   - Normaliser / NormaliserRegistry: Raw upload to text
//   - PostProcessorPipeline: Text to chunks
//   - EmbeddingService: Generates vector embeddings
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - LLMService: Without it metadata extraction is skipped and reports/chat are unavailable.
//   - EventPublisher: Without it state changes are only visible by polling.
//   - MetricsRecorder: Without it nothing is measured.
//   - PromptStore: Without it built-in prompts are used.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
