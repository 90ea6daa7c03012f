package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files or embed them in the binary.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// If the prompt is not found, implementations should return the embedded
	// default or an error when no default exists.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names used throughout the application.
const (
	// PromptMetadataExtract asks for a JSON object matching a schema.
	// The template expects %s (schema description) and %s (document text).
	PromptMetadataExtract = "metadata_extract"

	// PromptQueryRewrite turns a follow-up question into a standalone query.
	// The template expects %s (recent conversation) and %s (question).
	PromptQueryRewrite = "query_rewrite"

	// PromptChatSystem is the system prompt for grounded chat.
	// This prompt has no format placeholders.
	PromptChatSystem = "chat_system"

	// PromptChatContext wraps retrieved passages around the user's question.
	// The template expects %s (numbered passages) and %s (question).
	PromptChatContext = "chat_context"

	// PromptReportSection drafts one report section from retrieved passages.
	// The template expects %s (section name), %s (instructions) and %s (passages).
	PromptReportSection = "report_section"
)
