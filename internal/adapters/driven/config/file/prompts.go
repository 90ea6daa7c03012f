package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads LLM prompts from user-editable files on disk.
// Prompts are loaded from a configurable directory with fallback to embedded defaults.
//
// Files are created lazily on the first Load, not in the constructor.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]string
	initOnce  sync.Once
	initErr   error
}

// defaultPrompts contains embedded default prompts.
// These are used when user files don't exist and as the initial content for new files.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptMetadataExtract: `Extract the following fields from the document below.
Return ONLY a JSON object whose keys are the field names. Use null for any field the document does not state.

Fields:
%s

Document:
%s`,

	driven.PromptQueryRewrite: `Given the conversation so far, rewrite the final question as a standalone search query.
Resolve pronouns and references using the conversation. Return ONLY the rewritten query, nothing else.

Conversation:
%s

Question: %s
Standalone query:`,

	driven.PromptChatSystem: `You are Folio, an assistant that answers questions using only the passages supplied with each question.

When answering:
1. Rely on the numbered passages. If they do not contain the answer, say so.
2. Cite passages by their number in square brackets, e.g. [2].
3. Be concise but complete.`,

	driven.PromptChatContext: `Passages:
%s

Question: %s`,

	driven.PromptReportSection: `You are writing the "%s" section of a report.

Instructions:
%s

Use only the numbered passages below. Cite them by number in square brackets.
Write the section body in markdown without repeating the section title.

Passages:
%s`,
}

// placeholders is the number of %s verbs each formatted prompt takes.
var placeholders = map[string]int{
	driven.PromptMetadataExtract: 2,
	driven.PromptQueryRewrite:    2,
	driven.PromptChatContext:     2,
	driven.PromptReportSection:   3,
}

// checkPlaceholders reports a prompt whose format verbs do not match what
// the caller fills in. Prompts that are not formatted are not checked.
func checkPlaceholders(name, prompt string) error {
	want, ok := placeholders[name]
	if !ok {
		return nil
	}
	got := 0
	for i := 0; i < len(prompt); i++ {
		if prompt[i] != '%' {
			continue
		}
		if i+1 >= len(prompt) {
			return fmt.Errorf("trailing %%")
		}
		i++
		switch prompt[i] {
		case '%':
		case 's':
			got++
		default:
			return fmt.Errorf("unsupported verb %%%c; use %%s, or %%%% for a literal percent", prompt[i])
		}
	}
	if got != want {
		return fmt.Errorf("found %d %%s placeholders, want %d", got, want)
	}
	return nil
}

// NewPromptStore creates a new file-based prompt store.
// If promptDir is empty, defaults to ~/.folio/prompts/.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(home, ".folio", "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]string),
	}, nil
}

// Load returns the prompt template for the given name.
// User files win over embedded defaults; unknown names without a file are an error.
func (s *PromptStore) Load(name string) (string, error) {
	s.initOnce.Do(s.initialise)
	if s.initErr != nil {
		if prompt, ok := defaultPrompts[name]; ok {
			return prompt, nil
		}
		return "", fmt.Errorf("prompt store init failed: %w", s.initErr)
	}

	s.mu.RLock()
	if prompt, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return prompt, nil
	}
	s.mu.RUnlock()

	prompt, err := s.loadFromFile(name)
	if err == nil && prompt != "" {
		if verr := checkPlaceholders(name, prompt); verr != nil {
			logger.Warn("prompt %s.txt ignored, using default: %v", name, verr)
			prompt = defaultPrompts[name]
		}
	}
	if err != nil || prompt == "" {
		if defaultPrompt, ok := defaultPrompts[name]; ok {
			return defaultPrompt, nil
		}
		if err == nil {
			err = fmt.Errorf("empty file")
		}
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}

	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		prompt = cached
	} else {
		s.cache[name] = prompt
	}
	s.mu.Unlock()

	return prompt, nil
}

// Reload clears the prompt cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

// Names returns the names of the built-in prompts.
func Names() []string {
	return []string{
		driven.PromptMetadataExtract,
		driven.PromptQueryRewrite,
		driven.PromptChatSystem,
		driven.PromptChatContext,
		driven.PromptReportSection,
	}
}

// initialise creates the prompt directory and default files.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.promptDir, 0700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	for name, content := range defaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

func (s *PromptStore) loadFromFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.promptDir, name+".txt"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// createReadme writes a README file explaining the prompts directory.
func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	content := `# Folio Prompts

This directory contains the prompts Folio sends to the configured LLM.

## Files

- ` + "`metadata_extract.txt`" + ` - Extracts notebook metadata fields as JSON (%s fields, %s document)
- ` + "`query_rewrite.txt`" + ` - Turns chat follow-ups into standalone queries (%s conversation, %s question)
- ` + "`chat_system.txt`" + ` - System prompt for grounded chat (no placeholders)
- ` + "`chat_context.txt`" + ` - Wraps passages around a chat question (%s passages, %s question)
- ` + "`report_section.txt`" + ` - Drafts one report section (%s name, %s instructions, %s passages)

## Customisation

Edit any file to change behaviour. Changes take effect on the next command,
or after restarting ` + "`folio serve`" + `. Keep every ` + "`%s`" + ` placeholder, in order.
Delete a file to restore its default.
`
	return os.WriteFile(path, []byte(content), 0600)
}
