package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/core/domain"
)

var (
	searchTopK      int
	searchThreshold float64
	searchWhere     []string
	searchDocuments []string
	searchBatch     bool
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [notebook-id] [query...]",
	Short: "Search a notebook",
	Long: `Embeds the query and returns the most similar chunks in the notebook,
ranked by cosine similarity. With --batch each argument is a separate query,
embedded in one provider call.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "n", 0, "maximum number of results (0 = configured default)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "minimum similarity score")
	searchCmd.Flags().StringArrayVar(&searchWhere, "where", nil, "metadata filter key=value (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchDocuments, "document", nil, "restrict to document IDs")
	searchCmd.Flags().BoolVar(&searchBatch, "batch", false, "treat each argument as a separate query")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	filter, err := parseWhere(searchWhere)
	if err != nil {
		return err
	}
	q := domain.RetrievalQuery{
		NotebookID:  args[0],
		TopK:        searchTopK,
		Filter:      filter,
		DocumentIDs: searchDocuments,
	}
	if cmd.Flags().Changed("threshold") {
		threshold := searchThreshold
		q.Threshold = &threshold
	}

	if searchBatch {
		texts := args[1:]
		results, err := retrievalService.QueryBatch(cmd.Context(), q, texts)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return printJSON(cmd, results)
		}
		for i, hits := range results {
			cmd.Println(titleStyle.Render(fmt.Sprintf("Query: %s", texts[i])))
			outputSearchTable(cmd, hits)
		}
		return nil
	}

	q.Text = strings.Join(args[1:], " ")
	results, err := retrievalService.Query(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		return printJSON(cmd, results)
	}
	outputSearchTable(cmd, results)
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []domain.ScoredChunk) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		cmd.Println()
		return
	}

	cmd.Println("Results:")
	cmd.Println()
	for i := range results {
		// Format: [N] Title §Section (Score)
		title := results[i].DocumentTitle
		if title == "" {
			title = results[i].Chunk.DocumentID
		}
		if results[i].Chunk.Section != "" {
			title += " § " + results[i].Chunk.Section
		}

		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, results[i].Score)
		cmd.Printf("      %s\n", mutedStyle.Render(fmt.Sprintf("chunk %s #%d", results[i].Chunk.ID, results[i].Chunk.Ordinal)))
		cmd.Printf("      %s\n", snippet(results[i].Chunk.Text, 200))
		cmd.Println()
	}
}

// parseWhere turns key=value pairs into an equality filter. Numbers and
// booleans are typed so they compare against extracted metadata.
func parseWhere(pairs []string) (domain.MetadataFilter, error) {
	if len(pairs) == 0 {
		return domain.MetadataFilter{}, nil
	}
	equals := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return domain.MetadataFilter{}, fmt.Errorf("invalid --where %q, expected key=value", pair)
		}
		equals[key] = typedValue(value)
	}
	return domain.MetadataFilter{Equals: equals}, nil
}

func typedValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

// snippet flattens whitespace and truncates to at most n runes.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
