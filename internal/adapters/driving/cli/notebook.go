package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/core/domain"
)

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Manage notebooks",
	Long:  `Create notebooks, list them, and set the metadata schema extracted from their documents.`,
}

var notebookCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a notebook",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotebookCreate,
}

var notebookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notebooks",
	Args:  cobra.NoArgs,
	RunE:  runNotebookList,
}

var notebookGetCmd = &cobra.Command{
	Use:   "get [notebook-id]",
	Short: "Show a notebook and its schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotebookGet,
}

var notebookSchemaCmd = &cobra.Command{
	Use:   "schema [notebook-id] [schema.yaml]",
	Short: "Replace a notebook's metadata schema",
	Long: `Replaces the metadata schema from a YAML file:

  fields:
    - name: author
      type: string
      required: true
    - name: published
      type: date

Documents ingested afterwards are extracted against the new schema.`,
	Args: cobra.ExactArgs(2),
	RunE: runNotebookSchema,
}

var (
	notebookSchemaFile string
	notebookDedup      string
	notebookJSON       bool
)

func init() {
	notebookCreateCmd.Flags().StringVar(&notebookSchemaFile, "schema", "", "YAML metadata schema file")
	notebookCreateCmd.Flags().StringVar(&notebookDedup, "dedup", string(domain.DedupNone), "duplicate upload policy (none, content_hash)")
	notebookListCmd.Flags().BoolVar(&notebookJSON, "json", false, "output as JSON")
	notebookGetCmd.Flags().BoolVar(&notebookJSON, "json", false, "output as JSON")

	notebookCmd.AddCommand(notebookCreateCmd)
	notebookCmd.AddCommand(notebookListCmd)
	notebookCmd.AddCommand(notebookGetCmd)
	notebookCmd.AddCommand(notebookSchemaCmd)
	rootCmd.AddCommand(notebookCmd)
}

func runNotebookCreate(cmd *cobra.Command, args []string) error {
	if notebookService == nil {
		return errors.New("notebook service not configured")
	}

	var schema domain.MetadataSchema
	if notebookSchemaFile != "" {
		var err error
		if schema, err = readSchema(notebookSchemaFile); err != nil {
			return err
		}
	}

	nb, err := notebookService.Create(cmd.Context(), args[0], schema, domain.DedupPolicy(notebookDedup))
	if err != nil {
		return fmt.Errorf("failed to create notebook: %w", err)
	}

	cmd.Printf("Created notebook %s (%s)\n", nb.Name, nb.ID)
	return nil
}

func runNotebookList(cmd *cobra.Command, _ []string) error {
	if notebookService == nil {
		return errors.New("notebook service not configured")
	}

	notebooks, err := notebookService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list notebooks: %w", err)
	}
	if notebookJSON {
		return printJSON(cmd, notebooks)
	}

	if len(notebooks) == 0 {
		cmd.Println("No notebooks. Create one with 'folio notebook create <name>'.")
		return nil
	}
	cmd.Println(titleStyle.Render("Notebooks:"))
	cmd.Println()
	for i := range notebooks {
		cmd.Printf("  %s  %s\n", notebooks[i].ID, notebooks[i].Name)
		if n := len(notebooks[i].MetadataSchema.Fields); n > 0 {
			cmd.Printf("      %s\n", mutedStyle.Render(fmt.Sprintf("%d metadata fields", n)))
		}
	}
	return nil
}

func runNotebookGet(cmd *cobra.Command, args []string) error {
	if notebookService == nil {
		return errors.New("notebook service not configured")
	}

	nb, err := notebookService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get notebook: %w", err)
	}
	if notebookJSON {
		return printJSON(cmd, nb)
	}

	cmd.Printf("Notebook: %s\n\n", nb.ID)
	cmd.Printf("  Name:     %s\n", nb.Name)
	dedup := nb.DedupPolicy
	if dedup == "" {
		dedup = domain.DedupNone
	}
	cmd.Printf("  Dedup:    %s\n", dedup)
	cmd.Printf("  Created:  %s\n", nb.CreatedAt.Format("2006-01-02 15:04:05"))

	if len(nb.MetadataSchema.Fields) > 0 {
		cmd.Println("\n  Metadata schema:")
		for _, f := range nb.MetadataSchema.Fields {
			req := ""
			if f.Required {
				req = " (required)"
			}
			cmd.Printf("    %s: %s%s\n", f.Name, f.Type, req)
			if len(f.Enum) > 0 {
				cmd.Printf("      one of %v\n", f.Enum)
			}
		}
	}
	return nil
}

func runNotebookSchema(cmd *cobra.Command, args []string) error {
	if notebookService == nil {
		return errors.New("notebook service not configured")
	}

	schema, err := readSchema(args[1])
	if err != nil {
		return err
	}
	nb, err := notebookService.SetSchema(cmd.Context(), args[0], schema)
	if err != nil {
		return fmt.Errorf("failed to set schema: %w", err)
	}

	cmd.Printf("Notebook %s now extracts %d metadata fields.\n", nb.ID, len(nb.MetadataSchema.Fields))
	return nil
}

func readSchema(path string) (domain.MetadataSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MetadataSchema{}, fmt.Errorf("read schema: %w", err)
	}
	schema, err := domain.ParseMetadataSchemaYAML(data)
	if err != nil {
		return domain.MetadataSchema{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return schema, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
