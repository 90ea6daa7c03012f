package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/core/domain"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate templated reports",
	Long: `Reports run a template against a notebook. Each template section becomes
a background job that retrieves passages and generates the section text, so
sections complete independently and a failed section can be retried alone.`,
}

var reportTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage report templates",
}

var reportTemplateAddCmd = &cobra.Command{
	Use:   "add [template.yaml]",
	Short: "Save a template from YAML",
	Long: `Saves a report template. Example:

  name: Literature review
  sections:
    - name: Background
      query_template: "background and motivation for {{.topic}}"
      instructions: Summarise prior work.
      top_k: 8

Saving a template with an existing id replaces it.`,
	Args: cobra.ExactArgs(1),
	RunE: runReportTemplateAdd,
}

var reportTemplateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE:  runReportTemplateList,
}

var reportStartCmd = &cobra.Command{
	Use:   "start [template-id] [notebook-id]",
	Short: "Start a report run",
	Args:  cobra.ExactArgs(2),
	RunE:  runReportStart,
}

var reportStatusCmd = &cobra.Command{
	Use:   "status [generation-id]",
	Short: "Show section progress of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportStatus,
}

var reportRetryCmd = &cobra.Command{
	Use:   "retry [generation-id] [section-index]",
	Short: "Regenerate one section",
	Args:  cobra.ExactArgs(2),
	RunE:  runReportRetry,
}

var reportDocumentCmd = &cobra.Command{
	Use:   "document [generation-id]",
	Short: "Assemble the report as Markdown",
	Long:  `Assembles succeeded sections in template order. Failed sections are marked as unavailable.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReportDocument,
}

var (
	reportParams []string
	reportOutput string
	reportJSON   bool
)

func init() {
	reportStartCmd.Flags().StringArrayVarP(&reportParams, "param", "p", nil, "template parameter key=value (repeatable)")
	reportStatusCmd.Flags().BoolVar(&reportJSON, "json", false, "output as JSON")
	reportDocumentCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write to file instead of stdout")

	reportTemplateCmd.AddCommand(reportTemplateAddCmd)
	reportTemplateCmd.AddCommand(reportTemplateListCmd)
	reportCmd.AddCommand(reportTemplateCmd)
	reportCmd.AddCommand(reportStartCmd)
	reportCmd.AddCommand(reportStatusCmd)
	reportCmd.AddCommand(reportRetryCmd)
	reportCmd.AddCommand(reportDocumentCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportTemplateAdd(cmd *cobra.Command, args []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	tmpl, err := domain.ParseReportTemplateYAML(data)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", args[0], err)
	}
	saved, err := reportService.SaveTemplate(cmd.Context(), tmpl)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	cmd.Printf("Saved template %s (%s) with %d sections.\n", saved.Name, saved.ID, len(saved.Sections))
	return nil
}

func runReportTemplateList(cmd *cobra.Command, _ []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	tmpls, err := reportService.ListTemplates(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	if len(tmpls) == 0 {
		cmd.Println("No templates. Add one with 'folio report template add <file.yaml>'.")
		return nil
	}

	for i := range tmpls {
		cmd.Printf("  %s  %s\n", tmpls[i].ID, tmpls[i].Name)
		names := make([]string, len(tmpls[i].Sections))
		for j, s := range tmpls[i].Sections {
			names[j] = s.Name
		}
		cmd.Printf("      %s\n", mutedStyle.Render(strings.Join(names, ", ")))
	}
	return nil
}

func runReportStart(cmd *cobra.Command, args []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	params, err := parseParams(reportParams)
	if err != nil {
		return err
	}
	gen, err := reportService.Start(cmd.Context(), args[0], args[1], params)
	if err != nil {
		return fmt.Errorf("failed to start report: %w", err)
	}

	cmd.Printf("Started report %s with %d sections.\n", gen.ID, len(gen.Sections))
	cmd.Printf("Track it with 'folio report status %s'.\n", gen.ID)
	return nil
}

func runReportStatus(cmd *cobra.Command, args []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	gen, err := reportService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}
	if reportJSON {
		return printJSON(cmd, gen)
	}

	cmd.Printf("Report: %s (%s)\n", gen.ID, gen.Template.Name)
	cmd.Printf("Status: %s\n\n", stateStyle(string(gen.Status)).Render(string(gen.Status)))
	for i := range gen.Sections {
		s := &gen.Sections[i]
		cmd.Printf("  %d. %s %s", s.Index, badge(string(s.Status)), s.Name)
		if s.Attempts > 1 {
			cmd.Printf(" %s", mutedStyle.Render(fmt.Sprintf("(attempt %d)", s.Attempts)))
		}
		cmd.Println()
		if s.Error != nil {
			cmd.Printf("     %s\n", errorStyle.Render(s.Error.Message))
		}
	}
	return nil
}

func runReportRetry(cmd *cobra.Command, args []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 {
		return fmt.Errorf("invalid section index: %s", args[1])
	}
	gen, err := reportService.RetrySection(cmd.Context(), args[0], index)
	if err != nil {
		return fmt.Errorf("failed to retry section: %w", err)
	}

	cmd.Printf("Section %d of report %s re-queued.\n", index, gen.ID)
	return nil
}

func runReportDocument(cmd *cobra.Command, args []string) error {
	if reportService == nil {
		return errors.New("report service not configured")
	}

	doc, err := reportService.Assemble(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to assemble report: %w", err)
	}
	if reportOutput == "" {
		cmd.Print(doc)
		return nil
	}
	if err := os.WriteFile(reportOutput, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	cmd.Printf("Wrote %s\n", reportOutput)
	return nil
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}
