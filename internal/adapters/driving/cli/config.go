package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/folio/internal/adapters/driven/ai"
	"github.com/custodia-labs/folio/internal/adapters/driven/config/file"
	"github.com/custodia-labs/folio/internal/config"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "View and edit configuration",
	Annotations: noServices(),
	Long: `Reads and writes the TOML config file. Values in the file are
overridden by FOLIO_* environment variables, so 'config show' prints the
resolved configuration while 'config get' prints what the file holds.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a value in the config file",
	Long: `Sets a dotted key such as llm.provider or jobs.workers. Values that parse
as booleans or numbers are stored typed. When the value is omitted for an
api_key, it is read from the terminal without echo.

The change is rejected if the resulting configuration is invalid.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write defaults for every unset key",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and ping providers",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

// configFile returns the path the config commands read and write.
func configFile() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func openConfigStore() (driven.ConfigStore, error) {
	path, err := configFile()
	if err != nil {
		return nil, err
	}
	if filepath.Base(path) != "config.toml" {
		return nil, fmt.Errorf("config file must be named config.toml to edit it: %s", path)
	}
	store, err := file.NewConfigStore(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	cmd.Println(titleStyle.Render("Configuration"))
	cmd.Println()
	cmd.Println("[Storage]")
	cmd.Printf("  Driver:    %s\n", cfg.Storage.Driver)
	switch cfg.Storage.Driver {
	case "postgres":
		cmd.Printf("  URL:       %s\n", maskURL(cfg.Storage.Postgres.URL))
	case "sqlite":
		cmd.Printf("  Path:      %s\n", cfg.DatabasePath())
	}
	cmd.Println()

	printProvider(cmd, "Embedding", cfg.Embedding)
	printProvider(cmd, "LLM", cfg.LLM)

	cmd.Println("[Jobs]")
	cmd.Printf("  Workers:       %d\n", cfg.Jobs.Workers)
	cmd.Printf("  Lease:         %s\n", cfg.Jobs.Lease)
	cmd.Printf("  Max attempts:  %d\n", cfg.Jobs.MaxAttempts)
	cmd.Printf("  Backoff:       %s .. %s\n", cfg.Jobs.BackoffBase, cfg.Jobs.BackoffMax)
	cmd.Println()

	cmd.Println("[Retrieval]")
	cmd.Printf("  Top K:      %d\n", cfg.Retrieval.TopK)
	cmd.Printf("  Threshold:  %.2f\n", cfg.Retrieval.Threshold)
	cmd.Printf("  Chunk size: %d (overlap %.2f)\n", cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	cmd.Println()

	cmd.Println("[Events]")
	cmd.Printf("  Driver:  %s\n", cfg.Events.Driver)
	if cfg.Events.Driver == "redis" {
		cmd.Printf("  Redis:   %s (%s)\n", cfg.Events.RedisAddr, cfg.Events.Stream)
	}
	cmd.Println()

	cmd.Println("[Serve]")
	cmd.Printf("  HTTP:   %s\n", cfg.HTTP.Addr)
	inbox := cfg.Inbox.Dir
	if inbox == "" {
		inbox = "(disabled)"
	}
	cmd.Printf("  Inbox:  %s\n", inbox)
	return nil
}

func printProvider(cmd *cobra.Command, name string, p config.ProviderConfig) {
	cmd.Printf("[%s]\n", name)
	if p.Provider == "" {
		cmd.Println("  Provider: (not configured)")
		cmd.Println()
		return
	}
	cmd.Printf("  Provider: %s\n", p.Provider)
	cmd.Printf("  Model:    %s\n", p.Model)
	if p.BaseURL != "" {
		cmd.Printf("  Base URL: %s\n", p.BaseURL)
	}
	if p.APIKey != "" {
		cmd.Printf("  API Key:  %s\n", maskAPIKey(p.APIKey))
	}
	cmd.Println()
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path, err := configFile()
	if err != nil {
		return err
	}
	cmd.Println(path)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	store, err := openConfigStore()
	if err != nil {
		return err
	}
	value, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("%s is not set in %s", args[0], store.Path())
	}
	if strings.HasSuffix(args[0], "api_key") {
		value = maskAPIKey(fmt.Sprint(value))
	}
	cmd.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	store, err := openConfigStore()
	if err != nil {
		return err
	}

	key := args[0]
	var raw string
	switch {
	case len(args) == 2:
		raw = args[1]
	case strings.HasSuffix(key, "api_key"):
		cmd.Printf("Enter value for %s: ", key)
		raw = readSecret(cmd.InOrStdin())
		cmd.Println()
	default:
		return fmt.Errorf("a value is required for %s", key)
	}

	previous, hadPrevious := store.Get(key)
	if err := store.Set(key, parseConfigValue(key, raw)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	if _, err := config.Load(store.Path()); err != nil {
		restore(store, key, previous, hadPrevious)
		return fmt.Errorf("rejected %s: %w", key, err)
	}

	cmd.Printf("Set %s in %s\n", key, store.Path())
	return nil
}

// restore puts back the value a rejected set replaced.
func restore(store driven.ConfigStore, key string, previous any, hadPrevious bool) {
	if hadPrevious {
		_ = store.Set(key, previous)
		return
	}
	_ = store.Delete(key)
}

// parseConfigValue types numbers and booleans. Keys holding secrets or
// addresses are always strings.
func parseConfigValue(key, raw string) any {
	if strings.HasSuffix(key, "api_key") || strings.HasSuffix(key, "url") || strings.HasSuffix(key, "addr") {
		return raw
	}
	if b, err := strconv.ParseBool(raw); err == nil && (raw == "true" || raw == "false") {
		return b
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	store, err := openConfigStore()
	if err != nil {
		return err
	}
	defaults := config.Defaults()
	before := len(store.Keys())
	if err := store.SetDefaults(defaults); err != nil {
		return fmt.Errorf("failed to write defaults: %w", err)
	}
	cmd.Printf("Wrote %d default values to %s\n", len(store.Keys())-before, store.Path())
	return nil
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		cmd.Printf("%s configuration: %v\n", errorStyle.Render("✗"), err)
		return errors.New("configuration is invalid")
	}
	cmd.Printf("%s configuration is valid\n", successStyle.Render("✓"))

	var failed int
	results := ai.Check(cmd.Context(), cfg.EmbeddingSettings(), cfg.LLMSettings())
	sort.Slice(results, func(i, j int) bool { return results[i].Role < results[j].Role })
	for _, r := range results {
		switch {
		case !r.Configured:
			cmd.Printf("%s %s: not configured\n", mutedStyle.Render("-"), r.Role)
		case r.Err != nil:
			failed++
			cmd.Printf("%s %s (%s %s): %v\n", errorStyle.Render("✗"), r.Role, r.Provider, r.Model, r.Err)
		default:
			cmd.Printf("%s %s (%s %s)\n", successStyle.Render("✓"), r.Role, r.Provider, r.Model)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d providers unreachable", failed)
	}
	return nil
}

// readSecret reads without echo from a terminal, or a line otherwise.
func readSecret(in io.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(secret))
		}
	}
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 {
		return raw
	}
	creds := raw[scheme+3 : at]
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return raw
	}
	return raw[:scheme+3] + user + ":****" + raw[at:]
}
