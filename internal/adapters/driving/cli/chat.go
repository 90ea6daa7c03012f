package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/folio/internal/core/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions over a notebook",
	Long: `Chat sessions answer questions from the passages retrieved out of one
notebook. Answers stream as they are generated and end with the passages
that were used as context.`,
}

var chatStartCmd = &cobra.Command{
	Use:   "start [notebook-id]",
	Short: "Start a chat session",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatStart,
}

var chatSessionsCmd = &cobra.Command{
	Use:   "sessions [notebook-id]",
	Short: "List a notebook's sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatSessions,
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatHistory,
}

var chatAskCmd = &cobra.Command{
	Use:   "ask [session-id] [question...]",
	Short: "Ask a question in a session",
	Long: `Sends one question and streams the answer. Without a question, reads
questions line by line from an interactive terminal until EOF, or the whole
of stdin as a single question when it is not a terminal.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatAsk,
}

var chatTitle string

func init() {
	chatStartCmd.Flags().StringVarP(&chatTitle, "title", "t", "", "session title")

	chatCmd.AddCommand(chatStartCmd)
	chatCmd.AddCommand(chatSessionsCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatAskCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChatStart(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}

	session, err := chatService.StartSession(cmd.Context(), args[0], chatTitle)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	cmd.Printf("Started session %s\n", session.ID)
	cmd.Printf("Ask with 'folio chat ask %s \"your question\"'.\n", session.ID)
	return nil
}

func runChatSessions(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}

	sessions, err := chatService.ListSessions(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		cmd.Println("No sessions.")
		return nil
	}
	for i := range sessions {
		title := sessions[i].Title
		if title == "" {
			title = mutedStyle.Render("(untitled)")
		}
		cmd.Printf("  %s  %s  %s\n", sessions[i].ID, title,
			mutedStyle.Render(sessions[i].UpdatedAt.Format("2006-01-02 15:04")))
	}
	return nil
}

func runChatHistory(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}

	messages, err := chatService.History(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	for i := range messages {
		m := &messages[i]
		role := titleStyle.Render(m.Role + ":")
		if m.Role == domain.RoleUser {
			role = infoStyle.Render(m.Role + ":")
		}
		cmd.Printf("%s %s\n", role, m.Content)
		if m.Incomplete {
			cmd.Println(warningStyle.Render("  (incomplete)"))
		}
		printCitations(cmd, m.Citations)
		cmd.Println()
	}
	return nil
}

func runChatAsk(cmd *cobra.Command, args []string) error {
	if chatService == nil {
		return errors.New("chat service not configured")
	}

	sessionID := args[0]
	if len(args) > 1 {
		return askOnce(cmd, sessionID, strings.Join(args[1:], " "))
	}

	in := cmd.InOrStdin()
	if !isTerminal(in) {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read question: %w", err)
		}
		return askOnce(cmd, sessionID, string(data))
	}

	scanner := bufio.NewScanner(in)
	for {
		cmd.Print(infoStyle.Render("> "))
		if !scanner.Scan() {
			cmd.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if err := askOnce(cmd, sessionID, question); err != nil {
			cmd.PrintErrln(errorStyle.Render(err.Error()))
		}
		if cmd.Context().Err() != nil {
			return nil
		}
	}
}

// askOnce streams one answer to the command output.
func askOnce(cmd *cobra.Command, sessionID, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("question is empty")
	}

	stream, err := chatService.Send(cmd.Context(), sessionID, question)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer stream.Cancel()

	out := cmd.OutOrStdout()
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(out)
			return fmt.Errorf("answer interrupted: %w", err)
		}
		fmt.Fprint(out, part)
	}
	fmt.Fprintln(out)
	printCitations(cmd, stream.Citations())
	return nil
}

func printCitations(cmd *cobra.Command, citations []domain.Citation) {
	if len(citations) == 0 {
		return
	}
	cmd.Println(mutedStyle.Render("Sources:"))
	for i, c := range citations {
		cmd.Println(mutedStyle.Render(fmt.Sprintf("  [%d] document %s chunk #%d (%.2f)", i+1, c.DocumentID, c.Ordinal, c.Score)))
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
