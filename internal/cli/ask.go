package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/query"

	"github.com/spf13/cobra"
)

type questioner interface {
	Ask(ctx context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error)
	Stream(ctx context.Context, userID string, req models.QueryRequest) (<-chan query.Event, error)
}

var (
	askWorkspace string
	askSession   string
	askUser      string
	askModel     string
	askStream    bool
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a question against the documents selected in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askWorkspace, "workspace", "w", "", "workspace id")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "query session id")
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "user id (must be a workspace member)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "LLM model (default from config)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
	_ = askCmd.MarkFlagRequired("workspace")
	_ = askCmd.MarkFlagRequired("session")
	_ = askCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(askCmd)
}

// openQuestioner is replaced in tests.
var openQuestioner = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (questioner, func(), error) {
	stack, closeFn, err := openQueryStack(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return stack.Orchestrator, closeFn, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	q, closeFn, err := openQuestioner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	req := models.QueryRequest{
		WorkspaceID: askWorkspace,
		SessionID:   askSession,
		Question:    args[0],
		Model:       askModel,
		Stream:      askStream,
	}
	out := cmd.OutOrStdout()
	if askStream {
		return streamAnswer(ctx, out, q, req)
	}
	resp, err := q.Ask(ctx, askUser, req)
	if err != nil {
		return err
	}
	if askJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintln(out, resp.Answer)
	printSources(out, resp.Citations)
	fmt.Fprintf(out, "\n(%s, %d ms)\n", resp.ModelUsed, resp.LatencyMS)
	return nil
}

func streamAnswer(ctx context.Context, out io.Writer, q questioner, req models.QueryRequest) error {
	events, err := q.Stream(ctx, askUser, req)
	if err != nil {
		return err
	}
	for ev := range events {
		switch ev.Type {
		case query.EventToken:
			fmt.Fprint(out, ev.Token)
		case query.EventCitations:
			fmt.Fprintln(out)
			printSources(out, ev.Citations)
		case query.EventError:
			return errors.New(ev.Err)
		}
	}
	return nil
}

func printSources(out io.Writer, citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, c := range citations {
		loc := ""
		if c.PageNumber != nil {
			loc = fmt.Sprintf(" p.%d", *c.PageNumber)
		}
		if c.Section != nil && *c.Section != "" {
			loc += " · " + *c.Section
		}
		fmt.Fprintf(out, "  [%d] %s%s\n", i+1, c.DocumentName, loc)
	}
}
