package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curaj-bot/internal/config"
	"curaj-bot/internal/domain"
	"curaj-bot/internal/llm"
	"curaj-bot/internal/qa"
	"curaj-bot/internal/repository"
	"curaj-bot/internal/service"
)

const (
	botName    = "SMAC bot"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorReset = "\033[0m"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		mode    string
		qaPath  string
		backend string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "cli_chat",
		Short: "Chat with the CURAJ assistant from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				if cfg.ResolverMode, err = domain.ParseResolverMode(mode); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("qa") {
				cfg.QATablePath = qaPath
			}
			if cmd.Flags().Changed("backend") {
				cfg.BackendURL = backend
			}

			logger := zap.NewNop()
			if verbose {
				logger = zap.NewExample()
			}
			defer logger.Sync()

			chat, err := buildChat(cfg, logger)
			if err != nil {
				return err
			}
			defer chat.Close()

			return runChat(cmd.Context(), chat, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "resolver mode: simulated or live")
	cmd.Flags().StringVar(&qaPath, "qa", "", "path to a QA table YAML file")
	cmd.Flags().StringVar(&backend, "backend", "", "backend endpoint used in live mode")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log resolver activity")
	return cmd
}

func buildChat(cfg *config.Config, logger *zap.Logger) (*service.ChatService, error) {
	table, err := qa.Load(cfg.QATablePath)
	if err != nil {
		return nil, err
	}
	var backend llm.Client
	if cfg.ResolverMode == domain.ModeLive {
		backend = llm.NewHTTPClient(cfg.BackendURL, cfg.BackendTimeout, logger)
	}
	resolver, err := service.NewResolver(service.ResolverConfig{
		Mode:            cfg.ResolverMode,
		Table:           table,
		Backend:         backend,
		MinDelay:        cfg.MinDelay(),
		MaxDelay:        cfg.MaxDelay(),
		LiveMaxInFlight: cfg.LiveMaxInFlight,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return service.NewChatService(
		resolver,
		repository.NewMemorySessionRepository(),
		service.NewMessageService(repository.NewMemoryMessageRepository()),
		logger,
		service.ChatOptions{Greeting: table.Greeting(), SessionTTL: cfg.SessionTTL, Serialize: true},
	), nil
}

func runChat(ctx context.Context, chat *service.ChatService, in io.Reader, out io.Writer) error {
	session, greeting, err := chat.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer chat.EndSession(context.Background(), session.ID)

	for _, m := range greeting {
		printMessage(out, m)
	}
	fmt.Fprintln(out, "---- escribe 'exit' para terminar ----")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Tu > ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "exit", "quit", "salir":
			fmt.Fprintln(out, "Saliendo del chat...")
			return nil
		}

		fmt.Fprintf(out, "%s%s is typing...%s\n", colorGray, botName, colorReset)
		ex, err := chat.Send(ctx, session.ID, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printMessage(out, ex.BotMessage)
	}
}

func printMessage(out io.Writer, m domain.Message) {
	fmt.Fprintf(out, "%s[%s] %s >%s %s\n", colorCyan, m.Timestamp, botName, colorReset, m.Text)
	for _, src := range m.Sources {
		fmt.Fprintf(out, "%s    fuente: %s (%s)%s\n", colorGray, src.FileName, src.Score, colorReset)
	}
}
