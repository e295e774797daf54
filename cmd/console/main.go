// Gemini Q&A console: ask text or image questions from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashureev/gemini-qa/internal/chat"
	"github.com/ashureev/gemini-qa/internal/config"
	"github.com/ashureev/gemini-qa/internal/credential"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/gemini"
	"github.com/ashureev/gemini-qa/internal/imaging"
)

const helpText = `Commands:
  <question>                 ask a text question
  /image <path> <question>   ask about an image (path may be "-" to reuse the last image)
  /history                   print the conversation
  /help                      show this help
  /quit                      exit`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "terminal:", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	geminiCfg := gemini.Config{
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		BaseURL:     cfg.GeminiBaseURL,
	}
	engine := chat.NewEngine(chat.Config{
		APIKey:    cfg.APIKey,
		Prompt:    credential.InstancePrompt(rl, "Gemini API key: "),
		Validator: gemini.Validator(geminiCfg),
		NewDispatcher: func(ctx context.Context, cred credential.Credential) (*dispatch.Dispatcher, error) {
			return gemini.NewDispatcher(ctx, geminiCfg, cred, dispatch.WithLogger(logger))
		},
		Decoder: imaging.Decoder{MaxBytes: cfg.MaxImageBytes},
		Logger:  logger,
	})
	if err := engine.Start(ctx); err != nil {
		fmt.Fprintln(rl.Stderr(), err)
		os.Exit(1)
	}

	session, err := engine.OpenSession(ctx, uuid.NewString())
	if err != nil {
		fmt.Fprintln(rl.Stderr(), err)
		os.Exit(1)
	}

	fmt.Fprintln(rl.Stdout(), "Gemini Q&A. Type /help for commands.")
	repl(ctx, rl, session)
}

func repl(ctx context.Context, rl *readline.Instance, s *chat.Session) {
	out := rl.Stdout()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Fprintln(rl.Stderr(), "read:", err)
			return
		}

		line = strings.TrimSpace(line)
		switch cmd := commandName(line); {
		case line == "":
			continue
		case cmd == "/quit" || cmd == "/exit":
			return
		case cmd == "/help":
			fmt.Fprintln(out, helpText)
		case cmd == "/history":
			printHistory(out, s)
		case cmd == "/image":
			sub, err := parseImageCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			submit(ctx, out, s, sub)
		case cmd != "":
			fmt.Fprintln(out, "unknown command; type /help")
		default:
			submit(ctx, out, s, chat.Submission{Mode: dispatch.ModeText, Text: line, Channel: "console"})
		}
	}
}

// commandName returns the first word of line when it is a slash command, else "".
func commandName(line string) string {
	if !strings.HasPrefix(line, "/") {
		return ""
	}
	return strings.Fields(line)[0]
}

// parseImageCommand reads "/image <path> <question>". A path of "-" reuses the cached image.
func parseImageCommand(line string) (chat.Submission, error) {
	if commandName(line) != "/image" {
		return chat.Submission{}, fmt.Errorf("not an image command: %q", line)
	}
	fields := strings.Fields(line)[1:]
	if len(fields) == 0 {
		return chat.Submission{}, errors.New("usage: /image <path> <question>")
	}
	sub := chat.Submission{
		Mode:    dispatch.ModeVision,
		Text:    strings.Join(fields[1:], " "),
		Channel: "console",
	}
	if fields[0] == "-" {
		return sub, nil
	}
	data, err := os.ReadFile(fields[0])
	if err != nil {
		return chat.Submission{}, fmt.Errorf("read image: %w", err)
	}
	sub.ImageName = filepath.Base(fields[0])
	sub.ImageBytes = data
	return sub, nil
}

func submit(ctx context.Context, out io.Writer, s *chat.Session, sub chat.Submission) {
	outcome, err := s.Submit(ctx, sub)
	switch {
	case err != nil:
		fmt.Fprintln(out, "error:", err)
	case outcome.Warning != "":
		fmt.Fprintln(out, outcome.Warning)
	case outcome.Error != "":
		fmt.Fprintln(out, outcome.Error)
	default:
		fmt.Fprintln(out, outcome.Response)
	}
}

func printHistory(out io.Writer, s *chat.Session) {
	entries := s.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(out, "(no history)")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s: %s\n", e.Role, e.Text)
	}
}
