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
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creastat/widget"
	"github.com/creastat/widget/chat"
)

var (
	pageURL   string
	pageTitle string
)

// chatCmd runs an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the tenant's assistant",
	Long: `Open the widget and chat from the terminal.

Lines typed are sent as visitor messages. Commands:
  /agent [reason]  ask for a human agent
  /end             end the conversation
  /close, /open    hide or show the panel
  /quit            leave without ending; the conversation resumes next time`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&pageURL, "page-url", "", "Page URL sent with every message")
	chatCmd.Flags().StringVar(&pageTitle, "page-title", "", "Page title sent with every message")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shell := newTermShell(cmd.OutOrStdout())
	w, err := widget.New(ctx, *cfg, widget.WithLogger(logger), widget.WithShell(shell))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	a := w.Appearance()
	shell.header(a.Title, a.Subtitle)
	w.SetPage(pageURL, pageTitle)

	if err := w.Open(ctx); err != nil {
		logger.Debug("open failed", zap.Error(err))
	}
	shell.replay(w.Messages())

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, w, shell, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one line of input and reports whether to quit.
func handleLine(ctx context.Context, w *widget.Widget, shell *termShell, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/end":
		if err := w.EndChat(ctx); err != nil {
			logger.Warn("end chat failed", zap.Error(err))
		}
	case "/agent":
		_ = w.RequestAgent(ctx, rest)
	case "/close":
		w.Close()
	case "/open":
		if err := w.Open(ctx); err == nil {
			shell.replay(w.Messages())
		}
	default:
		if err := w.SendMessage(ctx, line); err != nil && !errors.Is(err, widget.ErrEmptyMessage) {
			logger.Debug("send failed", zap.Error(err))
		}
	}
	return false
}

// readLines feeds stdin lines until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// termShell renders the widget as plain terminal lines.
type termShell struct {
	mu  sync.Mutex
	out io.Writer
}

func newTermShell(out io.Writer) *termShell {
	return &termShell{out: out}
}

func (s *termShell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *termShell) header(title, subtitle string) {
	s.printf("== %s ==\n   %s\n", title, subtitle)
}

func (s *termShell) replay(msgs []chat.Message) {
	for _, m := range msgs {
		s.MessageAppended(m)
	}
}

func (s *termShell) MessageAppended(msg chat.Message) {
	who := string(msg.Sender)
	if msg.SenderName != "" {
		who += " " + msg.SenderName
	}
	s.printf("[%s %s] %s\n", msg.Timestamp.Local().Format("15:04"), who, msg.Body)
}

func (s *termShell) TranscriptReplaced(msgs []chat.Message) {
	if len(msgs) > 0 {
		s.printf("-- restored %d messages --\n", len(msgs))
	}
}

func (s *termShell) TypingChanged(visible bool) {
	if visible {
		s.printf("... typing\n")
	}
}

func (s *termShell) StatusChanged(text string) {
	if text != "" {
		s.printf("** %s **\n", text)
	}
}

func (s *termShell) VisibilityChanged(open bool) {
	if !open {
		s.printf("-- widget closed (/open to reopen) --\n")
	}
}
