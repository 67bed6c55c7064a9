package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	cfgpkg "github.com/KaramelBytes/csv-analyst/internal/config"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

const chatPrompt = "csvanalyst> "

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Ask questions about a file interactively",
	Long: `Starts an interactive session over one table. Each line is a question;
lines starting with '.' are commands (type .help).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		t, err := loadTable(c, args[0])
		if err != nil {
			return err
		}
		a, err := newAnalyst(c, newLogger(c))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printLoaded(out, t)
		fmt.Fprintln(out, "Type a question, or .help for commands.")

		sh := &chatShell{an: a, t: t, mode: analyst.ModeQuery, maxRows: c.DisplayMaxRows, out: out}

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)
		line.SetCompleter(sh.complete)
		history := historyPath()
		if history != "" {
			if f, err := os.Open(history); err == nil {
				_, _ = line.ReadHistory(f)
				f.Close()
			}
		}
		defer func() {
			if history == "" {
				return
			}
			if f, err := os.Create(history); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()

		for {
			input, err := line.Prompt(chatPrompt)
			if err != nil {
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					fmt.Fprintln(out)
					return nil
				}
				return fmt.Errorf("read input: %w", err)
			}
			input = strings.TrimSpace(input)
			if input == "" {
				continue
			}
			line.AppendHistory(input)
			if sh.exec(cmd.Context(), input) {
				return nil
			}
			if cmd.Context().Err() != nil {
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	addLoadFlags(chatCmd)
}

func historyPath() string {
	dir, err := cfgpkg.Dir()
	if err != nil {
		return ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// chatShell holds the state of one interactive session.
type chatShell struct {
	an      *analyst.Analyst
	t       *table.Table
	mode    string
	maxRows int
	out     io.Writer
}

var chatCommands = []string{".help", ".mode", ".head", ".columns", ".profile", ".exit", ".quit"}

const chatHelp = `Commands:
  .mode [query|direct]  show or switch the answer mode
  .head [n]             print the first n rows (default 5)
  .columns              list columns and their types
  .profile              print a dataset profile
  .exit                 leave the session
Anything else is asked as a question.`

// exec runs one line and reports whether the session should end.
func (s *chatShell) exec(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, ".") {
		s.ask(ctx, input)
		return false
	}
	fields := strings.Fields(input)
	switch fields[0] {
	case ".exit", ".quit":
		return true
	case ".help":
		fmt.Fprintln(s.out, chatHelp)
	case ".mode":
		if len(fields) == 1 {
			fmt.Fprintf(s.out, "mode: %s\n", s.mode)
			return false
		}
		mode, ok := analyst.ParseMode(fields[1])
		if !ok {
			fmt.Fprintf(s.out, "✗ unknown mode %q (use query or direct)\n", fields[1])
			return false
		}
		s.mode = mode
		fmt.Fprintf(s.out, "✓ mode: %s\n", s.mode)
	case ".head":
		n := 5
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				fmt.Fprintf(s.out, "✗ invalid row count %q\n", fields[1])
				return false
			}
			n = v
		}
		fmt.Fprintln(s.out, s.t.Head(n).Render(0))
	case ".columns":
		for _, c := range s.t.Columns() {
			fmt.Fprintf(s.out, "- %s (%s)\n", c.Name, c.Kind)
		}
	case ".profile":
		opt := table.DefaultProfileOptions()
		opt.Correlations = true
		fmt.Fprintln(s.out, table.Profile(s.t, opt).Markdown())
	default:
		fmt.Fprintf(s.out, "✗ unknown command %s (type .help)\n", fields[0])
	}
	return false
}

func (s *chatShell) ask(ctx context.Context, question string) {
	if s.mode == analyst.ModeDirect {
		_, err := s.an.AnswerStream(ctx, s.t, question, func(d string) { fmt.Fprint(s.out, d) })
		fmt.Fprintln(s.out)
		if err != nil {
			fmt.Fprintf(s.out, "✗ %v\n", failureErr(err))
		}
		return
	}
	c := s.an.Ask(ctx, s.t, question)
	if err := printCycle(s.out, c, s.maxRows, false, ""); err != nil {
		fmt.Fprintf(s.out, "✗ %v\n", err)
	}
}

func (s *chatShell) complete(line string) []string {
	if !strings.HasPrefix(line, ".") {
		return nil
	}
	var out []string
	for _, c := range chatCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
