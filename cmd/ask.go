package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/chart"
	cfgpkg "github.com/KaramelBytes/csv-analyst/internal/config"
	"github.com/KaramelBytes/csv-analyst/internal/table"
	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

var (
	askMode     string
	askStream   bool
	askChartOut string
	askShowRaw  bool
	askDryRun   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <file> <question...>",
	Short: "Ask one question about a CSV/TSV/XLSX file",
	Example: `  csvanalyst ask sales.csv "What is the average amount per region?"
  csvanalyst ask sales.csv "Plot revenue by month" --chart-out revenue.svg
  csvanalyst ask sales.csv "Anything unusual here?" --mode direct --stream`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		mode, ok := analyst.ParseMode(askMode)
		if !ok {
			return fmt.Errorf("unsupported --mode: %s (use query or direct)", askMode)
		}
		question := strings.TrimSpace(strings.Join(args[1:], " "))
		if question == "" {
			return errors.New("question cannot be empty")
		}
		t, err := loadTable(c, args[0])
		if err != nil {
			return err
		}
		if askDryRun {
			printLoaded(cmd.OutOrStdout(), t)
			return printDryRun(cmd.OutOrStdout(), c, t, mode, question)
		}
		a, err := newAnalyst(c, newLogger(c))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printLoaded(out, t)

		if mode == analyst.ModeDirect {
			return runDirect(cmd, a, t, question, askStream)
		}
		cyc := a.Ask(cmd.Context(), t, question)
		return printCycle(out, cyc, c.DisplayMaxRows, askShowRaw, askChartOut)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askMode, "mode", analyst.ModeQuery, "answer mode: query (generate and run a query) | direct (answer from sample rows)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "direct mode: print the answer as it arrives")
	askCmd.Flags().StringVar(&askChartOut, "chart-out", "", "write the chart as SVG to this path when the query draws one")
	askCmd.Flags().BoolVar(&askShowRaw, "show-raw", false, "print the model's raw reply before cleaning")
	askCmd.Flags().BoolVar(&askDryRun, "dry-run", false, "print the first prompt and its token estimate without calling the model")
	addLoadFlags(askCmd)
}

func printLoaded(out io.Writer, t *table.Table) {
	fmt.Fprintf(out, "✓ Loaded %s (%d rows, %d columns)\n", t.Name(), t.NumRows(), t.NumCols())
	for _, w := range t.Warnings() {
		fmt.Fprintf(out, "⚠ %s\n", w)
	}
}

// printDryRun shows the prompt the first model call would receive with a
// token and cost estimate.
func printDryRun(out io.Writer, c *cfgpkg.Global, t *table.Table, mode, question string) error {
	prompt := analyst.BuildExpressionPrompt(t, question, c.SampleRows)
	if mode == analyst.ModeDirect {
		prompt = analyst.BuildDirectPrompt(t, question, c.SampleRows)
	}
	counts := utils.TokenBreakdown(map[string]string{"prompt": prompt, "question": question})
	tokens := counts["prompt"]
	reply := c.MaxTokens
	if reply <= 0 {
		reply = 1024
	}
	fmt.Fprintf(out, "Model: %s (%s), mode: %s\n", c.DefaultModel, c.DefaultProvider, mode)
	fmt.Fprintf(out, "Tokens: prompt≈%d (question≈%d), reply budget %d\n", tokens, counts["question"], reply)
	if window := ai.ContextWindow(c.DefaultModel, 0); window > 0 && tokens+reply > window {
		fmt.Fprintf(out, "⚠ Warning: prompt + reply (≈%d) exceeds the %d token context of %s\n", tokens+reply, window, c.DefaultModel)
	}
	if cost, ok := ai.EstimateCostUSD(c.DefaultModel, tokens, reply); ok {
		fmt.Fprintf(out, "Estimated max cost: ~$%.4f\n", cost)
	}
	fmt.Fprintf(out, "\n--dry-run: no API call will be made. Prompt preview below --\n%s", prompt)
	return nil
}

func runDirect(cmd *cobra.Command, a *analyst.Analyst, t *table.Table, question string, stream bool) error {
	out := cmd.OutOrStdout()
	if stream {
		_, err := a.AnswerStream(cmd.Context(), t, question, func(d string) { fmt.Fprint(out, d) })
		fmt.Fprintln(out)
		return failureErr(err)
	}
	text, err := a.Answer(cmd.Context(), t, question)
	if err != nil {
		return failureErr(err)
	}
	fmt.Fprintln(out, text)
	return nil
}

// printCycle writes the query, its result and the summary. A failed cycle
// is returned as an error carrying the user-facing message.
func printCycle(out io.Writer, c *analyst.Cycle, maxRows int, showRaw bool, chartOut string) error {
	if showRaw && c.Raw != "" {
		fmt.Fprintf(out, "Model reply:\n%s\n\n", c.Raw)
	}
	if c.Expression != "" {
		fmt.Fprintf(out, "Query: %s\n", c.Expression)
	}
	if c.Err != nil {
		return failureErr(c.Err)
	}
	res := c.Result
	fmt.Fprintln(out, "Result:")
	if res.Label != "" {
		fmt.Fprintf(out, "%s = %s\n", res.Label, res.Render(maxRows))
	} else {
		fmt.Fprintln(out, res.Render(maxRows))
	}
	if res.Figure != nil {
		fmt.Fprintf(out, "[chart] %s\n", res.Figure.Describe())
		if chartOut != "" {
			if err := utils.SafeWriteFile(chartOut, []byte(chart.SVG(res.Figure)), 0o644); err != nil {
				return fmt.Errorf("write chart: %w", err)
			}
			fmt.Fprintf(out, "✓ Wrote chart to %s\n", chartOut)
		}
	}
	if c.SummaryErr != nil {
		fmt.Fprintf(out, "⚠ Summary unavailable: %s\n", c.SummaryErr.Message())
		return nil
	}
	fmt.Fprintf(out, "\nSummary:\n%s\n", c.Summary)
	return nil
}

// failureErr replaces an analyst failure with its user-facing message.
func failureErr(err error) error {
	if err == nil {
		return nil
	}
	var f *analyst.Failure
	if errors.As(err, &f) {
		return errors.New(f.Message())
	}
	return err
}
