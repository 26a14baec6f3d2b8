package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
)

var (
	topK        int
	detailed    bool
	jsonOut     bool
	timeout     time.Duration
	corpusFiles []string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <claim>",
	Short: "Check a single claim in-process",
	Long: `Check runs the full pipeline in this process: the claim is embedded,
matched against the fact-check index and summarized into a verdict.

Example:
  verity check "Vaccines contain microchips" --corpus factchecks.yaml
  verity check "5G spreads viruses" --detailed --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "List the fact-checks nearest to a text",
	Long: `Search embeds the text and prints the closest fact-checks above the
score threshold without calling the language model.

Example:
  verity search "hot water cures flu" --top-k 5 --corpus factchecks.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(searchCmd)

	checkCmd.Flags().IntVar(&topK, "top-k", 1, "number of evidence records")
	checkCmd.Flags().BoolVar(&detailed, "detailed", false, "print the evidence the verdict is based on")
	checkCmd.Flags().BoolVar(&jsonOut, "json", false, "print the response as JSON")

	searchCmd.Flags().IntVar(&topK, "top-k", 5, "number of results")
	searchCmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")

	for _, c := range []*cobra.Command{checkCmd, searchCmd} {
		c.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
		c.Flags().StringSliceVar(&corpusFiles, "corpus", nil, "corpus files to load first (in-memory index)")
	}
}

// withApp opens the components, loads extra corpus files and runs fn
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c := cfg
	c.Corpus.Files = append(append([]string{}, c.Corpus.Files...), corpusFiles...)
	a, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.loadCorpus(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		res, err := a.pipeline.Check(ctx, pipeline.CheckRequest{Claim: args[0], TopK: topK, Detailed: detailed})
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if jsonOut {
			return printJSON(res.Response)
		}
		printVerdict(res)
		return nil
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		results, err := a.pipeline.Search(ctx, args[0], topK)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if jsonOut {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No matching fact-checks.")
			return nil
		}
		printResults(results)
		return nil
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// termWidth reads COLUMNS, falling back to 80
func termWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n >= 40 {
		return n
	}
	return 80
}

func printVerdict(res *pipeline.CheckResult) {
	width := termWidth()
	r := res.Response
	rule := strings.Repeat("─", width)

	fmt.Println(rule)
	fmt.Printf("  Verdict:     %s\n", strings.ToUpper(string(r.Verdict)))
	fmt.Printf("  Confidence:  %d/100\n", r.Confidence)
	fmt.Println(rule)
	fmt.Println(indent(runewidth.Wrap(r.Summary, width-4), "  "))
	if len(r.Sources) > 0 {
		fmt.Println()
		fmt.Println("  Sources:")
		for _, s := range r.Sources {
			fmt.Printf("    • %s\n", runewidth.Truncate(s, width-6, "…"))
		}
	}
	if detailed && res.EvidenceText != "" {
		fmt.Println()
		fmt.Println("  Evidence:")
		fmt.Println(indent(runewidth.Wrap(res.EvidenceText, width-4), "    "))
	}
	fmt.Println(rule)
	fmt.Printf("  %d evidence record(s), %s\n", len(res.Evidence), res.Elapsed.Round(time.Millisecond))
}

func printResults(results []model.SearchResult) {
	width := termWidth()
	claimWidth := max(width-32, 20)
	for _, r := range results {
		claim := runewidth.FillRight(runewidth.Truncate(r.Record.Claim, claimWidth, "…"), claimWidth)
		source := runewidth.Truncate(r.Record.Source, 16, "…")
		fmt.Printf("%.3f  %s  %-16s\n", r.Score, claim, source)
		if r.Record.URL != "" {
			fmt.Printf("       %s\n", runewidth.Truncate(r.Record.URL, width-7, "…"))
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
