package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ppiankov/verity/internal/corpus"
	"github.com/ppiankov/verity/internal/worker"
)

var (
	listFile string
	workers  int
)

// corpusCmd groups corpus maintenance commands
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the fact-check corpus",
}

// corpusLoadCmd represents the corpus load command
var corpusLoadCmd = &cobra.Command{
	Use:   "load [file...]",
	Short: "Embed corpus files and write them to the index",
	Long: `Load reads YAML or JSON fact-check files, cleans and embeds every
record and upserts it into the configured index.

Records with an ID already in the index replace it. Cached verdicts that
cited a replaced record are dropped.

Example:
  verity corpus load snopes.yaml politifact.json
  verity corpus load --list corpus-files.txt --workers 8`,
	RunE: runCorpusLoad,
}

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the publishers in the index",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(sourcesCmd)
	corpusCmd.AddCommand(corpusLoadCmd)

	corpusLoadCmd.Flags().StringVar(&listFile, "list", "", "file with one corpus path per line")
	corpusLoadCmd.Flags().IntVar(&workers, "workers", 0, "concurrent embedding workers (default from config)")
	sourcesCmd.Flags().StringSliceVar(&corpusFiles, "corpus", nil, "corpus files to load first (in-memory index)")
}

func runCorpusLoad(cmd *cobra.Command, args []string) error {
	paths := append([]string{}, args...)
	if listFile != "" {
		listed, err := worker.ReadListFile(listFile)
		if err != nil {
			return err
		}
		paths = append(paths, listed...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no corpus files given, pass paths or --list")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := cfg
	c.Corpus.Files = nil
	if workers > 0 {
		c.Corpus.Workers = workers
	}
	a, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	fmt.Printf("Loading %d file(s) into %s index (%s embeddings, %d workers)\n",
		len(paths), a.index.Name(), a.embedder.Name(), c.Corpus.Workers)

	report, err := a.ingester.LoadFiles(ctx, paths...)
	if err != nil {
		return err
	}
	printReport(report)
	if report.Failed > 0 && report.Embedded == 0 {
		return fmt.Errorf("all %d records failed", report.Failed)
	}
	return nil
}

func printReport(r *corpus.IngestReport) {
	fmt.Println()
	fmt.Printf("  Loaded:    %d\n", r.Loaded)
	fmt.Printf("  Embedded:  %d\n", r.Embedded)
	fmt.Printf("  Created:   %d\n", r.Created)
	fmt.Printf("  Updated:   %d\n", r.Updated)
	fmt.Printf("  Failed:    %d\n", r.Failed)
	if r.Flushed {
		fmt.Println("  Search cache flushed")
	}
	width := termWidth()
	for _, e := range r.Errors {
		fmt.Printf("    ! %s\n", runewidth.Truncate(e, width-6, "…"))
	}
	fmt.Printf("\n  Done in %s\n", r.Duration.Round(time.Millisecond))
}

func runSources(cmd *cobra.Command, args []string) error {
	timeout = 30 * time.Second
	return withApp(func(ctx context.Context, a *app) error {
		sources, err := a.pipeline.Sources(ctx)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("The index is empty.")
			return nil
		}
		for _, s := range sources {
			updated := "-"
			if !s.LastUpdated.IsZero() {
				updated = s.LastUpdated.Format("2006-01-02")
			}
			name := runewidth.FillRight(runewidth.Truncate(s.Name, 24, "…"), 24)
			fmt.Printf("%s  %6d  %s  %s\n", name, s.FactCheckCount, updated, s.URL)
		}
		return nil
	})
}
