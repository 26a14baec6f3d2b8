package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// Embedder turns document texts into vectors in one call
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([]model.Vector, error)
}

// EmbedJob embeds one contiguous slice of a larger batch
type EmbedJob struct {
	Offset   int
	Texts    []string
	Embedder Embedder
}

// Execute executes the embed job
func (j *EmbedJob) Execute(ctx context.Context) Result {
	vectors, err := j.Embedder.EmbedDocuments(ctx, j.Texts)
	return &EmbedResult{Offset: j.Offset, Count: len(j.Texts), Vectors: vectors, Error: err}
}

// EmbedResult holds the vectors of one EmbedJob
type EmbedResult struct {
	Offset  int
	Count   int
	Vectors []model.Vector
	Error   error
}

// GetError returns the error from the embed result
func (r *EmbedResult) GetError() error {
	return r.Error
}

// BatchProcessor embeds many texts concurrently in fixed-size chunks
type BatchProcessor struct {
	embedder    Embedder
	concurrency int
	chunkSize   int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(embedder Embedder, concurrency, chunkSize int) *BatchProcessor {
	if chunkSize <= 0 {
		chunkSize = 16
	}
	return &BatchProcessor{
		embedder:    embedder,
		concurrency: concurrency,
		chunkSize:   chunkSize,
	}
}

// EmbedAll returns one vector per text, in input order
// A failed chunk leaves nil vectors and its error at every position it covered
func (b *BatchProcessor) EmbedAll(ctx context.Context, texts []string) ([]model.Vector, []error) {
	vectors := make([]model.Vector, len(texts))
	errs := make([]error, len(texts))
	if len(texts) == 0 {
		return vectors, errs
	}

	var jobs []Job
	for off := 0; off < len(texts); off += b.chunkSize {
		end := min(off+b.chunkSize, len(texts))
		jobs = append(jobs, &EmbedJob{Offset: off, Texts: texts[off:end], Embedder: b.embedder})
	}

	done := make([]bool, len(texts))
	for _, r := range Collect(ctx, b.concurrency, jobs) {
		er := r.(*EmbedResult)
		for i := 0; i < er.Count; i++ {
			done[er.Offset+i] = true
			if er.Error != nil {
				errs[er.Offset+i] = er.Error
				continue
			}
			if i < len(er.Vectors) {
				vectors[er.Offset+i] = er.Vectors[i]
			}
		}
	}

	// Positions without a result were skipped after cancellation
	for i := range done {
		if !done[i] {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = context.Canceled
			}
			errs[i] = fmt.Errorf("not embedded: %w", cause)
		}
	}
	return vectors, errs
}

// ReadListFile reads paths from a file (one per line)
func ReadListFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}
