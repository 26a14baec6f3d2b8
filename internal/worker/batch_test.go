package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/verity/internal/model"
)

// mockEmbedder returns [len(text)] per text and fails chunks containing "fail"
type mockEmbedder struct {
	mu     sync.Mutex
	chunks [][]string
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]model.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.chunks = append(m.chunks, texts)
	m.mu.Unlock()

	out := make([]model.Vector, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "fail") {
			return nil, errors.New("embed error")
		}
		out[i] = model.Vector{float32(len(t))}
	}
	return out, nil
}

func TestBatchProcessor_EmbedAll(t *testing.T) {
	emb := &mockEmbedder{}
	processor := NewBatchProcessor(emb, 3, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, errs := processor.EmbedAll(context.Background(), texts)

	if len(emb.chunks) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(emb.chunks))
	}
	for i, v := range vectors {
		if errs[i] != nil {
			t.Fatalf("unexpected error at %d: %v", i, errs[i])
		}
		if len(v) != 1 || int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestBatchProcessor_EmbedAll_ChunkError(t *testing.T) {
	processor := NewBatchProcessor(&mockEmbedder{}, 2, 2)

	vectors, errs := processor.EmbedAll(context.Background(), []string{"ok", "fail", "fine"})

	if errs[0] == nil || errs[1] == nil {
		t.Error("expected the failing chunk to mark both positions")
	}
	if vectors[0] != nil || vectors[1] != nil {
		t.Error("expected nil vectors for the failing chunk")
	}
	if errs[2] != nil || vectors[2] == nil {
		t.Errorf("expected the second chunk to succeed, got %v", errs[2])
	}
}

func TestBatchProcessor_EmbedAll_Empty(t *testing.T) {
	vectors, errs := NewBatchProcessor(&mockEmbedder{}, 2, 0).EmbedAll(context.Background(), nil)
	if len(vectors) != 0 || len(errs) != 0 {
		t.Errorf("expected empty output, got %d vectors", len(vectors))
	}
}

func TestBatchProcessor_EmbedAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errs := NewBatchProcessor(&mockEmbedder{}, 1, 1).EmbedAll(ctx, []string{"a", "b", "c"})
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == 0 {
		t.Error("expected skipped positions to report an error")
	}
}

func TestReadListFile(t *testing.T) {
	content := `corpus/snopes.yaml
# comment
corpus/politifact.json
   
corpus/snopes.yaml
corpus/afp.yml   `

	tmpfile, err := os.CreateTemp("", "corpus-list")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	paths, err := ReadListFile(tmpfile.Name())
	if err != nil {
		t.Fatalf("ReadListFile failed: %v", err)
	}

	expected := []string{"corpus/snopes.yaml", "corpus/politifact.json", "corpus/afp.yml"}
	if len(paths) != len(expected) {
		t.Fatalf("expected %d paths, got %d", len(expected), len(paths))
	}
	for i, p := range paths {
		if p != expected[i] {
			t.Errorf("expected %s at index %d, got %s", expected[i], i, p)
		}
	}
}

func TestReadListFile_NonExistent(t *testing.T) {
	if _, err := ReadListFile("non_existent_file.txt"); err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestEmbedResult_GetError(t *testing.T) {
	expected := errors.New("embed failed")
	r := &EmbedResult{Error: expected}
	if r.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r.GetError())
	}
}
