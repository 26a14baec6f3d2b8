package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
)

type factCheckRequest struct {
	Claim    string `json:"claim" validate:"required,max=10000"`
	TopK     int    `json:"top_k" validate:"omitempty,min=1"`
	Detailed bool   `json:"detailed"`
}

type evidenceRecord struct {
	ID          string     `json:"id"`
	Claim       string     `json:"claim"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Rating      string     `json:"rating"`
	PublishedAt *time.Time `json:"published_at"`
	Score       float64    `json:"score"`
}

type evidenceBlock struct {
	Text    string           `json:"text"`
	Records []evidenceRecord `json:"records"`
}

type factCheckResponse struct {
	ID             string         `json:"id"`
	Verdict        model.Verdict  `json:"verdict"`
	Summary        string         `json:"summary"`
	Confidence     int            `json:"confidence"`
	Sources        []string       `json:"sources"`
	Evidence       *evidenceBlock `json:"evidence,omitempty"`
	ProcessingTime int64          `json:"processing_time"`
}

type searchResult struct {
	ID          string     `json:"id"`
	Score       float64    `json:"score"`
	Claim       string     `json:"claim"`
	Verdict     string     `json:"verdict"`
	Source      string     `json:"source"`
	SourceURL   string     `json:"source_url"`
	PublishedAt *time.Time `json:"published_at"`
}

type healthResponse struct {
	Status     string `json:"status"`
	IndexCount int    `json:"index_count"`
	Provider   string `json:"provider"`
	Version    string `json:"version,omitempty"`
}

func (s *Server) handleFactCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := ParseJSON[factCheckRequest](r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	res, err := s.pipeline.Check(r.Context(), pipeline.CheckRequest{
		Claim:    req.Claim,
		TopK:     req.TopK,
		Detailed: req.Detailed,
	})
	if err != nil {
		RespondError(w, r, err)
		return
	}

	out := factCheckResponse{
		ID:         uuid.NewString(),
		Verdict:    res.Response.Verdict,
		Summary:    res.Response.Summary,
		Confidence: res.Response.Confidence,
		Sources:    res.Response.Sources,
	}
	if req.Detailed {
		block := &evidenceBlock{Text: res.EvidenceText, Records: make([]evidenceRecord, len(res.Evidence))}
		for i, e := range res.Evidence {
			block.Records[i] = evidenceRecord{
				ID:          e.Record.ID,
				Claim:       e.Record.Claim,
				Source:      e.Record.Source,
				URL:         e.Record.URL,
				Rating:      e.Record.Rating,
				PublishedAt: published(e.Record),
				Score:       e.Score,
			}
		}
		out.Evidence = block
	}
	out.ProcessingTime = time.Since(start).Milliseconds()
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		RespondError(w, r, perr.WithField(perr.Validationf("q is a required field"), "q"))
		return
	}
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(w, r, perr.WithField(perr.Validationf("top_k must be an integer"), "top_k"))
			return
		}
		topK = n
		if topK == 0 {
			topK = -1 // explicit zero is out of range
		}
	}

	results, err := s.pipeline.Search(r.Context(), q, topK)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			ID:          res.Record.ID,
			Score:       res.Score,
			Claim:       res.Record.Claim,
			Verdict:     res.Record.Verdict,
			Source:      res.Record.Source,
			SourceURL:   res.Record.URL,
			PublishedAt: published(res.Record),
		}
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.pipeline.Sources(r.Context())
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	JSON(w, http.StatusOK, sources)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := healthResponse{Status: "ok", Provider: s.pipeline.ProviderName(), Version: s.version}
	if out.Provider == "" {
		out.Provider = "none"
	}
	n, err := s.pipeline.Count(r.Context())
	if err != nil {
		out.Status = "degraded"
		JSON(w, http.StatusServiceUnavailable, out)
		return
	}
	out.IndexCount = n
	JSON(w, http.StatusOK, out)
}

func published(r model.FactCheckRecord) *time.Time {
	if r.PublishedAt.IsZero() {
		return nil
	}
	t := r.PublishedAt.UTC()
	return &t
}

func errNotFound(r *http.Request) error {
	return perr.NotFoundf("no route for %s %s", r.Method, r.URL.Path)
}

func errMethod(r *http.Request) error {
	return perr.Newf(perr.ErrorCodeValidation, "method %s not allowed on %s", r.Method, r.URL.Path)
}
