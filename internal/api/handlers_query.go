package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nxen/ragtree/internal/store"
)

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

const defaultTopK = 5

// handleSearch embeds the query and returns the nearest chunks.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	results, err := s.searchChunks(r, req)
	if err != nil {
		s.log.Error("search failed", "error", err)
		jsonError(w, "search failed", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		out = append(out, map[string]any{
			"id":       res.ID,
			"text":     res.Text,
			"metadata": res.Metadata,
			"distance": res.Distance,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": out})
}

// handleQuery embeds the query, retrieves the nearest chunks and asks
// the chat model to answer from them.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	results, err := s.searchChunks(r, req)
	if err != nil {
		s.log.Error("retrieval failed", "error", err)
		jsonError(w, "retrieval failed", http.StatusInternalServerError)
		return
	}

	var context strings.Builder
	sources := make([]map[string]any, 0, len(results))
	for i, res := range results {
		fmt.Fprintf(&context, "[%d] %s\n\n", i+1, res.Text)
		sources = append(sources, map[string]any{
			"id":       res.ID,
			"metadata": res.Metadata,
			"distance": res.Distance,
		})
	}

	system := "Answer the question using only the provided context. If the context does not contain the answer, say so."
	user := fmt.Sprintf("Context:\n%s\nQuestion: %s", context.String(), req.Query)
	answer, err := s.llm.Chat(r.Context(), system, user)
	if err != nil {
		s.log.Error("chat failed", "error", err)
		jsonError(w, "answer generation failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"answer":  answer,
		"sources": sources,
	})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	return req, true
}

func (s *Server) searchChunks(r *http.Request, req queryRequest) ([]store.SearchResult, error) {
	vectors, err := s.orchestrator.Embedder().Embed(r.Context(), []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}

	results, err := s.orchestrator.Store().Search(r.Context(), vectors[0], req.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}
