package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestL2Normalize(t *testing.T) {
	vec, err := l2Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("expected [0.6 0.8], got %v", vec)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("expected unit norm, got %f", math.Sqrt(sum))
	}
}

func TestL2Normalize_Rejects(t *testing.T) {
	if _, err := l2Normalize(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
	if _, err := l2Normalize([]float32{0, 0, 0}); err == nil {
		t.Fatal("expected error for zero vector")
	}
}

func TestDimensionForModel(t *testing.T) {
	if d := DimensionForModel("text-embedding-v3"); d != 2560 {
		t.Fatalf("expected 2560, got %d", d)
	}
	if d := DimensionForModel("text-embedding-v2"); d != 1536 {
		t.Fatalf("expected 1536, got %d", d)
	}
}

func TestEmbed_NormalizesAndReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		// Respond out of order; the client must sort by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 2}},
				{"index": 0, "embedding": []float32{3, 4}},
			},
		})
	}))
	defer srv.Close()

	c := NewDashScopeClient(srv.URL, "test-key", "text-embedding-v2")
	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if math.Abs(float64(vectors[0][0])-0.6) > 1e-6 {
		t.Fatalf("first vector not index 0 normalized: %v", vectors[0])
	}
	if math.Abs(float64(vectors[1][1])-1.0) > 1e-6 {
		t.Fatalf("second vector not normalized: %v", vectors[1])
	}
}

func TestEmbed_RetryableOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewDashScopeClient(srv.URL, "test-key", "text-embedding-v2")
	_, err := c.Embed(context.Background(), []string{"a"})
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if re.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", re.StatusCode)
	}
}

func TestEmbed_SplitsLargeBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{1, 0}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c := NewDashScopeClient(srv.URL, "test-key", "text-embedding-v2")
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = "text"
	}
	vectors, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 23 {
		t.Fatalf("expected 23 vectors, got %d", len(vectors))
	}
	if calls != 3 {
		t.Fatalf("expected 3 requests for 23 inputs, got %d", calls)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewDashScopeClient("http://unused", "k", "text-embedding-v2")
	vectors, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 0 {
		t.Fatalf("expected no vectors, got %d", len(vectors))
	}
}
