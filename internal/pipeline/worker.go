package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nxen/ragtree/internal/chunker"
	"github.com/nxen/ragtree/internal/doctree"
	"github.com/nxen/ragtree/internal/embedding"
	"github.com/nxen/ragtree/internal/parser"
	"github.com/nxen/ragtree/internal/store"
)

// embedBatchSize is how many chunks are embedded per API call.
const embedBatchSize = 10

// Worker processes a single document job: parse, chunk, embed, store.
type Worker struct {
	embedder  embedding.Client
	store     *store.PgVector
	recursive *chunker.RecursiveChunker
	faq       *chunker.FAQChunker
	log       *slog.Logger

	maxConcurrentEmbed   int
	pdfFallbackPdftotext bool
}

func NewWorker(embedder embedding.Client, st *store.PgVector, rc *chunker.RecursiveChunker, fc *chunker.FAQChunker, log *slog.Logger, maxEmbed int, pdfFallback bool) *Worker {
	return &Worker{
		embedder:             embedder,
		store:                st,
		recursive:            rc,
		faq:                  fc,
		log:                  log,
		maxConcurrentEmbed:   maxEmbed,
		pdfFallbackPdftotext: pdfFallback,
	}
}

// embedUnit is one chunk queued for embedding, with the metadata its
// stored record will carry.
type embedUnit struct {
	id     string
	text   string
	meta   map[string]any
	leafID doctree.NodeID
	isLeaf bool
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "kind", job.Kind)

	job.SetContentHash(ContentHashHex(job.FileData()))

	// Phase 1+2: parse and chunk.
	job.SetStatus(StatusParsing, "parsing")
	units, tree, err := w.buildUnits(job)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.SetTotalChunks(len(units))
	log.Info("chunked document", "chunks", len(units))

	if len(units) == 0 {
		log.Warn("no chunks produced")
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "chunking")
		return
	}

	// Phase 3: embed chunks with bounded concurrency.
	job.SetStatus(StatusEmbedding, "embedding")
	type batchResult struct {
		start   int
		vectors [][]float32
		err     error
	}
	var batches [][]embedUnit
	for start := 0; start < len(units); start += embedBatchSize {
		end := min(start+embedBatchSize, len(units))
		batches = append(batches, units[start:end])
	}

	results := make(chan batchResult, len(batches))
	sem := make(chan struct{}, w.maxConcurrentEmbed)
	for bi, batch := range batches {
		sem <- struct{}{}
		go func(start int, batch []embedUnit) {
			defer func() { <-sem }()
			texts := make([]string, len(batch))
			for i, u := range batch {
				texts[i] = u.text
			}
			var vectors [][]float32
			var lastErr error
			for attempt := range MaxRetries {
				vectors, lastErr = w.embedder.Embed(ctx, texts)
				if lastErr == nil || !IsRetryable(lastErr) {
					break
				}
				log.Warn("retryable embedding error", "batch", start, "attempt", attempt, "error", lastErr)
				select {
				case <-time.After(Backoff(attempt)):
				case <-ctx.Done():
					results <- batchResult{start: start, err: ctx.Err()}
					return
				}
			}
			results <- batchResult{start: start, vectors: vectors, err: lastErr}
		}(bi*embedBatchSize, batch)
	}

	var records []store.Record
	hadErrors := false
	for range batches {
		r := <-results
		if r.err != nil {
			log.Error("embedding failed", "batch", r.start, "error", r.err)
			job.AddError(fmt.Sprintf("embed batch %d: %s", r.start, r.err))
			hadErrors = true
			continue
		}
		job.AddChunksEmbedded(len(r.vectors))
		for i, vec := range r.vectors {
			u := units[r.start+i]
			if u.isLeaf && tree != nil {
				if err := tree.SetLeafEmbedding(u.leafID, vec); err != nil {
					log.Warn("set leaf embedding failed", "node", u.leafID, "error", err)
				}
			}
			records = append(records, store.Record{
				ID:        u.id,
				Embedding: vec,
				Text:      u.text,
				Metadata:  u.meta,
			})
		}
	}

	if len(records) == 0 {
		job.SetStatus(StatusFailed, "embedding")
		return
	}

	// Phase 4: store records.
	job.SetStatus(StatusStoring, "storing")
	if err := w.store.Upsert(ctx, records); err != nil {
		log.Error("store failed", "error", err)
		job.AddError(fmt.Sprintf("store: %s", err))
		job.SetStatus(StatusFailed, "storing")
		return
	}
	job.AddRecordsStored(len(records))

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
		log.Info("job complete with errors", "stored", len(records), "total", len(units))
		return
	}
	job.SetStatus(StatusCompleted, "done")
	log.Info("job complete", "stored", len(records))
}

// buildUnits parses the document and produces its embed units. For
// markdown documents the hierarchy tree is returned so leaf embeddings
// can be written back after the embed phase.
func (w *Worker) buildUnits(job *Job) ([]embedUnit, *doctree.Tree, error) {
	if job.Kind == KindFAQ {
		return w.buildFAQUnits(job), nil, nil
	}

	p, err := parser.ForFile(job.Filename)
	if err != nil {
		return nil, nil, err
	}
	if pp, ok := p.(*parser.PDFParser); ok {
		pp.FallbackPdftotext = w.pdfFallbackPdftotext
	}

	job.SetStatus(StatusChunking, "chunking")
	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename, job.DocID)
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}

	if doc.Tree != nil {
		return w.buildTreeUnits(job, doc.Tree), doc.Tree, nil
	}

	pages := make([]chunker.Page, len(doc.Pages))
	for i, pg := range doc.Pages {
		pages[i] = chunker.Page{Number: pg.Number, Text: pg.Text}
	}
	var units []embedUnit
	for _, ch := range w.recursive.Chunk(pages) {
		units = append(units, embedUnit{
			id:   fmt.Sprintf("%s-chunk-%d", job.DocID, ch.ChunkIndex),
			text: ch.Content,
			meta: map[string]any{
				"document_id":  job.DocID,
				"file_name":    job.Filename,
				"content_hash": job.ContentHash,
				"page":         ch.PageNumber,
				"chunk_index":  ch.ChunkIndex,
				"char_start":   ch.CharStart,
				"char_end":     ch.CharEnd,
				"token_count":  ch.TokenCount,
				"model":        ch.Model,
			},
		})
	}
	return units, nil, nil
}

func (w *Worker) buildTreeUnits(job *Job, tree *doctree.Tree) []embedUnit {
	var units []embedUnit
	for leaf := range tree.LeafNodes() {
		meta := map[string]any{
			"document_id":  job.DocID,
			"file_name":    job.Filename,
			"content_hash": job.ContentHash,
			"hierarchy":    leaf.Metadata.Hierarchy,
			"node_type":    string(leaf.Metadata.NodeType),
			"chunk_size":   leaf.Metadata.ChunkSize,
		}
		if leaf.Metadata.ImagePath != "" {
			meta["image_path"] = leaf.Metadata.ImagePath
			meta["image_alt"] = leaf.Metadata.ImageAlt
			meta["image_id"] = leaf.Metadata.ImageID
		}
		units = append(units, embedUnit{
			id:     leaf.ID.String(),
			text:   leaf.Text,
			meta:   meta,
			leafID: leaf.ID,
			isLeaf: true,
		})
	}
	return units
}

func (w *Worker) buildFAQUnits(job *Job) []embedUnit {
	job.SetStatus(StatusChunking, "chunking")
	entries := chunker.ParseFAQMarkdown(string(job.FileData()))
	var units []embedUnit
	for _, ch := range w.faq.ChunkByQA(entries) {
		units = append(units, embedUnit{
			id:   fmt.Sprintf("%s-%s", job.DocID, ch.ChunkID),
			text: ch.Content,
			meta: map[string]any{
				"document_id":  job.DocID,
				"file_name":    job.Filename,
				"content_hash": job.ContentHash,
				"faq_id":       ch.FAQID,
				"chunk_id":     ch.ChunkID,
				"category":     ch.Category,
				"title":        ch.Title,
				"token_count":  ch.TokenCount,
			},
		})
	}
	return units
}
