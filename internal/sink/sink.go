// Package sink delivers crawl results to their consumers.
package sink

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/crawler"
	"github.com/JakeFAU/litcrawler/internal/storage"
)

// Stdout is the output path that selects standard output.
const Stdout = "-"

type record struct {
	crawler.CrawlResult
	PayloadURI string `json:"payload_uri,omitempty"`
}

// JSONL writes one JSON object per result. Binary payloads are handed to a
// BlobStore and referenced by URI.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	blobs  storage.BlobStore
	logger *zap.Logger
}

// NewJSONL writes to w. blobs may be nil, in which case payloads are dropped.
func NewJSONL(w io.Writer, blobs storage.BlobStore, logger *zap.Logger) *JSONL {
	if logger == nil {
		logger = zap.NewNop()
	}
	bw := bufio.NewWriter(w)
	return &JSONL{w: bw, enc: json.NewEncoder(bw), blobs: blobs, logger: logger}
}

// OpenJSONL creates path, or uses stdout when path is Stdout.
func OpenJSONL(path string, blobs storage.BlobStore, logger *zap.Logger) (*JSONL, error) {
	if path == Stdout || path == "" {
		return NewJSONL(os.Stdout, blobs, logger), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	s := NewJSONL(f, blobs, logger)
	s.closer = f
	return s, nil
}

// Write appends result and flushes so partial crawls leave complete lines.
func (s *JSONL) Write(ctx context.Context, result crawler.CrawlResult) error {
	rec := record{CrawlResult: result}
	if len(result.Metadata.RawPayload) > 0 && s.blobs != nil {
		uri, err := s.blobs.Put(ctx, PayloadKey(result.Metadata.ContentType, result.Metadata.RawPayload),
			result.Metadata.ContentType, result.Metadata.RawPayload)
		if err != nil {
			s.logger.Warn("payload store failed", zap.String("url", result.URL), zap.Error(err))
		} else {
			rec.PayloadURI = uri
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the file opened by OpenJSONL.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// PayloadKey names a payload by its content digest, sharded by the first
// byte, with an extension derived from the media type when one is known.
func PayloadKey(contentType string, data []byte) string {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	ext := ".bin"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return digest[:2] + "/" + digest + ext
}

// Tee fans each result out to every sink and joins their errors.
type Tee []crawler.ResultSink

// Write delivers result to every sink, even after one fails.
func (t Tee) Write(ctx context.Context, result crawler.CrawlResult) error {
	var errs []error
	for _, s := range t {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
