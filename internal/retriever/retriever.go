// Package retriever downloads the filing behind a disclosure entry and
// extracts its text, falling back across strategies.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/fetcher"
	"github.com/sells-group/valueup-cli/internal/kind"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/ocr"
	"github.com/sells-group/valueup-cli/internal/store"
)

// Source resolves and downloads documents. *kind.Client implements it.
type Source interface {
	AttachmentURL(ctx context.Context, e model.DisclosureEntry) (string, error)
	Download(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

// Cache is the document cache subset of store.Store.
type Cache interface {
	GetCachedDocument(ctx context.Context, entryID string) (*store.CachedDocument, error)
	SetCachedDocument(ctx context.Context, doc store.CachedDocument, ttl time.Duration) error
}

// Failure is returned when no strategy produced any document bytes.
type Failure struct {
	EntryID  string
	Attempts []error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("retriever: no document for %s after %d attempts: %v", f.EntryID, len(f.Attempts), errors.Join(f.Attempts...))
}

func (f *Failure) Unwrap() []error { return f.Attempts }

// Options configures retrieval.
type Options struct {
	// MinTextChars is the non-space rune count below which extracted text
	// counts as empty.
	MinTextChars int
	MaxPDFBytes  int
	// CacheTTL enables the document cache when positive.
	CacheTTL time.Duration
}

// Retriever runs the attachment → primary PDF → none chain.
type Retriever struct {
	src       Source
	extractor ocr.Extractor
	cache     Cache
	opts      Options
}

// New creates a Retriever. cache may be nil.
func New(src Source, extractor ocr.Extractor, cache Cache, opts Options) *Retriever {
	if opts.MinTextChars <= 0 {
		opts.MinTextChars = 100
	}
	return &Retriever{src: src, extractor: extractor, cache: cache, opts: opts}
}

type candidate struct {
	method model.ExtractionMethod
	url    string
	body   []byte
	text   string
}

// Retrieve returns the document for e. A PDF whose text is empty or too
// short is still returned with method "none" and its bytes attached so
// document-capable providers can read it directly.
func (r *Retriever) Retrieve(ctx context.Context, e model.DisclosureEntry) (*model.ExtractedDocument, error) {
	log := zap.L().With(zap.String("entry_id", e.UniqueID))

	if doc := r.fromCache(ctx, e.UniqueID); doc != nil {
		log.Debug("retriever: cache hit", zap.String("method", string(doc.ExtractionMethod)))
		return doc, nil
	}

	var (
		attempts []error
		fallback *candidate
	)

	strategies := make([]func(context.Context) (*candidate, error), 0, 2)
	if e.ViewerURL != "" {
		strategies = append(strategies, func(ctx context.Context) (*candidate, error) {
			u, err := r.src.AttachmentURL(ctx, e)
			if err != nil {
				return nil, err
			}
			return r.download(ctx, model.ExtractionAttachment, u)
		})
	}
	if e.SourceDocumentURL != "" {
		strategies = append(strategies, func(ctx context.Context) (*candidate, error) {
			return r.download(ctx, model.ExtractionPrimaryPDF, e.SourceDocumentURL)
		})
	}

	for _, run := range strategies {
		c, err := run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("retriever: strategy failed, trying next", zap.Error(err))
			attempts = append(attempts, err)
			continue
		}
		if ocr.Usable(c.text, r.opts.MinTextChars) {
			doc := r.document(e.UniqueID, c, c.method)
			r.toCache(ctx, doc)
			return doc, nil
		}
		log.Debug("retriever: extracted text below threshold",
			zap.String("method", string(c.method)),
			zap.Int("bytes", len(c.body)),
		)
		if fallback == nil {
			fallback = c
		}
	}

	if fallback == nil {
		if len(attempts) == 0 {
			attempts = append(attempts, eris.New("retriever: entry has no document links"))
		}
		return nil, &Failure{EntryID: e.UniqueID, Attempts: attempts}
	}

	log.Info("retriever: no usable text, forwarding raw bytes", zap.Int("bytes", len(fallback.body)))
	doc := r.document(e.UniqueID, fallback, model.ExtractionNone)
	r.toCache(ctx, doc)
	return doc, nil
}

func (r *Retriever) download(ctx context.Context, method model.ExtractionMethod, rawURL string) (*candidate, error) {
	resp, err := r.src.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !kind.IsPDF(resp.ContentType(), resp.Body) {
		return nil, eris.Errorf("retriever: %s is not a pdf (content-type %q)", method, resp.ContentType())
	}
	if r.opts.MaxPDFBytes > 0 && len(resp.Body) > r.opts.MaxPDFBytes {
		return nil, eris.Errorf("retriever: %s pdf is %d bytes, limit %d", method, len(resp.Body), r.opts.MaxPDFBytes)
	}

	c := &candidate{method: method, url: rawURL, body: resp.Body}
	if r.extractor != nil {
		text, err := r.extractor.ExtractText(ctx, resp.Body)
		if err != nil {
			zap.L().Warn("retriever: text extraction failed", zap.String("method", string(method)), zap.Error(err))
		}
		c.text = text
	}
	return c, nil
}

func (r *Retriever) document(entryID string, c *candidate, method model.ExtractionMethod) *model.ExtractedDocument {
	doc := &model.ExtractedDocument{
		EntryID:          entryID,
		ExtractionMethod: method,
		ByteSize:         len(c.body),
		Bytes:            c.body,
		SourceURL:        c.url,
	}
	if method != model.ExtractionNone {
		text := c.text
		doc.RawText = &text
	}
	return doc
}

func (r *Retriever) fromCache(ctx context.Context, entryID string) *model.ExtractedDocument {
	if r.cache == nil || r.opts.CacheTTL <= 0 {
		return nil
	}
	cached, err := r.cache.GetCachedDocument(ctx, entryID)
	if err != nil {
		zap.L().Warn("retriever: cache read failed", zap.String("entry_id", entryID), zap.Error(err))
		return nil
	}
	if cached == nil {
		return nil
	}
	return &model.ExtractedDocument{
		EntryID:          cached.EntryID,
		RawText:          cached.Text,
		ExtractionMethod: cached.Method,
		ByteSize:         len(cached.Content),
		Bytes:            cached.Content,
		SourceURL:        cached.SourceURL,
		Cached:           true,
	}
}

func (r *Retriever) toCache(ctx context.Context, doc *model.ExtractedDocument) {
	if r.cache == nil || r.opts.CacheTTL <= 0 {
		return
	}
	err := r.cache.SetCachedDocument(ctx, store.CachedDocument{
		EntryID:   doc.EntryID,
		Method:    doc.ExtractionMethod,
		SourceURL: doc.SourceURL,
		Content:   doc.Bytes,
		Text:      doc.RawText,
	}, r.opts.CacheTTL)
	if err != nil {
		zap.L().Warn("retriever: cache write failed", zap.String("entry_id", doc.EntryID), zap.Error(err))
	}
}
