package classifier

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/valueup-cli/internal/cost"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

// Options configures call pacing, retries and input shaping.
type Options struct {
	// MaxInputChars bounds the text body; longer text is head+tail truncated.
	MaxInputChars int
	// PDFDirect sends document bytes to providers that accept them.
	PDFDirect bool
	// MinDelay is the minimum spacing between provider calls.
	MinDelay time.Duration
	// NoteMaxRunes clips per-item notes.
	NoteMaxRunes int
	Retry        resilience.RetryConfig
}

// Classifier runs the primary provider and falls back to the secondary.
type Classifier struct {
	primary   Provider
	secondary Provider
	limiter   *rate.Limiter
	opts      Options
}

// New creates a Classifier. secondary may be nil.
func New(primary, secondary Provider, opts Options) *Classifier {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 30000
	}
	if opts.NoteMaxRunes <= 0 {
		opts.NoteMaxRunes = 100
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	limit := rate.Inf
	if opts.MinDelay > 0 {
		limit = rate.Every(opts.MinDelay)
	}
	return &Classifier{
		primary:   primary,
		secondary: secondary,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
	}
}

// Primary returns the primary provider id.
func (c *Classifier) Primary() ProviderID { return c.primary.ID() }

// Classify scores one document. On failure it returns an error-status
// result alongside the error; quota exhaustion skips the fallback.
func (c *Classifier) Classify(ctx context.Context, r *model.Rubric, e model.DisclosureEntry, doc *model.ExtractedDocument) (*model.AnalysisResult, error) {
	log := zap.L().With(zap.String("acptno", e.UniqueID), zap.String("company", e.CompanyName))

	res, err := c.classifyWith(ctx, c.primary, r, e, doc)
	if err == nil {
		return res, nil
	}
	if c.secondary != nil && !resilience.IsQuotaExhausted(err) && ctx.Err() == nil {
		log.Warn("classifier: primary failed, trying secondary",
			zap.String("primary", string(c.primary.ID())),
			zap.String("secondary", string(c.secondary.ID())),
			zap.Error(err),
		)
		res, secErr := c.classifyWith(ctx, c.secondary, r, e, doc)
		if secErr == nil {
			return res, nil
		}
		if resilience.IsQuotaExhausted(secErr) {
			err = secErr
		} else {
			err = errors.Join(err, secErr)
		}
	}

	err = eris.Wrapf(err, "classifier: %s", e.UniqueID)
	out := model.NewErrorResult(e.UniqueID, r, err)
	out.Usage.EstimatedTokens = estimate(doc)
	return out, err
}

type variant struct {
	name      string
	req       Request
	truncated bool
}

// variants lists the inputs to try with p, PDF first.
func (c *Classifier) variants(p Provider, system string, e model.DisclosureEntry, doc *model.ExtractedDocument) []variant {
	caps := p.Capabilities()
	var out []variant
	if caps.Documents && c.opts.PDFDirect && doc != nil && len(doc.Bytes) > 0 {
		out = append(out, variant{
			name: "pdf_direct",
			req:  Request{EntryID: e.UniqueID, System: system, Prompt: UserPrompt(e, ""), PDF: doc.Bytes},
		})
	}
	if text := doc.Text(); text != "" && utf8.RuneCountInString(text) >= caps.MinTextChars {
		body, truncated := Truncate(text, c.opts.MaxInputChars)
		out = append(out, variant{
			name:      "text",
			req:       Request{EntryID: e.UniqueID, System: system, Prompt: UserPrompt(e, body)},
			truncated: truncated,
		})
	}
	return out
}

func (c *Classifier) classifyWith(ctx context.Context, p Provider, r *model.Rubric, e model.DisclosureEntry, doc *model.ExtractedDocument) (*model.AnalysisResult, error) {
	log := zap.L().With(zap.String("acptno", e.UniqueID), zap.String("provider", string(p.ID())))

	variants := c.variants(p, SystemPrompt(r), e, doc)
	if len(variants) == 0 {
		return nil, resilience.NewDataShapeError(eris.Errorf("classifier: %s: no usable input (text %d chars)", p.ID(), utf8.RuneCountInString(doc.Text())))
	}

	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("classifier", string(p.ID()))
	}

	var spent Usage
	var errs []error
	for _, v := range variants {
		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return p.Classify(ctx, v.req)
		})
		if err != nil {
			if resilience.IsQuotaExhausted(err) || ctx.Err() != nil {
				return nil, err
			}
			log.Warn("classifier: attempt failed", zap.String("input", v.name), zap.Error(err))
			errs = append(errs, eris.Wrapf(err, "classifier: %s %s", p.ID(), v.name))
			continue
		}
		spent = addUsage(spent, resp.Usage)

		res, err := ParseResult(resp.Raw, r, c.opts.NoteMaxRunes)
		if err != nil {
			log.Warn("classifier: unparseable response", zap.String("input", v.name), zap.Error(err))
			errs = append(errs, err)
			continue
		}

		res.EntryID = e.UniqueID
		res.Provider = string(p.ID())
		res.Model = resp.Model
		res.Truncated = v.truncated
		res.Usage = model.Usage{
			InputTokens:     spent.InputTokens,
			OutputTokens:    spent.OutputTokens,
			EstimatedTokens: estimate(doc),
			CostUSD:         spent.CostUSD,
		}
		log.Info("classifier: analyzed",
			zap.String("input", v.name),
			zap.Int("mentioned", res.MentionedItemCount),
			zap.Int("core_mentioned", res.CoreMentionedCount),
		)
		return res, nil
	}
	return nil, errors.Join(errs...)
}

func addUsage(a, b Usage) Usage {
	return Usage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		CostUSD:          a.CostUSD + b.CostUSD,
	}
}

// estimate approximates input tokens for the document: from text when
// present, otherwise from the PDF size.
func estimate(doc *model.ExtractedDocument) int64 {
	if doc == nil {
		return 0
	}
	if doc.HasText() {
		return cost.EstimateTokens(doc.Text())
	}
	return cost.EstimateDocumentTokens(doc.ByteSize)
}
