package model

import (
	"time"
)

// KST is the time zone KIND publishes disclosure timestamps in.
var KST = time.FixedZone("KST", 9*60*60)

// DisclosureEntry is one value-up filing as listed on KIND.
// UniqueID is the KIND receipt number (acptno) and is the natural key
// everywhere downstream.
type DisclosureEntry struct {
	UniqueID          string    `json:"unique_id"`
	CompanyName       string    `json:"company_name"`
	StockCode         string    `json:"stock_code"`
	Title             string    `json:"title"`
	PublishedAt       time.Time `json:"published_at"`
	SourceDocumentURL string    `json:"source_document_url"`
	ViewerURL         string    `json:"viewer_url,omitempty"`
}

// ReportDate returns the publication date formatted as YYYY-MM-DD in KST.
func (e DisclosureEntry) ReportDate() string {
	return e.PublishedAt.In(KST).Format("2006-01-02")
}

// DateWindow is an inclusive publication-date range. A zero Start or End
// leaves that side open.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// String renders the window for logs and the run ledger.
func (w DateWindow) String() string {
	start, end := "*", "*"
	if !w.Start.IsZero() {
		start = w.Start.In(KST).Format("2006-01-02")
	}
	if !w.End.IsZero() {
		end = w.End.In(KST).Format("2006-01-02")
	}
	return start + ".." + end
}

// ExtractionMethod records which retrieval strategy produced a document.
type ExtractionMethod string

const (
	ExtractionAttachment ExtractionMethod = "attachment"
	ExtractionPrimaryPDF ExtractionMethod = "primary_pdf"
	ExtractionNone       ExtractionMethod = "none"
)

// ExtractedDocument is the retrieved filing for one entry. RawText is nil
// when no usable text could be extracted; Bytes then carries the binary for
// providers that accept documents directly.
type ExtractedDocument struct {
	EntryID          string           `json:"entry_id"`
	RawText          *string          `json:"raw_text,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	ByteSize         int              `json:"byte_size"`
	Bytes            []byte           `json:"-"`
	SourceURL        string           `json:"source_url,omitempty"`
	Cached           bool             `json:"cached,omitempty"`
}

// Text returns the extracted text or "" when none is available.
func (d *ExtractedDocument) Text() string {
	if d == nil || d.RawText == nil {
		return ""
	}
	return *d.RawText
}

// HasText reports whether the document carries extracted text.
func (d *ExtractedDocument) HasText() bool {
	return d.Text() != ""
}
