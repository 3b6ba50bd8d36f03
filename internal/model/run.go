package model

import (
	"fmt"
	"time"
)

// RunStatus is the ledger state of one pipeline invocation.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary is the user-visible count report of a run.
type RunSummary struct {
	Fetched  int `json:"fetched"`
	Skipped  int `json:"skipped"`
	Analyzed int `json:"analyzed"`
	Errored  int `json:"errored"`
	Uploaded int `json:"uploaded"`
	// FetchError is set when listing stopped early but some entries were
	// still collected and processed.
	FetchError string `json:"fetch_error,omitempty"`
	Fatal      string `json:"fatal,omitempty"`
}

// String renders the summary as a single line.
func (s RunSummary) String() string {
	return fmt.Sprintf("fetched=%d skipped=%d analyzed=%d errored=%d uploaded=%d",
		s.Fetched, s.Skipped, s.Analyzed, s.Errored, s.Uploaded)
}

// Outcome records what happened to one entry during a run.
type Outcome struct {
	Entry        DisclosureEntry  `json:"entry"`
	Method       ExtractionMethod `json:"extraction_method,omitempty"`
	Result       *AnalysisResult  `json:"result,omitempty"`
	DocumentLink string           `json:"document_link,omitempty"`
	Uploaded     bool             `json:"uploaded"`
	Archived     bool             `json:"archived"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// Run is one pipeline invocation recorded in the local ledger.
type Run struct {
	ID        string      `json:"id"`
	Window    string      `json:"window"`
	Provider  string      `json:"provider"`
	DryRun    bool        `json:"dry_run"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
