package classifier

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

var (
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRe  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractJSON finds the JSON object in a model reply. Tried in order: the
// whole reply, a ```json fence, any fence, then the outermost braces.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	candidates := []string{text}
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		if json.Valid([]byte(c)) && strings.HasPrefix(strings.TrimSpace(c), "{") {
			return json.RawMessage(c), nil
		}
	}
	preview := text
	if utf8.RuneCountInString(preview) > 200 {
		preview = string([]rune(preview)[:200])
	}
	return nil, resilience.NewDataShapeError(eris.Errorf("classifier: no JSON object in response: %q", preview))
}

// flexString accepts strings, numbers, booleans and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	default:
		*f = flexString(string(b))
	}
	return nil
}

// flexInt accepts numbers and numeric strings; anything else is 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int(v))
	return nil
}

type rawItem struct {
	Level        flexInt    `json:"level"`
	CurrentValue flexString `json:"current_value"`
	TargetValue  flexString `json:"target_value"`
	TargetYear   flexString `json:"target_year"`
	Note         flexString `json:"note"`

	// Older prompt revisions split targets by horizon.
	MidTargetMin   flexString `json:"mid_target_min"`
	MidTargetYear  flexString `json:"mid_target_year"`
	LongTargetMin  flexString `json:"long_target_min"`
	LongTargetMax  flexString `json:"long_target_max"`
	LongTargetYear flexString `json:"long_target_year"`
}

type rawResult struct {
	AnalysisItems json.RawMessage `json:"analysis_items"`
	Summary       json.RawMessage `json:"summary"`
}

type rawSummary struct {
	KeyHighlights []flexString `json:"key_highlights"`
}

// ParseResult decodes a model reply into a normalized AnalysisResult.
// Unknown item ids are dropped. Missing or malformed items, including a
// missing analysis_items object, default to level 0.
func ParseResult(text string, r *model.Rubric, noteMaxRunes int) (*model.AnalysisResult, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var parsed rawResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, resilience.NewDataShapeError(eris.Wrap(err, "classifier: decode response"))
	}

	res := &model.AnalysisResult{
		PerItem:    make(map[string]model.ItemResult),
		Status:     model.AnalysisOK,
		AnalyzedAt: time.Now(),
	}
	for id, it := range decodeItems(parsed.AnalysisItems) {
		target, year := string(it.TargetValue), string(it.TargetYear)
		if target == "" {
			target = firstNonEmpty(rangeOf(it.LongTargetMin, it.LongTargetMax), string(it.MidTargetMin))
		}
		if year == "" {
			year = firstNonEmpty(string(it.LongTargetYear), string(it.MidTargetYear))
		}
		res.PerItem[id] = model.ItemResult{
			Level:        int(it.Level),
			CurrentValue: string(it.CurrentValue),
			TargetValue:  target,
			TargetYear:   year,
			Note:         clip(string(it.Note), noteMaxRunes),
		}
	}

	var summary rawSummary
	if len(parsed.Summary) > 0 {
		if err := json.Unmarshal(parsed.Summary, &summary); err != nil {
			zap.L().Debug("classifier: ignoring malformed summary", zap.Error(err))
		}
	}
	var highlights []string
	for _, h := range summary.KeyHighlights {
		if h != "" {
			highlights = append(highlights, string(h))
		}
	}
	res.Summary = strings.Join(highlights, "; ")
	res.Normalize(r)
	return res, nil
}

// decodeItems decodes each item on its own so one malformed value does not
// discard the rest. Malformed items come back as zero values.
func decodeItems(raw json.RawMessage) map[string]rawItem {
	out := make(map[string]rawItem)
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		zap.L().Debug("classifier: analysis_items is not an object", zap.Error(err))
		return out
	}
	for id, b := range items {
		id = strings.TrimSpace(id)
		var it rawItem
		if err := json.Unmarshal(b, &it); err != nil {
			zap.L().Debug("classifier: defaulting malformed item", zap.String("item_id", id), zap.Error(err))
			it = rawItem{}
		}
		out[id] = it
	}
	return out
}

func rangeOf(lo, hi flexString) string {
	if lo == "" || hi == "" || lo == hi {
		return firstNonEmpty(string(lo), string(hi))
	}
	return string(lo) + "~" + string(hi)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
