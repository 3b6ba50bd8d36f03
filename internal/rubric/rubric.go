// Package rubric loads the value-up evaluation framework.
package rubric

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/sheets"
	"github.com/sells-group/valueup-cli/pkg/notion"
)

// Source loads a rubric.
type Source interface {
	Load(ctx context.Context) (*model.Rubric, error)
}

// SheetSource reads the Framework tab. Rows are records keyed by the
// header row; the section column selects META, GUIDE or ITEM handling.
type SheetSource struct {
	Sheet sheets.Client
	Tab   string
}

func (s *SheetSource) Load(ctx context.Context) (*model.Rubric, error) {
	rows, err := s.Sheet.ReadRows(ctx, s.Tab)
	if err != nil {
		return nil, eris.Wrapf(err, "rubric: read %s", s.Tab)
	}
	r, err := FromRecords(records(rows))
	if err != nil {
		return nil, err
	}
	logLoaded("sheets", r)
	return r, nil
}

// records zips each data row with the header row.
func records(rows [][]string) []map[string]string {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if h != "" && i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, rec)
	}
	return out
}

// FromRecords builds a rubric from Framework records. META rows carry
// "버전:" and "최종수정일:" in description, GUIDE rows carry extraction
// rules and ITEM rows carry items. Items without an id are skipped.
func FromRecords(recs []map[string]string) (*model.Rubric, error) {
	r := &model.Rubric{}
	for _, rec := range recs {
		desc := rec["description"]
		switch rec["section"] {
		case "META":
			switch {
			case strings.Contains(desc, "버전:"):
				r.Version = afterColon(desc)
			case strings.Contains(desc, "최종수정일:"):
				r.UpdatedAt = afterColon(desc)
			}
		case "GUIDE":
			if desc != "" && !strings.HasPrefix(desc, "---") {
				r.Guide = append(r.Guide, desc)
			}
		case "ITEM":
			if rec["item_id"] == "" {
				continue
			}
			r.Items = append(r.Items, model.RubricItem{
				ItemID:       rec["item_id"],
				Area:         rec["area_id"],
				AreaName:     rec["area_name"],
				Category:     rec["category_id"],
				CategoryName: rec["category_name"],
				Name:         rec["item_name"],
				NameEn:       rec["item_name_en"],
				Unit:         rec["unit"],
				IsCore:       ParseBool(rec["is_core"]),
				DataType:     rec["data_type"],
				Description:  desc,
				Keywords:     SplitKeywords(rec["extraction_keywords"]),
			})
		}
	}
	if err := r.Validate(); err != nil {
		return nil, eris.Wrap(err, "rubric: invalid framework")
	}
	return r, nil
}

func afterColon(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s)
}

// ParseBool accepts 1, 1.0, true, y and yes, case-insensitively.
func ParseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "y", "yes":
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f != 0
}

// SplitKeywords splits a ';'-separated keyword list, dropping blanks.
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ";") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// FileSource reads a YAML rubric from disk.
type FileSource struct {
	Path string
}

func (s *FileSource) Load(_ context.Context) (*model.Rubric, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "rubric: read %s", s.Path)
	}
	var r model.Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "rubric: parse %s", s.Path)
	}
	if err := r.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rubric: invalid %s", s.Path)
	}
	logLoaded("file", &r)
	return &r, nil
}

// NotionSource reads rubric items from a Notion database, one page per
// item. The title property is "Name"; other columns use the Framework
// record names.
type NotionSource struct {
	Client     notion.Client
	DatabaseID string
}

func (s *NotionSource) Load(ctx context.Context) (*model.Rubric, error) {
	pages, err := notion.QueryAll(ctx, s.Client, s.DatabaseID, &notionapi.DatabaseQueryRequest{
		Sorts: []notionapi.SortObject{{Property: "item_id", Direction: notionapi.SortOrderASC}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "rubric: query notion")
	}

	r := &model.Rubric{Version: "notion"}
	for _, p := range pages {
		props := p.Properties
		id := notion.Text(props, "item_id")
		if id == "" {
			continue
		}
		r.Items = append(r.Items, model.RubricItem{
			ItemID:       id,
			Area:         notion.Text(props, "area_id"),
			AreaName:     notion.Text(props, "area_name"),
			Category:     notion.Text(props, "category_id"),
			CategoryName: notion.Text(props, "category_name"),
			Name:         notion.Text(props, "Name"),
			NameEn:       notion.Text(props, "item_name_en"),
			Unit:         notion.Text(props, "unit"),
			IsCore:       notion.Checkbox(props, "is_core"),
			DataType:     notion.Text(props, "data_type"),
			Description:  notion.Text(props, "description"),
			Keywords:     notion.MultiText(props, "extraction_keywords"),
		})
		if edited := p.LastEditedTime.Format("2006-01-02"); edited > r.UpdatedAt {
			r.UpdatedAt = edited
		}
	}
	if err := r.Validate(); err != nil {
		return nil, eris.Wrap(err, "rubric: invalid notion database")
	}
	logLoaded("notion", r)
	return r, nil
}

func logLoaded(source string, r *model.Rubric) {
	zap.L().Info("rubric: loaded",
		zap.String("source", source),
		zap.String("version", r.Version),
		zap.Int("items", len(r.Items)),
		zap.Int("core", len(r.Core())),
	)
}
