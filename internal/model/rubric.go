package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// RubricItem is one scoring dimension of the value-up framework.
type RubricItem struct {
	ItemID       string   `json:"item_id" yaml:"item_id"`
	Area         string   `json:"area" yaml:"area"`
	AreaName     string   `json:"area_name" yaml:"area_name"`
	Category     string   `json:"category" yaml:"category"`
	CategoryName string   `json:"category_name" yaml:"category_name"`
	Name         string   `json:"name" yaml:"name"`
	NameEn       string   `json:"name_en,omitempty" yaml:"name_en"`
	Unit         string   `json:"unit,omitempty" yaml:"unit"`
	IsCore       bool     `json:"is_core" yaml:"is_core"`
	DataType     string   `json:"data_type,omitempty" yaml:"data_type"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords"`
}

// Rubric is the framework loaded once per run. Items keep source order.
type Rubric struct {
	Version   string       `json:"version" yaml:"version"`
	UpdatedAt string       `json:"updated_at" yaml:"updated_at"`
	Guide     []string     `json:"guide,omitempty" yaml:"guide"`
	Items     []RubricItem `json:"items" yaml:"items"`
}

// IDs returns item ids in rubric order.
func (r *Rubric) IDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ItemID
	}
	return ids
}

// Item looks up an item by id.
func (r *Rubric) Item(id string) (RubricItem, bool) {
	for _, it := range r.Items {
		if it.ItemID == id {
			return it, true
		}
	}
	return RubricItem{}, false
}

// Core returns the core items.
func (r *Rubric) Core() []RubricItem {
	var out []RubricItem
	for _, it := range r.Items {
		if it.IsCore {
			out = append(out, it)
		}
	}
	return out
}

// Validate checks that the rubric is non-empty and ids are unique.
func (r *Rubric) Validate() error {
	if len(r.Items) == 0 {
		return eris.New("model: rubric has no items")
	}
	seen := make(map[string]bool, len(r.Items))
	for _, it := range r.Items {
		if it.ItemID == "" {
			return eris.Errorf("model: rubric item %q has empty id", it.Name)
		}
		if seen[it.ItemID] {
			return eris.Errorf("model: duplicate rubric item id %q", it.ItemID)
		}
		seen[it.ItemID] = true
	}
	return nil
}

// PromptText renders the rubric grouped by area and category for the
// classifier system prompt.
func (r *Rubric) PromptText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 기업가치 제고 계획 평가 프레임워크 (v%s, %s)\n", r.Version, r.UpdatedAt)
	if len(r.Guide) > 0 {
		b.WriteString("\n## 평가 가이드\n")
		for _, g := range r.Guide {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	b.WriteString("\n## 평가 항목\n")
	area, category := "", ""
	for _, it := range r.Items {
		if it.Area != area {
			area, category = it.Area, ""
			fmt.Fprintf(&b, "\n### [%s] %s\n", it.Area, it.AreaName)
		}
		if it.Category != category {
			category = it.Category
			fmt.Fprintf(&b, "#### [%s] %s\n", it.Category, it.CategoryName)
		}
		core := ""
		if it.IsCore {
			core = " (Core)"
		}
		fmt.Fprintf(&b, "- %s: %s%s", it.ItemID, it.Name, core)
		if it.Unit != "" {
			fmt.Fprintf(&b, " [단위: %s]", it.Unit)
		}
		if it.Description != "" {
			fmt.Fprintf(&b, " - %s", it.Description)
		}
		if len(it.Keywords) > 0 {
			fmt.Fprintf(&b, " (키워드: %s)", strings.Join(it.Keywords, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
