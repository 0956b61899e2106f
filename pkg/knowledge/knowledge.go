// Package knowledge holds the assistant's durable fact store: items
// grouped into four fixed categories, plus the pure merge engine that
// folds newly extracted facts into an existing base.
package knowledge

import (
	"strings"

	"github.com/google/uuid"
)

// Category identifies one of the four fixed knowledge categories.
type Category string

const (
	CategoryPersonal     Category = "personal"
	CategoryProfessional Category = "professional"
	CategoryGoals        Category = "goals"
	CategoryMisc         Category = "misc"
)

// Categories returns the fixed category order used for prompts and merges.
func Categories() []Category {
	return []Category{CategoryPersonal, CategoryProfessional, CategoryGoals, CategoryMisc}
}

// Item is one durable fact about the user.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	// ReminderSet marks an item that already produced a reminder; once
	// set it is never cleared by the engine.
	ReminderSet bool `json:"reminderSet,omitempty"`
}

// Base maps categories to ordered item lists. Absent categories mean empty.
type Base map[Category][]Item

// Clone returns a deep copy of the base.
func (b Base) Clone() Base {
	if b == nil {
		return nil
	}
	out := make(Base, len(b))
	for cat, items := range b {
		cp := make([]Item, len(items))
		copy(cp, items)
		out[cat] = cp
	}
	return out
}

// Count returns the total number of items across all categories.
func (b Base) Count() int {
	n := 0
	for _, items := range b {
		n += len(items)
	}
	return n
}

// Unarmed returns items from the given categories whose reminder flag is
// not set, in category order.
func (b Base) Unarmed(cats ...Category) []Item {
	var out []Item
	for _, cat := range cats {
		for _, item := range b[cat] {
			if !item.ReminderSet {
				out = append(out, item)
			}
		}
	}
	return out
}

// ArmReminder returns a copy of the base with the reminder flag set on
// the item with the given id. The second return is false when the id is
// not present.
func (b Base) ArmReminder(itemID string) (Base, bool) {
	out := b.Clone()
	for cat, items := range out {
		for i := range items {
			if items[i].ID == itemID {
				items[i].ReminderSet = true
				out[cat] = items
				return out, true
			}
		}
	}
	return out, false
}

// NormalizeTitle is the title identity used for dedupe: trimmed and
// lower-cased.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Merge folds incoming into base and returns a new Base; neither input
// is mutated. An incoming item is appended, with a freshly generated id,
// only when no item with the same normalized title exists in the same
// category. Existing titles win: conflicting incoming content is
// silently dropped.
func Merge(base, incoming Base) Base {
	out := base.Clone()
	if out == nil {
		out = make(Base)
	}
	for _, cat := range Categories() {
		items := incoming[cat]
		if len(items) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(out[cat]))
		for _, existing := range out[cat] {
			seen[NormalizeTitle(existing.Title)] = struct{}{}
		}
		for _, item := range items {
			key := NormalizeTitle(item.Title)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out[cat] = append(out[cat], Item{
				ID:      uuid.NewString(),
				Title:   strings.TrimSpace(item.Title),
				Content: item.Content,
			})
		}
	}
	return out
}
