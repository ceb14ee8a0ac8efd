// Package assets picks library assets for new drafts.
package assets

import (
	"context"
	"fmt"

	"ferdy/internal/model"
)

// Store is the persistence the picker needs.
type Store interface {
	GetRule(ctx context.Context, id string) (model.ScheduleRule, error)
	NextAsset(ctx context.Context, brandID, subcategoryID string) (string, bool, error)
}

// Picker rotates through a subcategory's assets, least recently used first.
type Picker struct {
	store Store
}

func NewPicker(store Store) *Picker {
	return &Picker{store: store}
}

// Pick returns an asset for the rule's subcategory. ok is false when the
// subcategory has no assets, which is not an error. The asset is only
// claimed once a draft referencing it is stored.
func (p *Picker) Pick(ctx context.Context, ruleID string) (string, bool, error) {
	rule, err := p.store.GetRule(ctx, ruleID)
	if err != nil {
		return "", false, fmt.Errorf("pick asset for rule %s: %w", ruleID, err)
	}
	return p.store.NextAsset(ctx, rule.BrandID, rule.SubcategoryID)
}
