package flows

import (
	"context"
	"strings"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/workflow"

	"github.com/shopspring/decimal"
)

const (
	fieldMode          = "mode"
	fieldValue         = "value"
	fieldScope         = "scope"
	fieldPriceCategory = "category"

	scopeAll      = "all"
	scopeCategory = "category"
)

var (
	modeChoices = []workflow.Choice{
		{Label: "Percentage", Value: service.AdjustPercent},
		{Label: "Fixed amount", Value: service.AdjustFixed},
	}
	scopeChoices = []workflow.Choice{
		{Label: "All medicines", Value: scopeAll},
		{Label: "One category", Value: scopeCategory},
	}
)

// PriceUpdate adjusts prices by a percentage or a fixed amount, for the whole
// catalog or one therapeutic category. The change is the last step: a change
// driving any price below zero re-prompts for it.
func PriceUpdate(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindPriceUpdate,
		Steps: []workflow.Step{
			{Field: fieldMode, Prompt: workflow.Static("How should prices change?", modeChoices...), Parse: workflow.OneOf(modeChoices...)},
			{Field: fieldScope, Prompt: workflow.Static("Apply to:", scopeChoices...), Parse: workflow.OneOf(scopeChoices...)},
			{
				Field: fieldPriceCategory,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					categories, err := d.Catalog.ListCategories(ctx)
					if err != nil {
						return workflow.Prompt{}, err
					}
					p := workflow.Prompt{Text: "Which category?"}
					for _, c := range categories {
						p.Choices = append(p.Choices, workflow.Choice{Label: c, Value: c})
					}
					return p, nil
				},
				Parse: func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (string, error) {
					categories, err := d.Catalog.ListCategories(ctx)
					if err != nil {
						return "", err
					}
					v := strings.TrimSpace(in.Text)
					for _, c := range categories {
						if strings.EqualFold(c, v) {
							return c, nil
						}
					}
					return "", workflow.Invalid("unknown category %q", v)
				},
				When: workflow.FieldEquals(fieldScope, scopeCategory),
			},
			{
				Field: fieldValue,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					if ws.Fields[fieldMode] == service.AdjustPercent {
						return workflow.Prompt{Text: "Enter the percentage change (e.g. 10 or -5):"}, nil
					}
					return workflow.Prompt{Text: "Enter the amount to add per unit (negative to reduce):"}, nil
				},
				Parse: workflow.SignedAmount("change"),
			},
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			value, err := decimal.NewFromString(ws.Fields[fieldValue])
			if err != nil {
				return nil, err
			}
			adj := service.PriceAdjustment{Mode: ws.Fields[fieldMode], Value: value}
			if ws.Fields[fieldScope] == scopeCategory {
				adj.Category = ws.Fields[fieldPriceCategory]
			}
			changes, err := d.Catalog.UpdatePrices(ctx, ws.UserID, adj)
			if err != nil {
				return nil, err
			}
			return &PriceResult{Adjustment: adj, Changes: len(changes)}, nil
		},
	}
}
