package flows

import (
	"context"
	"fmt"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/workflow"
)

const (
	fieldMedicineID = "medicine_id"
	fieldQuantity   = "quantity"
	fieldReason     = "reason"
)

// StockUpdate finds a medicine, sets its stock and records an optional reason
func StockUpdate(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindStockUpdate,
		Steps: []workflow.Step{
			{Field: fieldMedicineID, Prompt: workflow.Static("Which medicine? Send a name or #id:"), Parse: selectMedicine(d.Catalog)},
			{
				Field: fieldQuantity,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					m, err := selected(ctx, d, ws)
					if err != nil {
						return workflow.Prompt{}, err
					}
					return workflow.Prompt{Text: fmt.Sprintf("%s has %d units. Enter the new stock quantity:", m.Name, m.StockQuantity)}, nil
				},
				Parse: workflow.Int("quantity", 0, maxStock),
			},
			{Field: fieldReason, Prompt: workflow.Static("Reason for the change?"), Parse: workflow.Text("reason", 1, 200), Optional: true},
		},
		Branches: map[string]*workflow.Branch{
			pickBranch: pickMedicine(),
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			id, err := fieldID(ws, fieldMedicineID)
			if err != nil {
				return nil, err
			}
			qty := fieldInt(ws, fieldQuantity)
			old, err := d.Catalog.UpdateStock(ctx, ws.UserID, id, qty, ws.Fields[fieldReason])
			if err != nil {
				return nil, err
			}
			m, err := d.Catalog.GetMedicine(ctx, id)
			if err != nil {
				return nil, err
			}
			return &StockResult{Medicine: m, OldStock: old, NewStock: qty}, nil
		},
	}
}

func selected(ctx context.Context, d Deps, ws *models.WorkflowSession) (*models.Medicine, error) {
	id, err := fieldID(ws, fieldMedicineID)
	if err != nil {
		return nil, err
	}
	return d.Catalog.GetMedicine(ctx, id)
}
