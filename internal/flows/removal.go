package flows

import (
	"context"
	"fmt"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/workflow"
)

const (
	fieldPIN     = "pin"
	fieldConfirm = "confirm"
)

// RemoveOne soft deletes a single medicine behind a PIN and a confirmation
func RemoveOne(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindRemoveOne,
		Steps: []workflow.Step{
			{Field: fieldPIN, Prompt: workflow.Static("Enter the removal PIN:"), Parse: workflow.PIN(d.RemovalPIN)},
			{Field: fieldMedicineID, Prompt: workflow.Static("Which medicine should be removed? Send a name or #id:"), Parse: selectMedicine(d.Catalog)},
			{
				Field: fieldConfirm,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					m, err := selected(ctx, d, ws)
					if err != nil {
						return workflow.Prompt{}, err
					}
					return workflow.Prompt{
						Text:    fmt.Sprintf("Remove %s (%d in stock) from the catalog?", m.Name, m.StockQuantity),
						Choices: workflow.YesNo,
					}, nil
				},
				Parse: workflow.Confirm("Removal cancelled."),
			},
		},
		Branches: map[string]*workflow.Branch{
			pickBranch: pickMedicine(),
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			id, err := fieldID(ws, fieldMedicineID)
			if err != nil {
				return nil, err
			}
			m, err := d.Catalog.RemoveMedicine(ctx, ws.UserID, id)
			if err != nil {
				return nil, err
			}
			return &RemovalResult{Medicine: m, Count: 1}, nil
		},
	}
}

// RemoveAll soft deletes the whole active catalog behind a PIN and a confirmation
func RemoveAll(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindRemoveAll,
		Steps: []workflow.Step{
			{Field: fieldPIN, Prompt: workflow.Static("Enter the removal PIN:"), Parse: workflow.PIN(d.RemovalPIN)},
			{
				Field: fieldConfirm,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					all, err := d.Catalog.ListMedicines(ctx)
					if err != nil {
						return workflow.Prompt{}, err
					}
					return workflow.Prompt{
						Text:    fmt.Sprintf("This removes all %d active medicines. Continue?", len(all)),
						Choices: workflow.YesNo,
					}, nil
				},
				Parse: workflow.Confirm("Removal cancelled."),
			},
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			n, err := d.Catalog.RemoveAll(ctx, ws.UserID)
			if err != nil {
				return nil, err
			}
			return &RemovalResult{Count: n}, nil
		},
	}
}
