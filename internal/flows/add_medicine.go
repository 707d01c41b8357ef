package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/workflow"

	"github.com/shopspring/decimal"
)

const (
	duplicateBranch = "duplicate"

	fieldName       = "name"
	fieldCategory   = "therapeutic_category"
	fieldMfgDate    = "manufacturing_date"
	fieldExpDate    = "expiring_date"
	fieldDosageForm = "dosage_form"
	fieldPrice      = "price"
	fieldStock      = "stock_quantity"

	fieldAllowDuplicate = "allow_duplicate"
	fieldTargetID       = "target_id"
)

func isRestock(ws *models.WorkflowSession) bool {
	return ws.Fields[fieldTargetID] != ""
}

func notRestock(ws *models.WorkflowSession) bool {
	return !isRestock(ws)
}

// AddMedicine collects the seven fields of a catalog entry. A name resembling an
// existing entry branches into duplicate resolution before the remaining steps.
func AddMedicine(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindAddMedicine,
		Steps: []workflow.Step{
			{
				Field:  fieldName,
				Prompt: workflow.Static("Enter the medicine name:"),
				Parse:  checkedName(d.Catalog),
			},
			{Field: fieldCategory, Prompt: workflow.Static("Enter the therapeutic category:"), Parse: workflow.Text("category", 2, maxTextLength), When: notRestock},
			{Field: fieldMfgDate, Prompt: workflow.Static("Enter the manufacturing date (YYYY-MM-DD):"), Parse: workflow.Date(), When: notRestock},
			{Field: fieldExpDate, Prompt: workflow.Static("Enter the expiry date (YYYY-MM-DD):"), Parse: workflow.DateAfter(fieldMfgDate), When: notRestock},
			{Field: fieldDosageForm, Prompt: workflow.Static("Enter the dosage form (tablet, syrup, capsule...):"), Parse: workflow.Text("dosage form", 2, maxTextLength), When: notRestock},
			{Field: fieldPrice, Prompt: workflow.Static(fmt.Sprintf("Enter the unit price in %s:", d.Currency)), Parse: workflow.Amount("price"), When: notRestock},
			{
				Field: fieldStock,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					if isRestock(ws) {
						return workflow.Prompt{Text: "How many units should be added to the existing entry?"}, nil
					}
					return workflow.Prompt{Text: "Enter the stock quantity:"}, nil
				},
				Parse: workflow.Int("stock quantity", 0, maxStock),
			},
		},
		Branches: map[string]*workflow.Branch{
			duplicateBranch: resolveDuplicate(),
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			if isRestock(ws) {
				return restock(ctx, d.Catalog, ws)
			}
			m, err := medicineFromFields(ws.Fields)
			if err != nil {
				return nil, err
			}
			if err := d.Catalog.AddMedicine(ctx, ws.UserID, m, ws.Fields[fieldAllowDuplicate] == "yes"); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// checkedName validates the name and signals the duplicate branch when the catalog
// already holds something similar
func checkedName(catalog *service.CatalogService) workflow.ParseFunc {
	text := workflow.Text("name", 2, maxTextLength)
	return func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (string, error) {
		name, err := text(ctx, ws, in)
		if err != nil {
			return "", err
		}
		delete(ws.Fields, fieldAllowDuplicate)
		delete(ws.Fields, fieldTargetID)

		matches, err := catalog.Resolver().FindDuplicates(ctx, name)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return name, nil
		}

		cands := make([]candidate, 0, len(matches))
		for _, m := range matches {
			cands = append(cands, candidate{
				ID:    m.Medicine.ID,
				Label: fmt.Sprintf("%s (%.0f%% similar, %d in stock)", m.Medicine.Name, m.Score*100, m.Medicine.StockQuantity),
			})
		}
		payload, err := json.Marshal(cands)
		if err != nil {
			return "", err
		}
		return "", &workflow.BranchSignal{Branch: duplicateBranch, Value: name, Payload: payload}
	}
}

func resolveDuplicate() *workflow.Branch {
	return &workflow.Branch{
		Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
			var cands []candidate
			if err := json.Unmarshal(ws.Payload, &cands); err != nil {
				return workflow.Prompt{}, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%q looks like an existing medicine:\n", ws.Pending)
			for _, c := range cands {
				fmt.Fprintf(&b, "- %s\n", c.Label)
			}
			b.WriteString("What would you like to do?")

			p := workflow.Prompt{Text: b.String()}
			p.Choices = append(p.Choices, workflow.Choice{Label: "Add as new", Value: "add_new"})
			for _, c := range cands {
				p.Choices = append(p.Choices, workflow.Choice{Label: "Update " + c.Label, Value: "update:" + strconv.FormatInt(c.ID, 10)})
			}
			p.Choices = append(p.Choices,
				workflow.Choice{Label: "Enter another name", Value: "rename"},
				workflow.Choice{Label: "Cancel", Value: "cancel"},
			)
			return p, nil
		},
		Handle: func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (workflow.BranchResult, error) {
			v := strings.TrimSpace(in.Text)
			switch {
			case v == "add_new":
				ws.Fields[fieldAllowDuplicate] = "yes"
				return workflow.BranchResult{Action: workflow.Resume}, nil
			case v == "rename":
				return workflow.BranchResult{Action: workflow.Retry, Message: "Please enter a different name."}, nil
			case v == "cancel":
				return workflow.BranchResult{Action: workflow.End, Message: "Medicine entry cancelled."}, nil
			case strings.HasPrefix(v, "update:"):
				id := strings.TrimPrefix(v, "update:")
				var cands []candidate
				if err := json.Unmarshal(ws.Payload, &cands); err != nil {
					return workflow.BranchResult{}, err
				}
				for _, c := range cands {
					if strconv.FormatInt(c.ID, 10) == id {
						ws.Fields[fieldTargetID] = id
						return workflow.BranchResult{Action: workflow.Resume}, nil
					}
				}
			}
			return workflow.BranchResult{}, workflow.Invalid("please choose one of the options")
		},
	}
}

func restock(ctx context.Context, catalog *service.CatalogService, ws *models.WorkflowSession) (interface{}, error) {
	id, err := fieldID(ws, fieldTargetID)
	if err != nil {
		return nil, err
	}
	added := fieldInt(ws, fieldStock)
	m, err := catalog.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	if added == 0 {
		return &RestockResult{Medicine: m, NewStock: m.StockQuantity}, nil
	}
	stock, err := catalog.Restock(ctx, ws.UserID, id, added)
	if err != nil {
		return nil, err
	}
	m.StockQuantity = stock
	return &RestockResult{Medicine: m, Added: added, NewStock: stock}, nil
}

func medicineFromFields(f map[string]string) (*models.Medicine, error) {
	mfg, err := time.Parse(workflow.DateLayout, f[fieldMfgDate])
	if err != nil {
		return nil, fmt.Errorf("manufacturing date: %w", err)
	}
	exp, err := time.Parse(workflow.DateLayout, f[fieldExpDate])
	if err != nil {
		return nil, fmt.Errorf("expiry date: %w", err)
	}
	price, err := decimal.NewFromString(f[fieldPrice])
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	stock, err := strconv.Atoi(f[fieldStock])
	if err != nil {
		return nil, fmt.Errorf("stock quantity: %w", err)
	}
	return &models.Medicine{
		Name:                f[fieldName],
		TherapeuticCategory: f[fieldCategory],
		ManufacturingDate:   mfg,
		ExpiringDate:        exp,
		DosageForm:          f[fieldDosageForm],
		Price:               price,
		StockQuantity:       stock,
		IsActive:            true,
	}, nil
}
