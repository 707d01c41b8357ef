// Package flows defines the pharmacy's multi-turn conversations on top of the workflow engine.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/session"
	"pharmacy-service/internal/workflow"
)

// Workflow kinds
const (
	KindAddMedicine = "add_medicine"
	KindCheckout    = "checkout"
	KindStockUpdate = "stock_update"
	KindPriceUpdate = "price_update"
	KindRemoveOne   = "remove_medicine"
	KindRemoveAll   = "remove_all"
	KindBulkImport  = "bulk_import"
)

const (
	maxTextLength = 100
	maxStock      = 1000000
	pickBranch    = "pick"
)

// ImportParser turns an uploaded file into validated records and rejected rows
type ImportParser func(data []byte) ([]models.ImportRecord, []models.ImportReject, error)

// Deps are the collaborators the workflows call into
type Deps struct {
	Catalog          *service.CatalogService
	Orders           *service.OrderService
	Sessions         session.Store
	ParseImport      ImportParser
	RemovalPIN       string
	PhonePattern     *regexp.Regexp
	MaxOrderQuantity int
	Currency         string
}

// Register adds the pharmacy workflows to the engine. The removal workflows are
// left out when no removal PIN is configured.
func Register(e *workflow.Engine, d Deps) {
	e.Register(
		AddMedicine(d),
		Checkout(d),
		StockUpdate(d),
		PriceUpdate(d),
		BulkImport(d),
	)
	if d.RemovalPIN != "" {
		e.Register(RemoveOne(d), RemoveAll(d))
	}
}

// StockResult is returned by the stock update workflow
type StockResult struct {
	Medicine *models.Medicine
	OldStock int
	NewStock int
}

// RestockResult is returned when a new entry was merged into an existing medicine
type RestockResult struct {
	Medicine *models.Medicine
	Added    int
	NewStock int
}

// PriceResult is returned by the price update workflow
type PriceResult struct {
	Adjustment service.PriceAdjustment
	Changes    int
}

// RemovalResult is returned by the removal workflows. Medicine is nil for remove-all.
type RemovalResult struct {
	Medicine *models.Medicine
	Count    int64
}

// candidate is a medicine offered for selection
type candidate struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// selectMedicine resolves free text to one active medicine id. A numeric reply or a
// "#id" is taken as an id; otherwise the catalog is searched, and several hits branch
// into a pick list.
func selectMedicine(catalog *service.CatalogService) workflow.ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (string, error) {
		raw := strings.TrimPrefix(strings.TrimSpace(in.Text), "#")
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			m, err := catalog.GetMedicine(ctx, id)
			if err != nil {
				return "", notFoundAsInvalid(err)
			}
			return strconv.FormatInt(m.ID, 10), nil
		}

		res, err := catalog.Search(ctx, raw)
		if err != nil {
			return "", err
		}
		switch len(res.Matches) {
		case 0:
			if len(res.Suggestions) == 0 {
				return "", workflow.Invalid("no medicine matches %q", raw)
			}
			names := make([]string, 0, len(res.Suggestions))
			for _, s := range res.Suggestions {
				names = append(names, s.Medicine.Name)
			}
			return "", workflow.Invalid("no medicine matches %q. Did you mean: %s?", raw, strings.Join(names, ", "))
		case 1:
			return strconv.FormatInt(res.Matches[0].ID, 10), nil
		}

		cands := make([]candidate, 0, len(res.Matches))
		for _, m := range res.Matches {
			cands = append(cands, candidate{ID: m.ID, Label: fmt.Sprintf("%s (%d in stock)", m.Name, m.StockQuantity)})
		}
		payload, err := json.Marshal(cands)
		if err != nil {
			return "", err
		}
		return "", &workflow.BranchSignal{Branch: pickBranch, Payload: payload}
	}
}

// pickMedicine lets the user choose among several search hits
func pickMedicine() *workflow.Branch {
	return &workflow.Branch{
		Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
			var cands []candidate
			if err := json.Unmarshal(ws.Payload, &cands); err != nil {
				return workflow.Prompt{}, err
			}
			p := workflow.Prompt{Text: "Several medicines match. Which one?"}
			for _, c := range cands {
				p.Choices = append(p.Choices, workflow.Choice{Label: c.Label, Value: strconv.FormatInt(c.ID, 10)})
			}
			p.Choices = append(p.Choices, workflow.Choice{Label: "Search again", Value: "again"})
			return p, nil
		},
		Handle: func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (workflow.BranchResult, error) {
			v := strings.TrimSpace(in.Text)
			if v == "again" {
				return workflow.BranchResult{Action: workflow.Retry}, nil
			}
			var cands []candidate
			if err := json.Unmarshal(ws.Payload, &cands); err != nil {
				return workflow.BranchResult{}, err
			}
			for _, c := range cands {
				if strconv.FormatInt(c.ID, 10) == v {
					ws.Pending = v
					return workflow.BranchResult{Action: workflow.Resume}, nil
				}
			}
			return workflow.BranchResult{}, workflow.Invalid("please pick one of the listed medicines")
		},
	}
}

func notFoundAsInvalid(err error) error {
	var nf *service.NotFoundError
	if errors.As(err, &nf) {
		return workflow.Invalid("%s", nf.Error())
	}
	return err
}

func fieldID(ws *models.WorkflowSession, field string) (int64, error) {
	id, err := strconv.ParseInt(ws.Fields[field], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s holds no id: %w", field, err)
	}
	return id, nil
}

func fieldInt(ws *models.WorkflowSession, field string) int {
	n, _ := strconv.Atoi(ws.Fields[field])
	return n
}
