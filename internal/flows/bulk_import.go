package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/workflow"
)

const (
	reviewBranch = "review"

	fieldBatch      = "batch"
	fieldDupCount   = "duplicate_count"
	fieldStrategy   = "strategy"
	fieldDecisions  = "decisions"
	maxUploadedRows = 5000
)

var (
	strategyChoices = []workflow.Choice{
		{Label: "Merge quantities into existing", Value: service.StrategyUpdateMerge},
		{Label: "Overwrite existing entries", Value: service.StrategyUpdateOverwrite},
		{Label: "Add all as new", Value: service.StrategyAddNew},
		{Label: "Skip duplicates", Value: service.StrategySkip},
		{Label: "Review each", Value: service.StrategyReview},
	}
	decisionChoices = []workflow.Choice{
		{Label: "Merge quantity", Value: service.DecisionMerge},
		{Label: "Overwrite", Value: service.DecisionOverwrite},
		{Label: "Add as new", Value: service.DecisionAdd},
		{Label: "Skip", Value: service.DecisionSkip},
	}
)

// reviewState tracks the per-record sub-flow of the review strategy
type reviewState struct {
	Index     int            `json:"index"`
	Decisions map[int]string `json:"decisions"`
}

func hasDuplicates(ws *models.WorkflowSession) bool {
	n, _ := strconv.Atoi(ws.Fields[fieldDupCount])
	return n > 0
}

// BulkImport classifies an uploaded spreadsheet against the catalog, asks how to
// resolve probable duplicates and reports what was written
func BulkImport(d Deps) *workflow.Definition {
	return &workflow.Definition{
		Kind: KindBulkImport,
		Steps: []workflow.Step{
			{
				Field:  fieldBatch,
				Prompt: workflow.Static("Upload the inventory spreadsheet (.xlsx) with columns: name, therapeutic_category, manufacturing_date, expiring_date, dosage_form, price, stock_quantity."),
				Parse:  classifyUpload(d),
			},
			{
				Field: fieldStrategy,
				Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
					c, err := batchOf(ws)
					if err != nil {
						return workflow.Prompt{}, err
					}
					text := fmt.Sprintf("%d rows read: %d new, %d probable duplicates, %d rejected.\nHow should duplicates be handled?",
						c.Size(), len(c.New), len(c.Duplicates), len(c.Rejected))
					return workflow.Prompt{Text: text, Choices: strategyChoices}, nil
				},
				Parse: func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (string, error) {
					v, err := workflow.OneOf(strategyChoices...)(ctx, ws, in)
					if err != nil {
						return "", err
					}
					if v != service.StrategyReview {
						return v, nil
					}
					state, err := json.Marshal(reviewState{Decisions: map[int]string{}})
					if err != nil {
						return "", err
					}
					return "", &workflow.BranchSignal{Branch: reviewBranch, Value: v, Payload: state}
				},
				When: hasDuplicates,
			},
		},
		Branches: map[string]*workflow.Branch{
			reviewBranch: reviewEach(),
		},
		Complete: func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error) {
			c, err := batchOf(ws)
			if err != nil {
				return nil, err
			}
			strategy := ws.Fields[fieldStrategy]
			if strategy == "" {
				strategy = service.StrategySkip
			}
			var decisions map[int]string
			if raw := ws.Fields[fieldDecisions]; raw != "" {
				if err := json.Unmarshal([]byte(raw), &decisions); err != nil {
					return nil, err
				}
			}
			return d.Catalog.Resolver().Apply(ctx, ws.UserID, c, strategy, decisions)
		},
	}
}

func classifyUpload(d Deps) workflow.ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (string, error) {
		if len(in.File) == 0 {
			return "", workflow.Invalid("please upload the spreadsheet as a file")
		}
		if in.FileName != "" && !strings.HasSuffix(strings.ToLower(in.FileName), ".xlsx") {
			return "", workflow.Invalid("only .xlsx files are supported")
		}

		records, rejected, err := d.ParseImport(in.File)
		if err != nil {
			return "", workflow.Invalid("could not read the spreadsheet: %v", err)
		}
		if len(records)+len(rejected) == 0 {
			return "", workflow.Invalid("the spreadsheet has no data rows")
		}
		if len(records)+len(rejected) > maxUploadedRows {
			return "", workflow.Invalid("the spreadsheet has more than %d rows", maxUploadedRows)
		}

		c, err := d.Catalog.Resolver().ClassifyBatch(ctx, records, rejected)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		ws.Fields[fieldDupCount] = strconv.Itoa(len(c.Duplicates))
		return string(raw), nil
	}
}

func batchOf(ws *models.WorkflowSession) (*service.Classification, error) {
	var c service.Classification
	if err := json.Unmarshal([]byte(ws.Fields[fieldBatch]), &c); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &c, nil
}

// reviewEach walks the probable duplicates one by one collecting a decision for each
func reviewEach() *workflow.Branch {
	return &workflow.Branch{
		Prompt: func(ctx context.Context, ws *models.WorkflowSession) (workflow.Prompt, error) {
			c, err := batchOf(ws)
			if err != nil {
				return workflow.Prompt{}, err
			}
			var st reviewState
			if err := json.Unmarshal(ws.Payload, &st); err != nil {
				return workflow.Prompt{}, err
			}
			pair := c.Duplicates[st.Index]
			text := fmt.Sprintf("Duplicate %d of %d (row %d):\nincoming %q, %d units at %s\nexisting %q, %d units at %s (%.0f%% similar)",
				st.Index+1, len(c.Duplicates), pair.Record.Row,
				pair.Record.Name, pair.Record.StockQuantity, pair.Record.Price.StringFixed(2),
				pair.Match.Medicine.Name, pair.Match.Medicine.StockQuantity, pair.Match.Medicine.Price.StringFixed(2),
				pair.Match.Score*100)
			return workflow.Prompt{Text: text, Choices: decisionChoices}, nil
		},
		Handle: func(ctx context.Context, ws *models.WorkflowSession, in workflow.Input) (workflow.BranchResult, error) {
			decision, err := workflow.OneOf(decisionChoices...)(ctx, ws, in)
			if err != nil {
				return workflow.BranchResult{}, err
			}
			c, err := batchOf(ws)
			if err != nil {
				return workflow.BranchResult{}, err
			}
			var st reviewState
			if err := json.Unmarshal(ws.Payload, &st); err != nil {
				return workflow.BranchResult{}, err
			}
			if st.Decisions == nil {
				st.Decisions = map[int]string{}
			}
			st.Decisions[st.Index] = decision
			st.Index++

			if st.Index < len(c.Duplicates) {
				if ws.Payload, err = json.Marshal(st); err != nil {
					return workflow.BranchResult{}, err
				}
				return workflow.BranchResult{Action: workflow.Stay}, nil
			}

			raw, err := json.Marshal(st.Decisions)
			if err != nil {
				return workflow.BranchResult{}, err
			}
			ws.Fields[fieldDecisions] = string(raw)
			return workflow.BranchResult{Action: workflow.Resume}, nil
		},
	}
}
