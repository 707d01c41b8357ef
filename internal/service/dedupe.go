package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pharmacy-service/internal/matcher"
	"pharmacy-service/internal/models"
	"pharmacy-service/internal/store"
	"pharmacy-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Bulk import resolution strategies
const (
	StrategyUpdateMerge     = "update_merge"
	StrategyUpdateOverwrite = "update_overwrite"
	StrategyAddNew          = "add_new"
	StrategySkip            = "skip"
	StrategyReview          = "review"
)

// Per-record decisions used by the review strategy
const (
	DecisionMerge     = "merge"
	DecisionOverwrite = "overwrite"
	DecisionAdd       = "add"
	DecisionSkip      = "skip"
)

// MatchConfig holds the named similarity cutoffs
type MatchConfig struct {
	DuplicateThreshold  float64
	SuggestionThreshold float64
	SuggestionLimit     int
}

// Match pairs a catalog entry with its similarity to an incoming name
type Match struct {
	Medicine models.Medicine `json:"medicine"`
	Score    float64         `json:"score"`
}

// DuplicatePair is an incoming record together with the catalog entry it matched
type DuplicatePair struct {
	Record models.ImportRecord `json:"record"`
	Match  Match               `json:"match"`
}

// Classification splits a batch into new records and probable duplicates
type Classification struct {
	New        []models.ImportRecord `json:"new"`
	Duplicates []DuplicatePair       `json:"duplicates"`
	Rejected   []models.ImportReject `json:"rejected"`
}

// Size is the number of rows the batch started with
func (c *Classification) Size() int {
	return len(c.New) + len(c.Duplicates) + len(c.Rejected)
}

// ImportReport counts the outcome of applying a strategy. The counts sum to the batch size.
type ImportReport struct {
	Strategy string   `json:"strategy"`
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Total is the number of rows accounted for
func (r *ImportReport) Total() int {
	return r.Added + r.Updated + r.Skipped + r.Failed
}

// DuplicateResolver classifies incoming medicine names against the active catalog
type DuplicateResolver struct {
	store     *store.Store
	publisher EventPublisher
	cfg       MatchConfig
	group     singleflight.Group
	logger    *zap.Logger
}

func NewDuplicateResolver(store *store.Store, publisher EventPublisher, cfg MatchConfig) *DuplicateResolver {
	return &DuplicateResolver{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// catalog loads the active catalog, sharing one query among concurrent callers
func (r *DuplicateResolver) catalog(ctx context.Context) ([]models.Medicine, error) {
	v, err, _ := r.group.Do("active-catalog", func() (interface{}, error) {
		return r.store.ListActiveMedicines(ctx)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "load catalog", Err: err}
	}
	return v.([]models.Medicine), nil
}

// score forces exact normalized equality to 1 regardless of the matcher
func score(a, b string) float64 {
	if matcher.Normalize(a) == matcher.Normalize(b) {
		return 1.0
	}
	return matcher.Similarity(a, b)
}

// rank returns catalog entries scoring at least threshold, best first
func rank(name string, catalog []models.Medicine, threshold float64) []Match {
	var matches []Match
	for _, m := range catalog {
		if s := score(name, m.Name); s >= threshold {
			matches = append(matches, Match{Medicine: m, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// FindDuplicates returns active medicines at or above the duplicate threshold, best first
func (r *DuplicateResolver) FindDuplicates(ctx context.Context, name string) ([]Match, error) {
	catalog, err := r.catalog(ctx)
	if err != nil {
		return nil, err
	}
	matches := rank(name, catalog, r.cfg.DuplicateThreshold)
	if len(matches) > 0 {
		util.DuplicateDetectionsTotal.WithLabelValues("single").Inc()
	}
	return matches, nil
}

// Suggest returns up to SuggestionLimit "did you mean" candidates
func (r *DuplicateResolver) Suggest(ctx context.Context, term string) ([]Match, error) {
	catalog, err := r.catalog(ctx)
	if err != nil {
		return nil, err
	}
	matches := rank(term, catalog, r.cfg.SuggestionThreshold)
	if len(matches) > r.cfg.SuggestionLimit {
		matches = matches[:r.cfg.SuggestionLimit]
	}
	return matches, nil
}

// ClassifyBatch compares each record with the active catalog and keeps the first
// entry at or above the duplicate threshold as its match.
func (r *DuplicateResolver) ClassifyBatch(ctx context.Context, records []models.ImportRecord, rejected []models.ImportReject) (*Classification, error) {
	catalog, err := r.catalog(ctx)
	if err != nil {
		return nil, err
	}

	c := &Classification{Rejected: rejected}
	for _, rec := range records {
		matched := false
		for _, m := range catalog {
			if s := score(rec.Name, m.Name); s >= r.cfg.DuplicateThreshold {
				c.Duplicates = append(c.Duplicates, DuplicatePair{
					Record: rec,
					Match:  Match{Medicine: m, Score: s},
				})
				matched = true
				break
			}
		}
		if !matched {
			c.New = append(c.New, rec)
		}
	}

	if len(c.Duplicates) > 0 {
		util.DuplicateDetectionsTotal.WithLabelValues("bulk").Add(float64(len(c.Duplicates)))
	}
	r.logger.Info("Classified import batch",
		zap.Int("new", len(c.New)),
		zap.Int("duplicates", len(c.Duplicates)),
		zap.Int("rejected", len(c.Rejected)))
	return c, nil
}

// ValidStrategy reports whether s names a bulk resolution strategy
func ValidStrategy(s string) bool {
	switch s {
	case StrategyUpdateMerge, StrategyUpdateOverwrite, StrategyAddNew, StrategySkip, StrategyReview:
		return true
	}
	return false
}

// Apply executes strategy over a classified batch. Under the review strategy,
// decisions holds one decision per duplicate index; a missing decision skips the record.
// Each record is written in its own transaction so one failure does not undo the rest.
func (r *DuplicateResolver) Apply(ctx context.Context, actorID int64, c *Classification, strategy string, decisions map[int]string) (*ImportReport, error) {
	ctx, span := util.StartSpan(ctx, "DuplicateResolver.Apply")
	defer span.End()

	if !ValidStrategy(strategy) {
		return nil, &ValidationError{Field: "strategy", Message: "unknown strategy " + strategy}
	}

	report := &ImportReport{Strategy: strategy}
	for _, rej := range c.Rejected {
		report.Failed++
		report.Errors = append(report.Errors, rowError(rej.Row, rej.Reason))
	}

	for _, rec := range c.New {
		r.insert(ctx, actorID, rec, report)
	}

	for i, pair := range c.Duplicates {
		decision := decisionFor(strategy, decisions, i)
		switch decision {
		case DecisionMerge:
			if _, err := r.store.AddStock(ctx, pair.Match.Medicine.ID, pair.Record.StockQuantity, actorID); err != nil {
				r.fail(report, pair.Record.Row, err)
				continue
			}
			report.Updated++
		case DecisionOverwrite:
			if err := r.store.OverwriteMedicine(ctx, pair.Match.Medicine.ID, pair.Record.Medicine(), actorID); err != nil {
				r.fail(report, pair.Record.Row, err)
				continue
			}
			report.Updated++
		case DecisionAdd:
			r.insert(ctx, actorID, pair.Record, report)
		default:
			report.Skipped++
		}
	}

	util.BulkImportRowsTotal.WithLabelValues("added").Add(float64(report.Added))
	util.BulkImportRowsTotal.WithLabelValues("updated").Add(float64(report.Updated))
	util.BulkImportRowsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	util.BulkImportRowsTotal.WithLabelValues("failed").Add(float64(report.Failed))

	r.logger.Info("Applied import strategy",
		zap.String("strategy", strategy),
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	if r.publisher != nil {
		event := &models.CatalogImportedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCatalogImported,
				Timestamp: time.Now(),
			},
			UserID:   actorID,
			Strategy: strategy,
			Added:    report.Added,
			Updated:  report.Updated,
			Skipped:  report.Skipped,
			Failed:   report.Failed,
		}
		if err := r.publisher.PublishCatalogImported(ctx, event); err != nil {
			r.logger.Error("Failed to publish CatalogImported event", zap.Error(err))
		}
	}

	return report, nil
}

func decisionFor(strategy string, decisions map[int]string, index int) string {
	switch strategy {
	case StrategyUpdateMerge:
		return DecisionMerge
	case StrategyUpdateOverwrite:
		return DecisionOverwrite
	case StrategyAddNew:
		return DecisionAdd
	case StrategyReview:
		if d, ok := decisions[index]; ok {
			return d
		}
	}
	return DecisionSkip
}

func (r *DuplicateResolver) insert(ctx context.Context, actorID int64, rec models.ImportRecord, report *ImportReport) {
	if err := r.store.CreateMedicine(ctx, rec.Medicine(), actorID); err != nil {
		r.fail(report, rec.Row, err)
		return
	}
	report.Added++
}

func (r *DuplicateResolver) fail(report *ImportReport, row int, err error) {
	report.Failed++
	report.Errors = append(report.Errors, rowError(row, err.Error()))
	r.logger.Warn("Import row failed", zap.Int("row", row), zap.Error(err))
}

func rowError(row int, reason string) string {
	return fmt.Sprintf("row %d: %s", row, reason)
}
