package flows

import (
	"context"
	"regexp"
	"strconv"
	"testing"
	"time"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/session"
	"pharmacy-service/internal/store"
	"pharmacy-service/internal/workflow"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	staffID    = int64(100)
	customerID = int64(200)
)

type harness struct {
	engine   *workflow.Engine
	store    *store.Store
	sessions session.Store
	catalog  *service.CatalogService
}

func newHarness(t *testing.T, parser ImportParser) *harness {
	t.Helper()

	s, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())
	t.Cleanup(func() { s.Close() })

	resolver := service.NewDuplicateResolver(s, nil, service.MatchConfig{
		DuplicateThreshold:  0.8,
		SuggestionThreshold: 0.35,
		SuggestionLimit:     5,
	})
	catalog := service.NewCatalogService(s, resolver, nil, 10)
	orders := service.NewOrderService(s, nil, service.OrderConfig{DisplayTokenWidth: 6, MaxOrderQuantity: 1000})
	sessions := session.NewMemoryStore(time.Hour)

	engine := workflow.NewEngine(sessions)
	Register(engine, Deps{
		Catalog:          catalog,
		Orders:           orders,
		Sessions:         sessions,
		ParseImport:      parser,
		RemovalPIN:       "4321",
		PhonePattern:     regexp.MustCompile(`^(\+251|0)[79]\d{8}$`),
		MaxOrderQuantity: 1000,
		Currency:         "ETB",
	})
	return &harness{engine: engine, store: s, sessions: sessions, catalog: catalog}
}

func (h *harness) seed(t *testing.T, name, category, price string, stock int) *models.Medicine {
	t.Helper()
	m := &models.Medicine{
		Name:                name,
		TherapeuticCategory: category,
		ManufacturingDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiringDate:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		DosageForm:          "Tablet",
		Price:               decimal.RequireFromString(price),
		StockQuantity:       stock,
	}
	require.NoError(t, h.store.CreateMedicine(context.Background(), m, staffID))
	return m
}

// run feeds replies in order and returns the last outcome
func (h *harness) run(t *testing.T, userID int64, replies ...string) *workflow.Outcome {
	t.Helper()
	var out *workflow.Outcome
	for _, r := range replies {
		var err error
		out, err = h.engine.Advance(context.Background(), userID, workflow.Input{Text: r})
		require.NoError(t, err, "reply %q", r)
	}
	return out
}

func (h *harness) start(t *testing.T, kind string, userID int64) *workflow.Outcome {
	t.Helper()
	out, err := h.engine.Start(context.Background(), kind, userID)
	require.NoError(t, err)
	return out
}

func TestAddMedicine_Complete(t *testing.T) {
	h := newHarness(t, nil)

	h.start(t, KindAddMedicine, staffID)
	out := h.run(t, staffID, "Cetirizine 10mg", "Antihistamine", "2025-01-10", "2027-01-10", "Tablet", "4.5", "120")

	require.True(t, out.Done)
	m, ok := out.Result.(*models.Medicine)
	require.True(t, ok)
	assert.NotZero(t, m.ID)

	got, err := h.catalog.GetMedicine(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cetirizine 10mg", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("4.50")))
	assert.Equal(t, 120, got.StockQuantity)
}

// Scenario D on the real medicine entry workflow
func TestAddMedicine_CancelLeavesNoTrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.start(t, KindAddMedicine, staffID)
	h.run(t, staffID, "Cetirizine 10mg", "Antihistamine", "2025-01-10")

	cancelled, err := h.engine.Cancel(ctx, staffID)
	require.NoError(t, err)
	require.NotNil(t, cancelled)

	ws, err := h.engine.Active(ctx, staffID)
	require.NoError(t, err)
	assert.Nil(t, ws)

	out := h.start(t, KindAddMedicine, staffID)
	assert.Equal(t, "Enter the medicine name:", out.Prompt.Text)
	ws, err = h.engine.Active(ctx, staffID)
	require.NoError(t, err)
	assert.Equal(t, 0, ws.Step)
	assert.Empty(t, ws.Fields)

	all, err := h.catalog.ListMedicines(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddMedicine_DuplicateBranch(t *testing.T) {
	h := newHarness(t, nil)
	existing := h.seed(t, "Paracetamol 500mg", "Analgesic", "5.00", 10)

	t.Run("add as new", func(t *testing.T) {
		h.start(t, KindAddMedicine, staffID)
		out := h.run(t, staffID, "paracetamol 500mg")
		require.Equal(t, duplicateBranch, out.Branch)
		assert.Contains(t, out.Prompt.Text, "Paracetamol 500mg")

		out = h.run(t, staffID, "add_new", "Analgesic", "2025-01-10", "2027-01-10", "Syrup", "7", "5")
		require.True(t, out.Done)
		m := out.Result.(*models.Medicine)
		assert.NotEqual(t, existing.ID, m.ID)
	})

	t.Run("update existing", func(t *testing.T) {
		h.start(t, KindAddMedicine, staffID)
		h.run(t, staffID, "Paracetamol 500mg")
		out := h.run(t, staffID, "update:"+strconv.FormatInt(existing.ID, 10))
		assert.Equal(t, "How many units should be added to the existing entry?", out.Prompt.Text)

		out = h.run(t, staffID, "15")
		require.True(t, out.Done)
		res := out.Result.(*RestockResult)
		assert.Equal(t, 15, res.Added)
		assert.Equal(t, 25, res.NewStock)
	})

	t.Run("rename then cancel", func(t *testing.T) {
		h.start(t, KindAddMedicine, staffID)
		h.run(t, staffID, "Paracetamol 500mg")
		out := h.run(t, staffID, "rename")
		assert.Equal(t, "Enter the medicine name:", out.Prompt.Text)
		assert.Empty(t, out.Branch)

		h.run(t, staffID, "Paracetamol 500mg")
		out = h.run(t, staffID, "cancel")
		assert.True(t, out.Ended)
		assert.False(t, out.Done)
	})
}

func TestCheckout_PlacesOrderAndClearsCart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	b := h.seed(t, "Ibuprofen 400mg", "Analgesic", "3.00", 1)

	_, err := h.sessions.AddToCart(ctx, customerID, a.ID, 2)
	require.NoError(t, err)
	_, err = h.sessions.AddToCart(ctx, customerID, b.ID, 4)
	require.NoError(t, err)

	h.start(t, KindCheckout, customerID)
	out := h.run(t, customerID, "Abebe Kebede", "12345")
	require.Error(t, out.Rejected)

	out = h.run(t, customerID, "0912345678")
	require.True(t, out.Done)
	res := out.Result.(*service.PlaceOrderResult)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, b.ID, res.Dropped[0].MedicineID)

	cart, err := h.sessions.GetCart(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCheckout_EmptyCartRefused(t *testing.T) {
	h := newHarness(t, nil)

	out := h.start(t, KindCheckout, customerID)
	assert.True(t, out.Ended)
	assert.Equal(t, "Your cart is empty.", out.Message)
}

func TestCheckout_AllLinesUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 1)
	_, err := h.sessions.AddToCart(ctx, customerID, a.ID, 3)
	require.NoError(t, err)

	h.start(t, KindCheckout, customerID)
	out := h.run(t, customerID, "Abebe Kebede", "0912345678")
	assert.True(t, out.Ended)
	assert.ErrorIs(t, out.Err, service.ErrEmptyOrder)

	m, err := h.catalog.GetMedicine(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.StockQuantity)
}

func TestCheckout_CancelClearsCart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	_, err := h.sessions.AddToCart(ctx, customerID, a.ID, 1)
	require.NoError(t, err)

	h.start(t, KindCheckout, customerID)
	h.run(t, customerID, "Abebe Kebede")
	_, err = h.engine.Cancel(ctx, customerID)
	require.NoError(t, err)

	cart, err := h.sessions.GetCart(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestStockUpdate(t *testing.T) {
	h := newHarness(t, nil)
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	b := h.seed(t, "Amoxicillin 500mg", "Antibiotic", "12.00", 8)

	h.start(t, KindStockUpdate, staffID)
	out := h.run(t, staffID, "amoxicillin")
	require.Equal(t, pickBranch, out.Branch)
	require.Len(t, out.Prompt.Choices, 3)

	out = h.run(t, staffID, strconv.FormatInt(b.ID, 10))
	assert.Contains(t, out.Prompt.Text, "Amoxicillin 500mg has 8 units")

	out = h.run(t, staffID, "30", "skip")
	require.True(t, out.Done)
	res := out.Result.(*StockResult)
	assert.Equal(t, 8, res.OldStock)
	assert.Equal(t, 30, res.NewStock)

	h.start(t, KindStockUpdate, staffID)
	out = h.run(t, staffID, "#"+strconv.FormatInt(a.ID, 10), "2", "damaged")
	require.True(t, out.Done)
	assert.Equal(t, 2, out.Result.(*StockResult).NewStock)
}

func TestStockUpdate_UnknownMedicine(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)

	h.start(t, KindStockUpdate, staffID)
	out := h.run(t, staffID, "Amoxicilin")
	require.Error(t, out.Rejected)
	assert.Contains(t, out.Rejected.Error(), "Amoxicillin 250mg")

	out = h.run(t, staffID, "#999")
	require.Error(t, out.Rejected)
}

func TestPriceUpdate_Category(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	b := h.seed(t, "Ibuprofen 400mg", "Analgesic", "4.00", 5)

	h.start(t, KindPriceUpdate, staffID)
	out := h.run(t, staffID, "percent", "category")
	require.Len(t, out.Prompt.Choices, 2)

	out = h.run(t, staffID, "antibiotic", "10")
	require.True(t, out.Done)
	assert.Equal(t, 1, out.Result.(*PriceResult).Changes)

	got, err := h.catalog.GetMedicine(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(11)))
	got, err = h.catalog.GetMedicine(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(4)))
}

func TestPriceUpdate_NegativeResultRepromptsForValue(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	h.seed(t, "Ibuprofen 400mg", "Analgesic", "4.00", 5)

	h.start(t, KindPriceUpdate, staffID)
	out := h.run(t, staffID, "fixed", "all", "-5")
	require.False(t, out.Done)
	require.Error(t, out.Rejected)
	assert.Contains(t, out.Prompt.Text, "amount to add")

	got, err := h.catalog.GetMedicine(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(10)))

	out = h.run(t, staffID, "-3")
	require.True(t, out.Done)
	assert.Equal(t, 2, out.Result.(*PriceResult).Changes)

	got, err = h.catalog.GetMedicine(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(7)))
}

func TestRemoveOne(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)

	h.start(t, KindRemoveOne, staffID)
	out := h.run(t, staffID, "0000")
	assert.True(t, out.Ended)
	var abort *workflow.AbortError
	assert.ErrorAs(t, out.Err, &abort)

	h.start(t, KindRemoveOne, staffID)
	out = h.run(t, staffID, "4321", "Amoxicillin 250mg")
	assert.Contains(t, out.Prompt.Text, "Remove Amoxicillin 250mg")
	out = h.run(t, staffID, "yes")
	require.True(t, out.Done)

	_, err := h.catalog.GetMedicine(ctx, a.ID)
	var nf *service.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRemoveAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "Amoxicillin 250mg", "Antibiotic", "10.00", 5)
	h.seed(t, "Ibuprofen 400mg", "Analgesic", "4.00", 5)

	h.start(t, KindRemoveAll, staffID)
	out := h.run(t, staffID, "4321", "no")
	assert.True(t, out.Ended)
	assert.False(t, out.Done)

	all, err := h.catalog.ListMedicines(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	h.start(t, KindRemoveAll, staffID)
	out = h.run(t, staffID, "4321")
	assert.Contains(t, out.Prompt.Text, "all 2 active medicines")
	out = h.run(t, staffID, "yes")
	require.True(t, out.Done)
	assert.Equal(t, int64(2), out.Result.(*RemovalResult).Count)
}

func importRecord(row int, name string, stock int) models.ImportRecord {
	return models.ImportRecord{
		Row:                 row,
		Name:                name,
		TherapeuticCategory: "General",
		ManufacturingDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiringDate:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		DosageForm:          "Tablet",
		Price:               decimal.NewFromInt(3),
		StockQuantity:       stock,
	}
}

func fixedParser(records []models.ImportRecord, rejected []models.ImportReject) ImportParser {
	return func(data []byte) ([]models.ImportRecord, []models.ImportReject, error) {
		return records, rejected, nil
	}
}

func upload(t *testing.T, h *harness) *workflow.Outcome {
	t.Helper()
	out, err := h.engine.Advance(context.Background(), staffID, workflow.Input{File: []byte("xlsx"), FileName: "stock.xlsx"})
	require.NoError(t, err)
	return out
}

func TestRegister_RemovalNeedsPIN(t *testing.T) {
	engine := workflow.NewEngine(session.NewMemoryStore(time.Hour))
	Register(engine, Deps{})

	for _, kind := range []string{KindRemoveOne, KindRemoveAll} {
		_, ok := engine.Definition(kind)
		assert.False(t, ok, kind)
		_, err := engine.Start(context.Background(), kind, staffID)
		assert.ErrorIs(t, err, workflow.ErrUnknownWorkflow, kind)
	}
	_, ok := engine.Definition(KindStockUpdate)
	assert.True(t, ok)
}

func TestBulkImport_Strategies(t *testing.T) {
	records := []models.ImportRecord{
		importRecord(2, "Paracetamol 500mg", 10),
		importRecord(3, "Cetirizine 10mg", 4),
		importRecord(4, "Ibuprofen 400mg", 6),
	}
	rejected := []models.ImportReject{{Row: 5, Reason: "missing price"}}

	t.Run("merge", func(t *testing.T) {
		h := newHarness(t, fixedParser(records, rejected))
		para := h.seed(t, "Paracetamol 500mg", "Analgesic", "5.00", 10)
		ibu := h.seed(t, "Ibuprofen 400mg", "Analgesic", "4.00", 1)

		h.start(t, KindBulkImport, staffID)
		out := upload(t, h)
		assert.Contains(t, out.Prompt.Text, "4 rows read: 1 new, 2 probable duplicates, 1 rejected")

		out = h.run(t, staffID, service.StrategyUpdateMerge)
		require.True(t, out.Done)
		report := out.Result.(*service.ImportReport)
		assert.Equal(t, 1, report.Added)
		assert.Equal(t, 2, report.Updated)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 4, report.Total())

		got, err := h.catalog.GetMedicine(context.Background(), para.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, got.StockQuantity)
		got, err = h.catalog.GetMedicine(context.Background(), ibu.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, got.StockQuantity)
	})

	t.Run("review", func(t *testing.T) {
		h := newHarness(t, fixedParser(records, rejected))
		h.seed(t, "Paracetamol 500mg", "Analgesic", "5.00", 10)
		h.seed(t, "Ibuprofen 400mg", "Analgesic", "4.00", 1)

		h.start(t, KindBulkImport, staffID)
		upload(t, h)
		out := h.run(t, staffID, service.StrategyReview)
		require.Equal(t, reviewBranch, out.Branch)
		assert.Contains(t, out.Prompt.Text, "Duplicate 1 of 2")

		out = h.run(t, staffID, "bogus")
		require.Error(t, out.Rejected)

		out = h.run(t, staffID, service.DecisionAdd)
		assert.Contains(t, out.Prompt.Text, "Duplicate 2 of 2")

		out = h.run(t, staffID, service.DecisionSkip)
		require.True(t, out.Done)
		report := out.Result.(*service.ImportReport)
		assert.Equal(t, service.StrategyReview, report.Strategy)
		assert.Equal(t, 2, report.Added)
		assert.Equal(t, 0, report.Updated)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 1, report.Failed)
	})

	t.Run("no duplicates skips the strategy question", func(t *testing.T) {
		h := newHarness(t, fixedParser(records, nil))

		h.start(t, KindBulkImport, staffID)
		out := upload(t, h)
		require.True(t, out.Done)
		assert.Equal(t, 3, out.Result.(*service.ImportReport).Added)
	})
}

func TestBulkImport_RejectsNonFiles(t *testing.T) {
	h := newHarness(t, fixedParser(nil, nil))

	h.start(t, KindBulkImport, staffID)
	out := h.run(t, staffID, "here is my file")
	require.Error(t, out.Rejected)

	out, err := h.engine.Advance(context.Background(), staffID, workflow.Input{File: []byte("x"), FileName: "stock.csv"})
	require.NoError(t, err)
	require.Error(t, out.Rejected)

	out = upload(t, h)
	require.Error(t, out.Rejected)
	assert.Contains(t, out.Rejected.Error(), "no data rows")
}
