package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"pharmacy-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())
	t.Cleanup(func() { s.Close() })
	return s
}

func testMedicine(name string, price string, stock int) *models.Medicine {
	return &models.Medicine{
		Name:                name,
		TherapeuticCategory: "Analgesic",
		ManufacturingDate:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		ExpiringDate:        time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC),
		DosageForm:          "Tablet",
		Price:               decimal.RequireFromString(price),
		StockQuantity:       stock,
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.RunMigrations())
}

func TestCreateAndGetMedicine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Paracetamol 500mg", "12.50", 40)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))
	assert.NotZero(t, m.ID)
	assert.True(t, m.IsActive)

	got, err := s.GetMedicineByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol 500mg", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 40, got.StockQuantity)
	assert.Equal(t, "2027-01-10", got.ExpiringDate.Format("2006-01-02"))

	audit, err := s.ListAudit(ctx, "medicines", 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "create_medicine", audit[0].Action)
	assert.Equal(t, m.ID, audit[0].RecordID)
}

func TestGetMedicineByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMedicineByID(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSoftDeleteHidesMedicine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Ibuprofen 400mg", "8.00", 10)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	deleted, err := s.SoftDeleteMedicine(ctx, m.ID, 1)
	require.NoError(t, err)
	assert.False(t, deleted.IsActive)

	_, err = s.GetMedicineByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListActiveMedicines(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.SoftDeleteMedicine(ctx, m.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteAllMedicines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, s.CreateMedicine(ctx, testMedicine(name, "1.00", 1), 1))
	}

	n, err := s.SoftDeleteAllMedicines(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := s.ListActiveMedicines(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSearchAndCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	amox := testMedicine("Amoxicillin 250mg", "30.00", 5)
	amox.TherapeuticCategory = "Antibiotic"
	require.NoError(t, s.CreateMedicine(ctx, amox, 1))
	require.NoError(t, s.CreateMedicine(ctx, testMedicine("Paracetamol 500mg", "12.00", 50), 1))

	found, err := s.SearchMedicines(ctx, "AMOX", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, amox.ID, found[0].ID)

	categories, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Analgesic", "Antibiotic"}, categories)

	byCategory, err := s.ListMedicinesByCategory(ctx, "antibiotic")
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	low, err := s.ListLowStock(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Amoxicillin 250mg", low[0].Name)
}

func TestStockUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Cetirizine 10mg", "5.00", 10)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	newStock, err := s.AddStock(ctx, m.ID, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 15, newStock)

	old, err := s.SetStock(ctx, m.ID, 3, 1, "recount")
	require.NoError(t, err)
	assert.Equal(t, 15, old)

	_, err = s.SetStock(ctx, m.ID, -1, 1, "")
	assert.Error(t, err)

	got, err := s.GetMedicineByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity)
}

func TestOverwriteMedicine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Metformin 500mg", "20.00", 10)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	replacement := testMedicine("Metformin 500mg", "22.00", 70)
	replacement.DosageForm = "Extended-release tablet"
	require.NoError(t, s.OverwriteMedicine(ctx, m.ID, replacement, 1))

	got, err := s.GetMedicineByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, got.StockQuantity)
	assert.Equal(t, "Extended-release tablet", got.DosageForm)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(22)))
}

func TestUpdatePrices_Category(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testMedicine("Amoxicillin 250mg", "10.00", 5)
	a.TherapeuticCategory = "Antibiotic"
	b := testMedicine("Paracetamol 500mg", "10.00", 5)
	require.NoError(t, s.CreateMedicine(ctx, a, 1))
	require.NoError(t, s.CreateMedicine(ctx, b, 1))

	tenPercent := decimal.RequireFromString("1.10")
	changes, err := s.UpdatePrices(ctx, "Antibiotic", func(p decimal.Decimal) decimal.Decimal {
		return p.Mul(tenPercent).Round(2)
	}, 1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, a.ID, changes[0].MedicineID)

	got, err := s.GetMedicineByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(11)), got.Price.String())

	untouched, err := s.GetMedicineByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Price.Equal(decimal.NewFromInt(10)))
}

func TestUpdatePrices_NegativeRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testMedicine("A", "10.00", 5)
	b := testMedicine("B", "2.00", 5)
	require.NoError(t, s.CreateMedicine(ctx, a, 1))
	require.NoError(t, s.CreateMedicine(ctx, b, 1))

	_, err := s.UpdatePrices(ctx, "", func(p decimal.Decimal) decimal.Decimal {
		return p.Sub(decimal.NewFromInt(5))
	}, 1)
	assert.ErrorIs(t, err, ErrNegativeValue)

	got, err := s.GetMedicineByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(10)))
}

func TestDecrementStock_Conditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Omeprazole 20mg", "15.00", 2)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	var first, second bool
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		if first, err = tx.DecrementStock(ctx, m.ID, 2); err != nil {
			return err
		}
		second, err = tx.DecrementStock(ctx, m.ID, 1)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	got, err := s.GetMedicineByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Loratadine 10mg", "9.00", 4)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.DecrementStock(ctx, m.ID, 4); err != nil {
			return err
		}
		order := &models.Order{
			OrderNumber:    "BP-ROLLBACK",
			UserID:         7,
			TotalAmount:    decimal.NewFromInt(36),
			Status:         models.OrderStatusPending,
			CustomerName:   "Abebe",
			CustomerPhone:  "0911223344",
			DeliveryMethod: models.DeliveryPickup,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetMedicineByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StockQuantity)

	orders, err := s.ListOrders(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := testMedicine("Azithromycin 500mg", "45.00", 10)
	require.NoError(t, s.CreateMedicine(ctx, m, 1))

	order := &models.Order{
		OrderNumber:    "BP20260101-abc",
		UserID:         42,
		TotalAmount:    decimal.NewFromInt(90),
		Status:         models.OrderStatusPending,
		CustomerName:   "Sara",
		CustomerPhone:  "+251911223344",
		DeliveryMethod: models.DeliveryPickup,
	}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertOrderItem(ctx, &models.OrderItem{
			OrderID:    order.ID,
			MedicineID: m.ID,
			Quantity:   2,
			UnitPrice:  decimal.NewFromInt(45),
			TotalPrice: decimal.NewFromInt(90),
		})
	}))
	assert.NotZero(t, order.ID)
	assert.False(t, order.OrderDate.IsZero())

	got, err := s.GetOrderByNumber(ctx, "BP20260101-abc")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Azithromycin 500mg", got.Items[0].MedicineName)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(90)))

	change, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCompleted, 1, "picked up")
	require.NoError(t, err)
	assert.NotZero(t, change.ID)

	_, err = s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCompleted, 1, "")
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = s.UpdateOrderStatus(ctx, 9999, models.OrderStatusPending, models.OrderStatusCompleted, 1, "")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.GetStatusHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OrderStatusCompleted, history[0].NewStatus)

	mine, err := s.ListOrdersByUser(ctx, 42, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	completed, err := s.ListOrders(ctx, models.OrderStatusCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	counts, err := s.CountOrdersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.OrderStatusCompleted])
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, 100, "Hana")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, u.Role)

	require.NoError(t, s.SetUserRole(ctx, 100, models.RoleStaff))
	require.NoError(t, s.SetUserRole(ctx, 200, models.RoleAdmin))

	u, err = s.EnsureUser(ctx, 100, "Hana B")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, u.Role)

	staff, err := s.ListUsersByRole(ctx, models.RoleStaff, models.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, staff, 2)

	_, err = s.GetUser(ctx, 300)
	assert.ErrorIs(t, err, ErrNotFound)
}
