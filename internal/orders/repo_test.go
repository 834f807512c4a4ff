package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.Shipment{},
	))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, customerID uuid.UUID, number string, createdAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   number,
		CustomerID:    customerID,
		Status:        enums.OrderStatusPending,
		SubtotalPaise: 50000,
		TotalPaise:    55000,
		ShippingPaise: 5000,
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func TestRepositoryCreateAndFindByID(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	order := seedOrder(t, db, customerID, "SL-2001", time.Now().UTC())

	items := []models.OrderItem{
		{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      uuid.New(),
			WarehouseID:    uuid.New(),
			Name:           "Cotton Kurta",
			Qty:            2,
			UnitPricePaise: 25000,
		},
	}
	require.NoError(t, repo.CreateItems(ctx, items))

	payment := models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayOrderID: "order_test123",
		Method:         enums.PaymentMethodRazorpay,
		Status:         enums.PaymentStatusPending,
		AmountPaise:    55000,
	}
	require.NoError(t, db.Create(&payment).Error)

	got, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "SL-2001", got.OrderNumber)
	assert.Equal(t, customerID, got.CustomerID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Qty)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "order_test123", got.Payment.GatewayOrderID)
}

func TestRepositoryFindByOrderNumber(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedOrder(t, db, uuid.New(), "SL-2002", time.Now().UTC())

	got, err := repo.FindByOrderNumber(ctx, "SL-2002")
	require.NoError(t, err)
	assert.Equal(t, "SL-2002", got.OrderNumber)

	_, err = repo.FindByOrderNumber(ctx, "SL-9999")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListByCustomerNewestFirst(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	seedOrder(t, db, customerID, "SL-3001", base)
	seedOrder(t, db, customerID, "SL-3002", base.Add(30*time.Minute))
	seedOrder(t, db, uuid.New(), "SL-3003", base.Add(time.Hour))

	got, err := repo.ListByCustomer(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SL-3002", got[0].OrderNumber)
	assert.Equal(t, "SL-3001", got[1].OrderNumber)
}

func TestRepositoryUpdateStatus(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), "SL-4001", time.Now().UTC())
	require.NoError(t, repo.UpdateStatus(ctx, order.ID, enums.OrderStatusProcessing))

	got, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, got.Status)
}
