package repository_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/repository"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/barledger/barledger-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var itemRowColumns = []string{"id", "location_id", "name", "sku", "base_unit", "par_threshold",
	"unit_cost_cents", "is_active", "auto_created", "created_at", "updated_at"}

func TestItemRepository_GetItem(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewItemRepository(db)

		mockDB.ExpectQuery("FROM tracked_items WHERE id = $1").
			WithArgs(itemID).
			WillReturnRows(testutil.MockRows(itemRowColumns...).
				AddRow(itemID, testutil.FixtureLocation, "Gin", nil, "ml", "700", 2500, true, false, now, now))

		item, err := repo.GetItem(context.Background(), itemID)
		require.NoError(t, err)
		assert.Equal(t, "Gin", item.Name)
		assert.True(t, item.ParThreshold.Valid)
		assert.True(t, item.ParThreshold.Decimal.Equal(decimal.NewFromInt(700)))
		assert.Nil(t, item.SKU)
	})

	t.Run("missing row", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewItemRepository(db)

		mockDB.ExpectQuery("FROM tracked_items WHERE id = $1").
			WithArgs(itemID).
			WillReturnRows(testutil.MockRows(itemRowColumns...))

		_, err := repo.GetItem(context.Background(), itemID)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		_, db := newMockRepoDB(t)
		repo := repository.NewItemRepository(db)

		_, err := repo.GetItem(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})
}

func TestItemRepository_CreateItem(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewItemRepository(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectQuery("INSERT INTO tracked_items").
		WithArgs(testutil.AnyUUID{}, testutil.FixtureLocation, "Tonic", nil, "ml", nil, int64(0), true, true).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	item := &domain.TrackedItem{LocationID: testutil.FixtureLocation, Name: "Tonic", IsActive: true, AutoCreated: true}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domain.UnitMilliliter, item.BaseUnit)
	assert.Equal(t, now, item.CreatedAt)
}

func TestItemRepository_CreateItem_DuplicateSKU(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewItemRepository(db)

	mockDB.ExpectQuery("INSERT INTO tracked_items").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tracked_items_location_sku"})

	err := repo.CreateItem(context.Background(), &domain.TrackedItem{LocationID: "bar", Name: "Gin", SKU: strPtr("GIN-1")})

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusConflict, appErr.StatusCode)
	assert.Equal(t, "already exists at this location", appErr.Details["sku"])
}

func TestItemRepository_SetParThreshold_Clears(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewItemRepository(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectQuery("UPDATE tracked_items SET par_threshold = $2").
		WithArgs(itemID, nil).
		WillReturnRows(testutil.MockRows(itemRowColumns...).
			AddRow(itemID, testutil.FixtureLocation, "Gin", nil, "ml", nil, 0, true, false, now, now))

	item, err := repo.SetParThreshold(context.Background(), itemID, decimal.NullDecimal{})
	require.NoError(t, err)
	assert.False(t, item.ParThreshold.Valid)
}

func TestItemRepository_Deactivate_Missing(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewItemRepository(db)

	mockDB.ExpectExec("UPDATE tracked_items SET is_active = false").
		WithArgs(itemID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Deactivate(context.Background(), itemID), domain.ErrItemNotFound)
}

func TestItemRepository_ListItems_ActiveOnly(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewItemRepository(db)

	mockDB.ExpectQuery("FROM tracked_items WHERE location_id = $1 AND is_active ORDER BY lower(name), id").
		WithArgs(testutil.FixtureLocation).
		WillReturnRows(testutil.MockRows(itemRowColumns...))

	items, err := repo.ListItems(context.Background(), testutil.FixtureLocation, true)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeviceRepository_DeviceMapping_Unknown(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewDeviceRepository(db)

	mockDB.ExpectQuery("FROM pour_devices WHERE device_id = $1").
		WithArgs("dev-9").
		WillReturnRows(testutil.MockRows("device_id", "item_id", "location_id", "is_active", "updated_at"))

	_, err := repo.DeviceMapping(context.Background(), "dev-9")
	assert.ErrorIs(t, err, domain.ErrDeviceNotMapped)
}

func TestDeviceRepository_HasPourDevice(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewDeviceRepository(db)

	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM pour_devices").
		WithArgs(itemID, testutil.FixtureLocation).
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	ok, err := repo.HasPourDevice(context.Background(), itemID, testutil.FixtureLocation)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecipeRepository_ListRecipes_DecodesIngredients(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewRecipeRepository(db)

	ingredients := `[{"item_id":"","name":"Gin","quantity":"40","unit":"ml"},{"item_id":"","name":"Lime","quantity":"1","unit":"wedge"}]`
	mockDB.ExpectQuery("FROM recipes WHERE location_id = $1").
		WithArgs(testutil.FixtureLocation).
		WillReturnRows(testutil.MockRows("id", "location_id", "name", "ingredients").
			AddRow("r-1", testutil.FixtureLocation, "Gin Tonic", []byte(ingredients)))

	recipes, err := repo.ListRecipes(context.Background(), testutil.FixtureLocation)
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	require.Len(t, recipes[0].Ingredients, 2)

	perServing, excluded := recipes[0].PerServingML()
	assert.True(t, perServing.Equal(decimal.NewFromInt(40)))
	assert.Len(t, excluded, 1)
}

func TestRecipeRepository_UpsertRecipe_KeepsExistingID(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewRecipeRepository(db)

	mockDB.ExpectQuery("ON CONFLICT (location_id, lower(name)) DO UPDATE").
		WithArgs(testutil.AnyUUID{}, testutil.FixtureLocation, "gin tonic", sqlmock.AnyArg()).
		WillReturnRows(testutil.MockRows("id").AddRow("existing-id"))

	recipe := &domain.Recipe{LocationID: testutil.FixtureLocation, Name: "gin tonic"}
	require.NoError(t, repo.UpsertRecipe(context.Background(), recipe))
	assert.Equal(t, "existing-id", recipe.ID)
}
