package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/google/uuid"
)

// recipeRow carries the JSONB ingredient list as raw bytes.
type recipeRow struct {
	ID          string `db:"id"`
	LocationID  string `db:"location_id"`
	Name        string `db:"name"`
	Ingredients []byte `db:"ingredients"`
}

func (row recipeRow) toDomain() (domain.Recipe, error) {
	recipe := domain.Recipe{ID: row.ID, LocationID: row.LocationID, Name: row.Name}
	if err := json.Unmarshal(row.Ingredients, &recipe.Ingredients); err != nil {
		return domain.Recipe{}, fmt.Errorf("decode ingredients of recipe %s: %w", row.ID, err)
	}
	return recipe, nil
}

// RecipeRepository stores the recipes used to fan sales out into ingredients.
type RecipeRepository struct {
	db *database.DB
}

// NewRecipeRepository creates a new recipe repository
func NewRecipeRepository(db *database.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// ListRecipes lists the recipes of a location by name.
func (r *RecipeRepository) ListRecipes(ctx context.Context, locationID string) ([]domain.Recipe, error) {
	var rows []recipeRow
	query := `SELECT id, location_id, name, ingredients FROM recipes WHERE location_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &rows, query, locationID); err != nil {
		return nil, err
	}

	recipes := make([]domain.Recipe, 0, len(rows))
	for _, row := range rows {
		recipe, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	return recipes, nil
}

// UpsertRecipe replaces the ingredients of the recipe with the same
// case-insensitive name at the location, keeping its ID.
func (r *RecipeRepository) UpsertRecipe(ctx context.Context, recipe *domain.Recipe) error {
	if recipe.ID == "" {
		recipe.ID = uuid.New().String()
	}
	ingredients, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return fmt.Errorf("encode ingredients: %w", err)
	}

	query := `
		INSERT INTO recipes (id, location_id, name, ingredients)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, lower(name)) DO UPDATE SET
			name = EXCLUDED.name,
			ingredients = EXCLUDED.ingredients,
			updated_at = NOW()
		RETURNING id
	`
	err = r.db.QueryRowxContext(ctx, query, recipe.ID, recipe.LocationID, recipe.Name, string(ingredients)).Scan(&recipe.ID)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}
