package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/ids"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

var fastSeeder = Seeder{Cost: bcrypt.MinCost}

func openReplica(t *testing.T) *replica.Replica {
	t.Helper()
	r, err := replica.Open(":memory:", replica.WithPeerID("a"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestDefault(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	assert.Len(t, cat.Users, 3)
	assert.Len(t, cat.Categories, 4)
	require.Len(t, cat.Products, 12)

	espresso := cat.Products[0]
	assert.Equal(t, "prod-1", espresso.ID)
	assert.Equal(t, pos.Money(250), espresso.Price)
	assert.Equal(t, int64(100), espresso.Stock)
	assert.Equal(t, pos.RoleManager, cat.Users[1].Role)
}

func TestLoad_SchemaViolation(t *testing.T) {
	src := []byte(`
users: []
categories: [{id: "cat-1", name: "Beverages"}]
products: [{id: "prod-1", name: "Espresso", price: 2.50, categoryId: "cat-1", sku: "BEV001", stock: 1}]
`)
	_, err := Load(src, "bad.cue")
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeSchema, le.Code)
}

func TestLoad_UnknownCategory(t *testing.T) {
	src := []byte(`
users: []
categories: [{id: "cat-1", name: "Beverages"}]
products: [{id: "prod-1", name: "Espresso", price: 250, categoryId: "cat-9", sku: "BEV001", stock: 1}]
`)
	_, err := Load(src, "ref.cue")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeReference, le.Code)
}

func TestLoad_DuplicateSKU(t *testing.T) {
	src := []byte(`
users: []
categories: [{id: "cat-1", name: "Beverages"}]
products: [
	{id: "prod-1", name: "Espresso", price: 250, categoryId: "cat-1", sku: "BEV001", stock: 1},
	{id: "prod-2", name: "Ristretto", price: 250, categoryId: "cat-1", sku: "BEV001", stock: 1},
]
`)
	_, err := Load(src, "dup.cue")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeDuplicate, le.Code)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
users: [{id: "user-1", name: "Dana", role: "admin", pin: "4321"}]
categories: [{id: "cat-1", name: "Tea"}]
products: [{id: "prod-1", name: "Sencha", price: 400, categoryId: "cat-1", sku: "TEA001", stock: 12}]
`), 0o644))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Sencha", cat.Products[0].Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeReadFailed, le.Code)
}

func TestSeed(t *testing.T) {
	r := openReplica(t)
	ctx := context.Background()
	cat, err := Default()
	require.NoError(t, err)

	seeded, err := fastSeeder.Seed(ctx, r, cat)
	require.NoError(t, err)
	assert.True(t, seeded)

	products, err := r.Collection(pos.CollectionProducts).Records(ctx)
	require.NoError(t, err)
	require.Len(t, products, 12)
	assert.Equal(t, "prod-1", products[0].ID)

	rec, ok, err := r.Collection(pos.CollectionUsers).Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	user, err := pos.DecodeUser(rec)
	require.NoError(t, err)
	assert.NotEqual(t, "1234", user.PinHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte("1234")))

	// the whole seed is one group
	vector, err := r.StateVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(19), vector["a"])
	ok, err = r.GroupComplete(ctx, "a:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeed_NoopWhenUsersExist(t *testing.T) {
	r := openReplica(t)
	ctx := context.Background()
	cat, err := Default()
	require.NoError(t, err)

	_, err = fastSeeder.Seed(ctx, r, cat)
	require.NoError(t, err)
	seeded, err := fastSeeder.Seed(ctx, r, cat)
	require.NoError(t, err)
	assert.False(t, seeded)

	vector, err := r.StateVector(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(19), vector["a"])
}

func TestAddProduct(t *testing.T) {
	r := openReplica(t)
	ctx := context.Background()
	cat, err := Default()
	require.NoError(t, err)
	_, err = fastSeeder.Seed(ctx, r, cat)
	require.NoError(t, err)

	p, err := AddProduct(ctx, r, ids.NewFixedGenerator("prod-13"), ProductInput{
		Name: "Scone", Price: 300, Stock: 20, CategoryID: "cat-3", SKU: "BAK004",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://picsum.photos/seed/BAK004/400/400", p.ImageURL)

	rec, ok, err := r.Collection(pos.CollectionProducts).Get(ctx, "prod-13")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := pos.DecodeProduct(rec)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestAddProduct_Rejects(t *testing.T) {
	r := openReplica(t)
	ctx := context.Background()
	cat, err := Default()
	require.NoError(t, err)
	_, err = fastSeeder.Seed(ctx, r, cat)
	require.NoError(t, err)

	_, err = AddProduct(ctx, r, ids.NewSequenceGenerator(""), ProductInput{Name: "", Price: 100, CategoryID: "cat-1", SKU: "X1"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	_, err = AddProduct(ctx, r, ids.NewSequenceGenerator(""), ProductInput{Name: "Bad", Price: -1, CategoryID: "cat-1", SKU: "X1"})
	require.True(t, errors.As(err, &verrs))

	_, err = AddProduct(ctx, r, ids.NewSequenceGenerator(""), ProductInput{Name: "Tea", Price: 100, CategoryID: "cat-9", SKU: "X1"})
	require.ErrorIs(t, err, ErrUnknownCategory)

	_, err = AddProduct(ctx, r, ids.NewSequenceGenerator(""), ProductInput{Name: "Tea", Price: 100, CategoryID: "cat-1", SKU: "BEV001"})
	require.ErrorIs(t, err, ErrDuplicateSKU)
}
