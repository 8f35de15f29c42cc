// Package catalog loads the seed catalog and manages products.
//
// The default catalog is embedded CUE data validated against an embedded CUE
// schema. Prices are integer cents.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/lanpos/internal/pos"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE []byte

// Load error codes.
const (
	ErrCodeCompile    = "E_CATALOG_COMPILE"
	ErrCodeSchema     = "E_CATALOG_SCHEMA"
	ErrCodeReference  = "E_CATALOG_REFERENCE"
	ErrCodeDuplicate  = "E_CATALOG_DUPLICATE"
	ErrCodeReadFailed = "E_CATALOG_READ"
)

// LoadError reports a catalog that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func cueLoadError(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: cueerrors.Details(err, nil)}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// UserSeed is a user as written in a catalog file. The PIN is hashed when the
// catalog is seeded and never stored in clear.
type UserSeed struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Role pos.Role `json:"role"`
	PIN  string   `json:"pin"`
}

// Catalog is the initial content of a new document.
type Catalog struct {
	Users      []UserSeed     `json:"users"`
	Categories []pos.Category `json:"categories"`
	Products   []pos.Product  `json:"products"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Load(defaultCUE, "default.cue")
}

// LoadFile reads a catalog from a .cue file.
func LoadFile(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: err.Error()}
	}
	return Load(src, path)
}

// Load compiles src, unifies it with the #Catalog schema and decodes it.
func Load(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueLoadError(ErrCodeCompile, err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, cueLoadError(ErrCodeCompile, err)
	}

	v := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}

	var cat Catalog
	if err := v.Decode(&cat); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks rules the schema cannot express: unique ids and SKUs and
// that every product references a known category.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	unique := func(kind, id string) error {
		key := kind + ":" + id
		if seen[key] {
			return &LoadError{Code: ErrCodeDuplicate, Message: fmt.Sprintf("duplicate %s %q", kind, id)}
		}
		seen[key] = true
		return nil
	}

	for _, u := range c.Users {
		if err := unique("user", u.ID); err != nil {
			return err
		}
	}
	for _, cat := range c.Categories {
		if err := unique("category", cat.ID); err != nil {
			return err
		}
	}
	for _, p := range c.Products {
		if err := unique("product", p.ID); err != nil {
			return err
		}
		if err := unique("sku", p.SKU); err != nil {
			return err
		}
		if !seen["category:"+p.CategoryID] {
			return &LoadError{
				Code:    ErrCodeReference,
				Message: fmt.Sprintf("product %s references unknown category %q", p.ID, p.CategoryID),
			}
		}
	}
	return nil
}
