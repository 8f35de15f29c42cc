// Package cart holds the device-local cart. Nothing here is replicated and no
// operation blocks.
package cart

import (
	"slices"

	"github.com/roach88/lanpos/internal/pos"
)

// DefaultTaxRateBPS is 8% in basis points.
const DefaultTaxRateBPS = 800

// ProductLookup resolves a product from the current catalog snapshot.
type ProductLookup interface {
	Product(id string) (pos.Product, bool)
}

// Cart is the working sale on one device. It is not safe for concurrent use;
// the owning UI or command drives it from a single goroutine.
type Cart struct {
	products   ProductLookup
	defaultBPS int64

	items    []pos.CartItem
	taxBPS   int64
	discount int64
}

// Option configures a Cart.
type Option func(*Cart)

// WithTaxRate sets the tax rate in basis points used by New and Clear.
func WithTaxRate(bps int64) Option {
	return func(c *Cart) {
		c.defaultBPS = bps
	}
}

// New creates an empty cart that prices items from products.
func New(products ProductLookup, opts ...Option) *Cart {
	c := &Cart{products: products, defaultBPS: DefaultTaxRateBPS}
	for _, opt := range opts {
		opt(c)
	}
	c.taxBPS = c.defaultBPS
	return c
}

// AddItem adds one unit of a product. An existing line is incremented; a new
// line captures the product's current price. Unknown products are ignored.
func (c *Cart) AddItem(productID string) {
	product, ok := c.products.Product(productID)
	if !ok {
		return
	}
	if i := c.index(productID); i >= 0 {
		c.items[i].Quantity++
		return
	}
	c.items = append(c.items, pos.CartItem{
		ProductID: productID,
		Name:      product.Name,
		Quantity:  1,
		UnitPrice: product.Price,
	})
}

// RemoveItem drops a line. Absent products are ignored.
func (c *Cart) RemoveItem(productID string) {
	if i := c.index(productID); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
}

// SetQuantity replaces a line's quantity; q <= 0 removes the line. Quantity
// is not limited by stock.
func (c *Cart) SetQuantity(productID string, q int64) {
	if q <= 0 {
		c.RemoveItem(productID)
		return
	}
	if i := c.index(productID); i >= 0 {
		c.items[i].Quantity = q
	}
}

// Clear empties the cart and restores the default tax rate and a zero discount.
func (c *Cart) Clear() {
	c.items = nil
	c.taxBPS = c.defaultBPS
	c.discount = 0
}

// SetDiscount records a discount percentage. It is carried on the order but
// does not change any total.
func (c *Cart) SetDiscount(pct int64) {
	c.discount = pct
}

// Items returns a copy of the cart lines.
func (c *Cart) Items() []pos.CartItem {
	return slices.Clone(c.items)
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.items)
}

func (c *Cart) Subtotal() pos.Money {
	return c.Snapshot().Subtotal()
}

func (c *Cart) Tax() pos.Money {
	return c.Snapshot().Tax()
}

func (c *Cart) Total() pos.Money {
	return c.Snapshot().Total()
}

// Snapshot returns an immutable copy of the cart.
func (c *Cart) Snapshot() pos.CartSnapshot {
	return pos.CartSnapshot{
		Items:      slices.Clone(c.items),
		TaxRateBPS: c.taxBPS,
		Discount:   c.discount,
	}
}

// Warning flags a line whose quantity exceeds the known stock.
type Warning struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Requested int64  `json:"requested"`
	InStock   int64  `json:"inStock"`
}

// StockWarnings lists lines that ask for more than the current stock. The
// check is advisory; sales are never blocked on it.
func (c *Cart) StockWarnings() []Warning {
	var out []Warning
	for _, item := range c.items {
		p, ok := c.products.Product(item.ProductID)
		if ok && item.Quantity > p.Stock {
			out = append(out, Warning{
				ProductID: item.ProductID,
				Name:      p.Name,
				Requested: item.Quantity,
				InStock:   p.Stock,
			})
		}
	}
	return out
}

func (c *Cart) index(productID string) int {
	return slices.IndexFunc(c.items, func(item pos.CartItem) bool {
		return item.ProductID == productID
	})
}
