// Package pos defines the point-of-sale domain types and how they are stored
// as replicated records.
package pos

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Collection names of the replicated document.
const (
	CollectionUsers      = "users"
	CollectionCategories = "categories"
	CollectionProducts   = "products"
	CollectionOrders     = "orders"
)

// Record field names.
const (
	FieldName       = "name"
	FieldRole       = "role"
	FieldPinHash    = "pinHash"
	FieldPrice      = "price"
	FieldCategoryID = "categoryId"
	FieldSKU        = "sku"
	FieldImageURL   = "imageUrl"
	FieldStock      = "stock"
	FieldItems      = "items"
	FieldTaxRate    = "taxRate"
	FieldDiscount   = "discount"
	FieldSubtotal   = "subtotal"
	FieldTax        = "tax"
	FieldTotal      = "total"
	FieldPayments   = "payments"
	FieldUserID     = "userId"
	FieldCustomerID = "customerId"
	FieldCreatedAt  = "createdAt"
)

// Money is an amount in integer cents.
type Money int64

// String formats cents as a decimal amount, e.g. 918 -> "9.18".
func (m Money) String() string {
	sign := ""
	n := int64(m)
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// ParseMoney parses a decimal amount with at most two fractional digits,
// e.g. "9.18", "9.5" or "12".
func ParseMoney(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, fmt.Errorf("pos: invalid amount %q", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pos: invalid amount %q: %w", s, err)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		if cents, err = strconv.ParseInt(frac, 10, 64); err != nil || frac[0] == '+' || frac[0] == '-' {
			return 0, fmt.Errorf("pos: invalid amount %q", s)
		}
	}
	if strings.HasPrefix(whole, "+") || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("pos: invalid amount %q", s)
	}
	m := Money(units*100 + cents)
	if neg {
		m = -m
	}
	return m, nil
}

// Role is a user's permission level.
type Role string

const (
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCashier, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// CanManageCatalog reports whether the role may add or edit products.
func (r Role) CanManageCatalog() bool {
	return r == RoleManager || r == RoleAdmin
}

type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	PinHash string `json:"-"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is a catalog entry. Stock is a counter: the initial quantity plus
// every signed delta applied by any peer. A negative value means the item was
// oversold while peers were partitioned.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      Money  `json:"price"`
	CategoryID string `json:"categoryId"`
	SKU        string `json:"sku"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Stock      int64  `json:"stock"`
}

// CartItem is one line of a cart. UnitPrice is captured when the product is
// first added and does not follow later price changes.
type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
}

// LineTotal is UnitPrice × Quantity.
func (i CartItem) LineTotal() Money {
	return i.UnitPrice * Money(i.Quantity)
}

// CartSnapshot is an immutable copy of a cart.
//
// TaxRateBPS is in basis points (800 = 8%). Discount is a percentage that is
// recorded on the order but not applied to any total.
type CartSnapshot struct {
	Items      []CartItem `json:"items"`
	TaxRateBPS int64      `json:"taxRate"`
	Discount   int64      `json:"discount"`
}

// Subtotal is the sum of line totals.
func (s CartSnapshot) Subtotal() Money {
	var total Money
	for _, item := range s.Items {
		total += item.LineTotal()
	}
	return total
}

// Tax is Subtotal × rate rounded half away from zero to whole cents.
func (s CartSnapshot) Tax() Money {
	return ApplyRate(s.Subtotal(), s.TaxRateBPS)
}

// Total is Subtotal + Tax.
func (s CartSnapshot) Total() Money {
	sub := s.Subtotal()
	return sub + ApplyRate(sub, s.TaxRateBPS)
}

// Empty reports whether the snapshot has no items.
func (s CartSnapshot) Empty() bool {
	return len(s.Items) == 0
}

// ApplyRate returns amount × bps / 10000 rounded half away from zero.
func ApplyRate(amount Money, bps int64) Money {
	n := int64(amount) * bps
	if n < 0 {
		return -Money((-n + 5000) / 10000)
	}
	return Money((n + 5000) / 10000)
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

type Payment struct {
	Method        PaymentMethod `json:"method" validate:"required,oneof=cash card"`
	Amount        Money         `json:"amount" validate:"gte=0"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// Order is an immutable record of a completed sale.
type Order struct {
	ID         string       `json:"id"`
	Cart       CartSnapshot `json:"cart"`
	Subtotal   Money        `json:"subtotal"`
	Tax        Money        `json:"tax"`
	Total      Money        `json:"total"`
	Payments   []Payment    `json:"payments"`
	UserID     string       `json:"userId"`
	CustomerID string       `json:"customerId,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Paid is the sum of payment amounts.
func (o Order) Paid() Money {
	var total Money
	for _, p := range o.Payments {
		total += p.Amount
	}
	return total
}
