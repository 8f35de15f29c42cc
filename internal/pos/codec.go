package pos

import (
	"fmt"
	"time"

	"github.com/roach88/lanpos/internal/replica"
	"github.com/roach88/lanpos/internal/value"
)

// Record encoding. Each type converts to the fields of its replicated record
// (the id lives on the record itself) and back.

func (u User) Record() replica.Record {
	return replica.Record{ID: u.ID, Fields: value.Map{
		FieldName:    value.String(u.Name),
		FieldRole:    value.String(u.Role),
		FieldPinHash: value.String(u.PinHash),
	}}
}

func DecodeUser(rec replica.Record) (User, error) {
	d := decoder{rec: rec}
	u := User{
		ID:      rec.ID,
		Name:    d.str(FieldName),
		Role:    Role(d.str(FieldRole)),
		PinHash: d.str(FieldPinHash),
	}
	if d.err == nil && !u.Role.Valid() {
		d.err = fmt.Errorf("user %s: unknown role %q", rec.ID, u.Role)
	}
	return u, d.err
}

func (c Category) Record() replica.Record {
	return replica.Record{ID: c.ID, Fields: value.Map{
		FieldName: value.String(c.Name),
	}}
}

func DecodeCategory(rec replica.Record) (Category, error) {
	d := decoder{rec: rec}
	c := Category{ID: rec.ID, Name: d.str(FieldName)}
	return c, d.err
}

func (p Product) Record() replica.Record {
	fields := value.Map{
		FieldName:       value.String(p.Name),
		FieldPrice:      value.Int(p.Price),
		FieldCategoryID: value.String(p.CategoryID),
		FieldSKU:        value.String(p.SKU),
		FieldStock:      value.Int(p.Stock),
	}
	if p.ImageURL != "" {
		fields[FieldImageURL] = value.String(p.ImageURL)
	}
	return replica.Record{ID: p.ID, Fields: fields}
}

func DecodeProduct(rec replica.Record) (Product, error) {
	d := decoder{rec: rec}
	p := Product{
		ID:         rec.ID,
		Name:       d.str(FieldName),
		Price:      Money(d.int(FieldPrice)),
		CategoryID: d.str(FieldCategoryID),
		SKU:        d.str(FieldSKU),
		Stock:      d.int(FieldStock),
	}
	p.ImageURL, _ = rec.Fields.String(FieldImageURL)
	return p, d.err
}

func (o Order) Record() replica.Record {
	items := make(value.List, len(o.Cart.Items))
	for i, item := range o.Cart.Items {
		m := value.Map{
			"productId": value.String(item.ProductID),
			"quantity":  value.Int(item.Quantity),
			"unitPrice": value.Int(item.UnitPrice),
		}
		if item.Name != "" {
			m[FieldName] = value.String(item.Name)
		}
		items[i] = m
	}
	payments := make(value.List, len(o.Payments))
	for i, p := range o.Payments {
		m := value.Map{
			"method": value.String(p.Method),
			"amount": value.Int(p.Amount),
		}
		if p.TransactionID != "" {
			m["transactionId"] = value.String(p.TransactionID)
		}
		payments[i] = m
	}

	fields := value.Map{
		FieldItems:     items,
		FieldTaxRate:   value.Int(o.Cart.TaxRateBPS),
		FieldDiscount:  value.Int(o.Cart.Discount),
		FieldSubtotal:  value.Int(o.Subtotal),
		FieldTax:       value.Int(o.Tax),
		FieldTotal:     value.Int(o.Total),
		FieldPayments:  payments,
		FieldUserID:    value.String(o.UserID),
		FieldCreatedAt: value.String(o.CreatedAt.UTC().Format(time.RFC3339)),
	}
	if o.CustomerID != "" {
		fields[FieldCustomerID] = value.String(o.CustomerID)
	}
	return replica.Record{ID: o.ID, Fields: fields}
}

func DecodeOrder(rec replica.Record) (Order, error) {
	d := decoder{rec: rec}
	o := Order{
		ID: rec.ID,
		Cart: CartSnapshot{
			TaxRateBPS: d.int(FieldTaxRate),
			Discount:   d.int(FieldDiscount),
		},
		Subtotal: Money(d.int(FieldSubtotal)),
		Tax:      Money(d.int(FieldTax)),
		Total:    Money(d.int(FieldTotal)),
		UserID:   d.str(FieldUserID),
	}
	o.CustomerID, _ = rec.Fields.String(FieldCustomerID)

	if created := d.str(FieldCreatedAt); d.err == nil {
		t, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return o, fmt.Errorf("order %s: createdAt: %w", rec.ID, err)
		}
		o.CreatedAt = t.UTC()
	}

	for i, elem := range d.list(FieldItems) {
		item := subDecoder(rec.ID, fmt.Sprintf("items[%d]", i), elem)
		ci := CartItem{
			ProductID: item.str("productId"),
			Quantity:  item.int("quantity"),
			UnitPrice: Money(item.int("unitPrice")),
		}
		ci.Name, _ = item.m.String(FieldName)
		if item.err != nil {
			return o, item.err
		}
		o.Cart.Items = append(o.Cart.Items, ci)
	}

	for i, elem := range d.list(FieldPayments) {
		pd := subDecoder(rec.ID, fmt.Sprintf("payments[%d]", i), elem)
		p := Payment{
			Method: PaymentMethod(pd.str("method")),
			Amount: Money(pd.int("amount")),
		}
		p.TransactionID, _ = pd.m.String("transactionId")
		if pd.err != nil {
			return o, pd.err
		}
		o.Payments = append(o.Payments, p)
	}
	return o, d.err
}

// decoder reads required fields and keeps the first error.
type decoder struct {
	rec replica.Record
	err error
}

func (d *decoder) str(field string) string {
	s, ok := d.rec.Fields.String(field)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("record %s: missing or non-string field %q", d.rec.ID, field)
	}
	return s
}

func (d *decoder) int(field string) int64 {
	n, ok := d.rec.Fields.Int(field)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("record %s: missing or non-integer field %q", d.rec.ID, field)
	}
	return n
}

func (d *decoder) list(field string) value.List {
	l, ok := d.rec.Fields.List(field)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("record %s: missing or non-list field %q", d.rec.ID, field)
	}
	return l
}

type nested struct {
	m   value.Map
	at  string
	err error
}

func subDecoder(id, at string, v value.Value) *nested {
	m, ok := v.(value.Map)
	n := &nested{m: m, at: id + "." + at}
	if !ok {
		n.err = fmt.Errorf("record %s: expected map", n.at)
	}
	return n
}

func (n *nested) str(field string) string {
	s, ok := n.m.String(field)
	if !ok && n.err == nil {
		n.err = fmt.Errorf("record %s: missing or non-string field %q", n.at, field)
	}
	return s
}

func (n *nested) int(field string) int64 {
	v, ok := n.m.Int(field)
	if !ok && n.err == nil {
		n.err = fmt.Errorf("record %s: missing or non-integer field %q", n.at, field)
	}
	return v
}
