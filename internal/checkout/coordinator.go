// Package checkout turns a cart into a recorded order.
//
// The Coordinator appends the order and decrements stock for every item as
// one grouped mutation. Stock is written only as signed deltas, so sales made
// on partitioned peers all survive when the peers reconnect. Stock never
// blocks a sale; a product that ends below zero is reported by Reconcile.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/lanpos/internal/ids"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

// Identity reports who is signed in.
type Identity interface {
	CurrentUser() (pos.User, bool)
}

// Cart is the device-local cart being checked out.
type Cart interface {
	Snapshot() pos.CartSnapshot
	Clear()
}

// Document is the replica as seen by the coordinator.
type Document interface {
	Transact(ctx context.Context, fn func(*replica.Txn) error) error
	GroupComplete(ctx context.Context, group string) (bool, error)
	Collection(name string) *replica.Collection
	Ping(ctx context.Context) error
}

// Coordinator records sales.
type Coordinator struct {
	doc      Document
	identity Identity
	ids      ids.Generator
	now      func() time.Time
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator overrides order id allocation. Defaults to UUIDv7.
func WithIDGenerator(g ids.Generator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithClock overrides the wall clock used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator writing to doc on behalf of identity.
func NewCoordinator(doc Document, identity Identity, opts ...Option) *Coordinator {
	c := &Coordinator{
		doc:      doc,
		identity: identity,
		ids:      ids.UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder records the cart as an order paid with payments and clears the
// cart. The total is always computed from the cart snapshot.
//
// On any error nothing is recorded and the cart is left untouched, except for
// PARTIAL_MUTATION_FAILURE where the commit returned but the group could not be
// confirmed.
func (c *Coordinator) CreateOrder(ctx context.Context, cart Cart, payments []pos.Payment) (pos.Order, error) {
	user, ok := c.identity.CurrentUser()
	if !ok {
		return pos.Order{}, newError(ErrCodeNotAuthenticated, "no user is signed in", nil)
	}

	snap := cart.Snapshot()
	if snap.Empty() {
		return pos.Order{}, newError(ErrCodeEmptyCart, "cart has no items", nil)
	}

	for i, p := range payments {
		if err := c.validate.Struct(p); err != nil {
			return pos.Order{}, newError(ErrCodeInvalidPayment, fmt.Sprintf("payment %d", i), err)
		}
	}

	if err := c.doc.Ping(ctx); err != nil {
		return pos.Order{}, newError(ErrCodeStoreUnavailable, "replica unavailable", err)
	}

	order := pos.Order{
		ID:        c.ids.NewID("order"),
		Cart:      snap,
		Subtotal:  snap.Subtotal(),
		Tax:       snap.Tax(),
		Total:     snap.Total(),
		Payments:  append([]pos.Payment(nil), payments...),
		UserID:    user.ID,
		CreatedAt: c.now().UTC().Truncate(time.Second),
	}

	var group string
	err := c.doc.Transact(ctx, func(tx *replica.Txn) error {
		group = tx.Group()
		if err := tx.Collection(pos.CollectionOrders).Append(ctx, order.Record()); err != nil {
			return err
		}
		return c.decrementStock(ctx, tx, order)
	})
	switch {
	case errors.Is(err, replica.ErrUnavailable), errors.Is(err, replica.ErrSeqConflict):
		return pos.Order{}, newError(ErrCodeStoreUnavailable, "record order", err)
	case err != nil:
		return pos.Order{}, newError(ErrCodeOrderRejected, "record order", err)
	}

	complete, err := c.doc.GroupComplete(ctx, group)
	if err != nil || !complete {
		c.logger.Error("order group not confirmed", "order", order.ID, "group", group, "error", err)
		return pos.Order{}, newError(ErrCodePartialMutation, fmt.Sprintf("order %s group %s incomplete", order.ID, group), err)
	}

	cart.Clear()
	c.logger.Info("order created",
		"order", order.ID,
		"user", user.ID,
		"items", len(order.Cart.Items),
		"total", order.Total.String(),
	)
	return order, nil
}

// decrementStock adds -quantity to the stock of every product in the order.
// Stock is read inside the transaction only to flag oversell.
func (c *Coordinator) decrementStock(ctx context.Context, tx *replica.Txn, order pos.Order) error {
	products := tx.Collection(pos.CollectionProducts)
	for _, item := range order.Cart.Items {
		rec, ok, err := products.Get(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			c.logger.Warn("product not in catalog, stock unchanged", "order", order.ID, "product", item.ProductID)
			continue
		}
		if stock, ok := rec.Fields.Int(pos.FieldStock); ok && stock-item.Quantity < 0 {
			c.logger.Warn("oversell",
				"order", order.ID,
				"product", item.ProductID,
				"stock", stock,
				"quantity", item.Quantity,
			)
		}
		if err := products.AddDelta(ctx, item.ProductID, pos.FieldStock, -item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Oversold is a product whose stock went below zero.
type Oversold struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	Shortfall int64  `json:"shortfall"`
}

// OversoldReport lists products that need reconciliation.
type OversoldReport struct {
	Products []Oversold `json:"products"`
}

// Empty reports whether nothing is oversold.
func (r OversoldReport) Empty() bool {
	return len(r.Products) == 0
}

// Reconcile lists every product whose stock is negative, in catalog order.
func (c *Coordinator) Reconcile(ctx context.Context) (OversoldReport, error) {
	records, err := c.doc.Collection(pos.CollectionProducts).Records(ctx)
	if err != nil {
		return OversoldReport{}, newError(ErrCodeStoreUnavailable, "read products", err)
	}

	report := OversoldReport{Products: []Oversold{}}
	for _, rec := range records {
		p, err := pos.DecodeProduct(rec)
		if err != nil {
			c.logger.Warn("skipping undecodable product", "id", rec.ID, "error", err)
			continue
		}
		if p.Stock < 0 {
			report.Products = append(report.Products, Oversold{
				ProductID: p.ID,
				Name:      p.Name,
				Stock:     p.Stock,
				Shortfall: -p.Stock,
			})
		}
	}
	return report, nil
}
