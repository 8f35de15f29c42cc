package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/lanpos/internal/checkout"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Peer     string // Peer whose state failed, empty for cross-peer checks
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Peer != "" {
		fmt.Fprintf(&buf, " on %s", e.Peer)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// evaluate checks every assertion and returns failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		var errs []error
		if a.Type == AssertConverged {
			if err := h.assertConverged(ctx); err != nil {
				errs = append(errs, err)
			}
		} else {
			for _, p := range h.order {
				if err := h.assertOnPeer(ctx, p, a); err != nil {
					errs = append(errs, err)
				}
			}
		}
		for _, err := range errs {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func (h *Harness) assertOnPeer(ctx context.Context, p *peerState, a Assertion) error {
	switch a.Type {
	case AssertStock, AssertPrice:
		rec, ok, err := p.doc.Collection(pos.CollectionProducts).Get(ctx, a.Product)
		if err != nil {
			return err
		}
		if !ok {
			return &AssertionError{Type: a.Type, Peer: p.id, Expected: "product " + a.Product, Actual: "not found"}
		}
		product, err := pos.DecodeProduct(rec)
		if err != nil {
			return err
		}
		got := product.Stock
		if a.Type == AssertPrice {
			got = int64(product.Price)
		}
		if got != a.Expect {
			return &AssertionError{
				Type:     a.Type,
				Peer:     p.id,
				Expected: fmt.Sprintf("%s %s = %d", a.Product, a.Type, a.Expect),
				Actual:   fmt.Sprintf("%d", got),
			}
		}

	case AssertOrderCount:
		orders, err := p.doc.Collection(pos.CollectionOrders).Records(ctx)
		if err != nil {
			return err
		}
		if int64(len(orders)) != a.Expect {
			return &AssertionError{
				Type:     a.Type,
				Peer:     p.id,
				Expected: fmt.Sprintf("%d orders", a.Expect),
				Actual:   fmt.Sprintf("%d orders", len(orders)),
			}
		}

	case AssertOversold:
		report, err := checkout.NewCoordinator(p.doc, nil, checkout.WithLogger(h.logger)).Reconcile(ctx)
		if err != nil {
			return err
		}
		got := make([]string, 0, len(report.Products))
		for _, o := range report.Products {
			got = append(got, o.ProductID)
		}
		want := slices.Clone(a.Products)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     a.Type,
				Peer:     p.id,
				Expected: fmt.Sprintf("oversold %v", want),
				Actual:   fmt.Sprintf("oversold %v", got),
			}
		}
	}
	return nil
}

var allCollections = []string{
	pos.CollectionUsers,
	pos.CollectionCategories,
	pos.CollectionProducts,
	pos.CollectionOrders,
}

// collectionsDigest is the canonical encoding of every materialized collection.
func (h *Harness) collectionsDigest(ctx context.Context, p *peerState) ([]byte, error) {
	state := value.Map{}
	for _, name := range allCollections {
		records, err := p.doc.Collection(name).Records(ctx)
		if err != nil {
			return nil, err
		}
		list := make(value.List, len(records))
		for i, rec := range records {
			list[i] = value.Map{"id": value.String(rec.ID), "fields": rec.Fields}
		}
		state[name] = list
	}
	return value.Canonical(state)
}

func (h *Harness) converged(ctx context.Context) (bool, string, error) {
	var first []byte
	for _, p := range h.order {
		digest, err := h.collectionsDigest(ctx, p)
		if err != nil {
			return false, "", err
		}
		if first == nil {
			first = digest
			continue
		}
		if !bytes.Equal(first, digest) {
			return false, p.id, nil
		}
	}
	return true, "", nil
}

func (h *Harness) assertConverged(ctx context.Context) error {
	ok, divergent, err := h.converged(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: "identical collections on every peer",
			Actual:   fmt.Sprintf("%s differs from %s", divergent, h.order[0].id),
		}
	}
	return nil
}
