package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lanpos/internal/checkout"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/value"
)

// snapshot summarizes the final state for golden comparison: the orders,
// watched products and oversold report as seen by the first peer, every
// peer's state vector, and whether all peers converged.
func (h *Harness) snapshot(ctx context.Context) (value.Map, error) {
	first := h.order[0]

	converged, _, err := h.converged(ctx)
	if err != nil {
		return nil, err
	}

	records, err := first.doc.Collection(pos.CollectionOrders).Records(ctx)
	if err != nil {
		return nil, err
	}
	orders := value.List{}
	for _, rec := range records {
		o, err := pos.DecodeOrder(rec)
		if err != nil {
			return nil, err
		}
		items := value.List{}
		for _, item := range o.Cart.Items {
			items = append(items, value.Map{
				"productId": value.String(item.ProductID),
				"quantity":  value.Int(item.Quantity),
			})
		}
		orders = append(orders, value.Map{
			"id":     value.String(o.ID),
			"items":  items,
			"total":  value.Int(o.Total),
			"userId": value.String(o.UserID),
		})
	}

	products := value.Map{}
	for _, id := range h.scenario.Watch {
		rec, ok, err := first.doc.Collection(pos.CollectionProducts).Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		p, err := pos.DecodeProduct(rec)
		if err != nil {
			return nil, err
		}
		products[id] = value.Map{"price": value.Int(p.Price), "stock": value.Int(p.Stock)}
	}

	report, err := checkout.NewCoordinator(first.doc, nil, checkout.WithLogger(h.logger)).Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	oversold := value.List{}
	for _, o := range report.Products {
		oversold = append(oversold, value.Map{
			"productId": value.String(o.ProductID),
			"shortfall": value.Int(o.Shortfall),
		})
	}

	peers := value.List{}
	for _, p := range h.order {
		vector, err := p.doc.StateVector(ctx)
		if err != nil {
			return nil, err
		}
		vm := value.Map{}
		for peer, seq := range vector {
			vm[peer] = value.Int(seq)
		}
		peers = append(peers, value.Map{"peer": value.String(p.id), "vector": vm})
	}

	return value.Map{
		"name":      value.String(h.scenario.Name),
		"converged": value.Bool(converged),
		"orders":    orders,
		"products":  products,
		"oversold":  oversold,
		"peers":     peers,
	}, nil
}

// RunWithGolden executes a scenario and compares its snapshot against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	snapshotJSON, err := value.Canonical(result.Snapshot)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshotJSON)

	return result, nil
}
