package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/cart"
	"github.com/roach88/lanpos/internal/catalog"
	"github.com/roach88/lanpos/internal/checkout"
	"github.com/roach88/lanpos/internal/ids"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/projection"
	"github.com/roach88/lanpos/internal/replica"
	"github.com/roach88/lanpos/internal/session"
	"github.com/roach88/lanpos/internal/testutil"
	"github.com/roach88/lanpos/internal/value"
)

// Epoch is the first timestamp handed out by the scenario clock.
var Epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the final state used for golden comparison.
	Snapshot value.Map `json:"snapshot"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

type peerState struct {
	id  string
	doc *replica.Replica
	ids *ids.SequenceGenerator
}

// Harness holds the replicas of one scenario run.
type Harness struct {
	scenario *Scenario
	peers    map[string]*peerState
	order    []*peerState
	clock    *testutil.StepClock
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each peer runs on a fresh in-memory database. Step failures that a scenario
// can expect (checkout errors) are recorded in the result; infrastructure
// failures abort the run with an error.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		peers:    make(map[string]*peerState),
		clock:    testutil.NewStepClock(Epoch, time.Minute),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	defer h.close()

	for _, id := range scenario.Peers {
		doc, err := replica.Open(":memory:", replica.WithPeerID(id), replica.WithLogger(h.logger))
		if err != nil {
			return nil, fmt.Errorf("open peer %s: %w", id, err)
		}
		p := &peerState{id: id, doc: doc, ids: ids.NewSequenceGenerator(id)}
		h.peers[id] = p
		h.order = append(h.order, p)
	}

	if scenario.Seed != "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		seeder := catalog.Seeder{Cost: bcrypt.MinCost, Logger: h.logger}
		if _, err := seeder.Seed(ctx, h.peers[scenario.Seed].doc, cat); err != nil {
			return nil, fmt.Errorf("seed %s: %w", scenario.Seed, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result, i); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		result.AddError(msg)
	}

	snapshot, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	result.Snapshot = snapshot
	return result, nil
}

func (h *Harness) close() {
	for _, p := range h.order {
		p.doc.Close()
	}
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result, index int) error {
	switch {
	case step.Sync != nil:
		stats, err := replica.Sync(ctx, h.peers[step.Sync[0]].doc, h.peers[step.Sync[1]].doc)
		if err != nil {
			return err
		}
		h.logger.Debug("synced", "a", step.Sync[0], "b", step.Sync[1], "aToB", stats.AToB, "bToA", stats.BToA)
		return nil

	case step.Sell != nil:
		if msg := h.sell(ctx, step.Sell); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d]: %s", index, msg))
		}
		return nil

	case step.SetPrice != nil:
		s := step.SetPrice
		return h.peers[s.Peer].doc.Collection(pos.CollectionProducts).
			UpdateField(ctx, s.Product, pos.FieldPrice, value.Int(s.Price))

	case step.Restock != nil:
		s := step.Restock
		return h.peers[s.Peer].doc.Collection(pos.CollectionProducts).
			AddDelta(ctx, s.Product, pos.FieldStock, s.Quantity)
	}
	return fmt.Errorf("empty step")
}

// sell rings up one sale and returns a failure message, or "" when the
// outcome matched the step's expectation.
func (h *Harness) sell(ctx context.Context, step *SellStep) string {
	p := h.peers[step.Peer]

	sess := session.New(p.doc, h.logger)
	if _, err := sess.Login(ctx, step.User, step.PIN); err != nil {
		h.logger.Debug("selling signed out", "peer", p.id, "user", step.User, "error", err)
	}

	products, err := projection.SubscribeProducts(ctx, p.doc, projection.WithLogger(h.logger))
	if err != nil {
		return fmt.Sprintf("load products: %v", err)
	}
	defer products.Close()

	c := cart.New(products)
	for _, item := range step.Items {
		c.AddItem(item.Product)
		c.SetQuantity(item.Product, item.Quantity)
	}

	payments := make([]pos.Payment, 0, len(step.Payments))
	for _, pay := range step.Payments {
		payments = append(payments, pos.Payment{Method: pos.PaymentMethod(pay.Method), Amount: pos.Money(pay.Amount)})
	}
	if len(payments) == 0 {
		payments = append(payments, pos.Payment{Method: pos.PaymentCash, Amount: c.Total()})
	}

	coord := checkout.NewCoordinator(p.doc, sess,
		checkout.WithIDGenerator(p.ids),
		checkout.WithClock(h.clock.Now),
		checkout.WithLogger(h.logger),
	)
	_, err = coord.CreateOrder(ctx, c, payments)

	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Sprintf("sell on %s: unexpected error: %v", p.id, err)
	case step.ExpectError == "":
		return ""
	case err == nil:
		return fmt.Sprintf("sell on %s: expected %s, sale succeeded", p.id, step.ExpectError)
	}

	var ce *checkout.Error
	if !errors.As(err, &ce) {
		return fmt.Sprintf("sell on %s: expected %s, got %v", p.id, step.ExpectError, err)
	}
	if string(ce.Code) != step.ExpectError {
		return fmt.Sprintf("sell on %s: expected %s, got %s", p.id, step.ExpectError, ce.Code)
	}
	return ""
}
