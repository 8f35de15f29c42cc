package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a multi-till test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Peers lists the peer ids. Each gets its own in-memory replica.
	Peers []string `yaml:"peers"`

	// Seed names the peer that loads the default catalog before any step.
	// Other peers start empty and receive the catalog by syncing.
	Seed string `yaml:"seed,omitempty"`

	// Watch lists product ids whose price and stock appear in the snapshot.
	Watch []string `yaml:"watch,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state of every peer.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	// Sync exchanges ops between two peers in both directions.
	Sync []string `yaml:"sync,omitempty"`

	Sell     *SellStep    `yaml:"sell,omitempty"`
	SetPrice *PriceStep   `yaml:"set_price,omitempty"`
	Restock  *RestockStep `yaml:"restock,omitempty"`
}

// SellStep signs in and rings up a sale on one peer.
type SellStep struct {
	Peer  string     `yaml:"peer"`
	User  string     `yaml:"user"`
	PIN   string     `yaml:"pin"`
	Items []ItemSpec `yaml:"items"`

	// Payments defaults to the cart total in cash.
	Payments []PaymentSpec `yaml:"payments,omitempty"`

	// ExpectError is the checkout error code the sale must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ItemSpec is one cart line.
type ItemSpec struct {
	Product  string `yaml:"product"`
	Quantity int64  `yaml:"quantity"`
}

// PaymentSpec is one payment. Amount is in cents.
type PaymentSpec struct {
	Method string `yaml:"method"`
	Amount int64  `yaml:"amount"`
}

// PriceStep overwrites a product's price.
type PriceStep struct {
	Peer    string `yaml:"peer"`
	Product string `yaml:"product"`
	Price   int64  `yaml:"price"`
}

// RestockStep adds units to a product's stock.
type RestockStep struct {
	Peer     string `yaml:"peer"`
	Product  string `yaml:"product"`
	Quantity int64  `yaml:"quantity"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Product is the product id (used by stock and price).
	Product string `yaml:"product,omitempty"`

	// Expect is the expected stock, price or order count.
	Expect int64 `yaml:"expect,omitempty"`

	// Products is the expected oversold set (used by oversold).
	Products []string `yaml:"products,omitempty"`
}

// Assertion type constants.
const (
	AssertStock      = "stock"
	AssertPrice      = "price"
	AssertOrderCount = "order_count"
	AssertOversold   = "oversold"
	AssertConverged  = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is invalid.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// step names known peers.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Peers) == 0 {
		return fmt.Errorf("peers list is required and must be non-empty")
	}
	for i, p := range s.Peers {
		if p == "" {
			return fmt.Errorf("peers[%d]: empty peer id", i)
		}
		if slices.Contains(s.Peers[:i], p) {
			return fmt.Errorf("peers[%d]: duplicate peer %q", i, p)
		}
	}
	if s.Seed != "" && !slices.Contains(s.Peers, s.Seed) {
		return fmt.Errorf("seed: unknown peer %q", s.Seed)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(s, step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s *Scenario, step Step) error {
	set := 0
	var peers []string
	if step.Sync != nil {
		set++
		if len(step.Sync) != 2 || step.Sync[0] == step.Sync[1] {
			return fmt.Errorf("sync needs two distinct peers")
		}
		peers = append(peers, step.Sync...)
	}
	if step.Sell != nil {
		set++
		if step.Sell.User == "" {
			return fmt.Errorf("sell: user is required")
		}
		for j, item := range step.Sell.Items {
			if item.Product == "" || item.Quantity < 1 {
				return fmt.Errorf("sell: items[%d] needs a product and a positive quantity", j)
			}
		}
		peers = append(peers, step.Sell.Peer)
	}
	if step.SetPrice != nil {
		set++
		if step.SetPrice.Product == "" {
			return fmt.Errorf("set_price: product is required")
		}
		peers = append(peers, step.SetPrice.Peer)
	}
	if step.Restock != nil {
		set++
		if step.Restock.Product == "" {
			return fmt.Errorf("restock: product is required")
		}
		peers = append(peers, step.Restock.Peer)
	}
	if set != 1 {
		return fmt.Errorf("exactly one of sync, sell, set_price, restock is required")
	}
	for _, p := range peers {
		if !slices.Contains(s.Peers, p) {
			return fmt.Errorf("unknown peer %q", p)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertStock, AssertPrice:
		if a.Product == "" {
			return fmt.Errorf("product is required for %s", a.Type)
		}
	case AssertOrderCount, AssertOversold, AssertConverged:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
