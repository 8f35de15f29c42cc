package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: basic
description: one sale on one till
peers: [till-1]
seed: till-1
watch: [prod-1]
steps:
  - sell:
      peer: till-1
      user: user-1
      pin: "1234"
      items:
        - product: prod-1
          quantity: 2
      payments:
        - method: cash
          amount: 540
assertions:
  - type: stock
    product: prod-1
    expect: 98
  - type: converged
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic", scenario.Name)
	assert.Equal(t, []string{"till-1"}, scenario.Peers)
	assert.Equal(t, "till-1", scenario.Seed)
	require.Len(t, scenario.Steps, 1)
	sell := scenario.Steps[0].Sell
	require.NotNil(t, sell)
	assert.Equal(t, "1234", sell.PIN)
	assert.Equal(t, []ItemSpec{{Product: "prod-1", Quantity: 2}}, sell.Items)
	assert.Equal(t, []PaymentSpec{{Method: "cash", Amount: 540}}, sell.Payments)
	require.Len(t, scenario.Assertions, 2)
	assert.Equal(t, Assertion{Type: AssertStock, Product: "prod-1", Expect: 98}, scenario.Assertions[0])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(validScenario + "flows: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\npeers: [a]\nsteps: [{sync: [a, b]}]\nassertions: [{type: converged}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\npeers: [a]\nsteps: [{sync: [a, b]}]\nassertions: [{type: converged}]\n",
			want: "description is required",
		},
		{
			name: "no peers",
			yaml: "name: n\ndescription: d\nsteps: [{sync: [a, b]}]\nassertions: [{type: converged}]\n",
			want: "peers list is required",
		},
		{
			name: "duplicate peer",
			yaml: "name: n\ndescription: d\npeers: [a, a]\nsteps: [{sync: [a, b]}]\nassertions: [{type: converged}]\n",
			want: "duplicate peer",
		},
		{
			name: "unknown seed",
			yaml: "name: n\ndescription: d\npeers: [a]\nseed: z\nsteps: [{restock: {peer: a, product: p, quantity: 1}}]\nassertions: [{type: converged}]\n",
			want: "seed: unknown peer",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\npeers: [a]\nassertions: [{type: converged}]\n",
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\npeers: [a, b]\nsteps: [{sync: [a, b]}]\n",
			want: "assertions list is required",
		},
		{
			name: "sync with one peer",
			yaml: "name: n\ndescription: d\npeers: [a, b]\nsteps: [{sync: [a, a]}]\nassertions: [{type: converged}]\n",
			want: "sync needs two distinct peers",
		},
		{
			name: "sync unknown peer",
			yaml: "name: n\ndescription: d\npeers: [a, b]\nsteps: [{sync: [a, c]}]\nassertions: [{type: converged}]\n",
			want: `unknown peer "c"`,
		},
		{
			name: "two actions in one step",
			yaml: "name: n\ndescription: d\npeers: [a, b]\nsteps: [{sync: [a, b], restock: {peer: a, product: p, quantity: 1}}]\nassertions: [{type: converged}]\n",
			want: "exactly one of",
		},
		{
			name: "empty step",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{}]\nassertions: [{type: converged}]\n",
			want: "exactly one of",
		},
		{
			name: "sell without user",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{sell: {peer: a, items: []}}]\nassertions: [{type: converged}]\n",
			want: "sell: user is required",
		},
		{
			name: "sell zero quantity",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{sell: {peer: a, user: u, items: [{product: p, quantity: 0}]}}]\nassertions: [{type: converged}]\n",
			want: "positive quantity",
		},
		{
			name: "set_price without product",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{set_price: {peer: a, price: 1}}]\nassertions: [{type: converged}]\n",
			want: "set_price: product is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{restock: {peer: a, product: p, quantity: 1}}]\nassertions: [{type: revenue}]\n",
			want: `unknown assertion type "revenue"`,
		},
		{
			name: "stock assertion without product",
			yaml: "name: n\ndescription: d\npeers: [a]\nsteps: [{restock: {peer: a, product: p, quantity: 1}}]\nassertions: [{type: stock, expect: 1}]\n",
			want: "product is required for stock",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
