// Package harness runs multi-till scenarios against real replicas.
//
// A scenario names a set of peers, seeds one of them with the default
// catalog, and then plays a list of steps: sales, price changes, restocks and
// pairwise syncs. Peers only exchange ops on an explicit sync step, so a
// scenario can model tills working through a network partition.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline-oversell
//	description: "What this scenario validates"
//	peers: [till-1, till-2]
//	seed: till-1
//	watch: [prod-12]
//	steps:
//	  - sync: [till-1, till-2]
//	  - sell:
//	      peer: till-1
//	      user: user-1
//	      pin: "1234"
//	      items: [{product: prod-12, quantity: 20}]
//	  - set_price: {peer: till-2, product: prod-1, price: 300}
//	  - restock: {peer: till-2, product: prod-1, quantity: 10}
//	assertions:
//	  - type: stock
//	    product: prod-12
//	    expect: -10
//	  - type: converged
//
// # Assertion Types
//
//   - stock: a product's stock on every peer
//   - price: a product's price on every peer
//   - order_count: the number of orders on every peer
//   - oversold: the exact set of oversold products on every peer
//   - converged: every peer materializes identical collections
//
// # Deterministic Testing
//
// Peer ids come from the scenario, order ids from a per-peer sequence and
// timestamps from testutil.StepClock, so a scenario produces the same op log
// on every run. RunWithGolden snapshots the outcome as canonical JSON under
// testdata/golden.
package harness
