// Package harness runs YAML scenarios against the operation pipeline.
//
// A scenario names the CUE schemas to load, a setup that must succeed, a
// flow of operations with expected outcomes, and assertions over the
// resulting trace and store. Every run uses a fresh store, a
// deterministic clock and sequential record ids, so the trace of state
// transitions is byte-identical across runs and can be compared against
// a golden file.
//
// # Scenario Format
//
//	name: paid_email
//	description: "Reading email costs more with distance"
//	schemas:
//	  - schemas/profile.cue
//	backend: memory            # or sqlite (in-memory database)
//	payment:
//	  auto_settle: false
//	  wait: 0s
//	setup:
//	  - op: update
//	    address: Profile.email/alice
//	    caller: {key: pk-alice, distance: 0}
//	    content: "a@example.com"
//	    pay: true
//	flow:
//	  - op: read
//	    address: Profile.email/alice
//	    caller: {distance: 3}
//	    expect:
//	      code: PAYMENT_REQUIRED
//	      fee: 60
//	assertions:
//	  - type: trace_count
//	    stage: rejected
//	    count: 2
//	  - type: final_content
//	    address: Profile.email/alice
//	    content: "a@example.com"
//
// A step with pay: true settles the invoice of a PAYMENT_REQUIRED
// rejection and retries once with the invoice as proof.
//
// # Assertion Types
//
//   - trace_contains: an exact transition line appears in the trace
//   - trace_order: transition lines appear in the given order
//   - trace_count: a stage occurs exactly N times, optionally for one address
//   - final_content: the current content of an address, or deleted: true
//   - history_length: the number of versions in an address's chain
package harness
