package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/payment"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/store"
	"github.com/roach88/fold/internal/testutil"
	"github.com/roach88/fold/internal/value"
)

func dist(n uint32) *uint32 { return &n }

func testSchemas() []schema.Schema {
	return []schema.Schema{
		{
			Name:    "Profile",
			Version: 1,
			Fields: map[string]schema.FieldDefinition{
				"bio": {
					Type: schema.Single,
					Access: schema.AccessPolicy{
						Read:  schema.AccessRule{MaxDistance: schema.Uint32(5)},
						Write: schema.AccessRule{MaxDistance: schema.Uint32(1)},
					},
					Fee: schema.FeePolicy{BaseMultiplier: 1},
				},
				"email": {
					Type: schema.Single,
					Access: schema.AccessPolicy{
						Read:  schema.AccessRule{MaxDistance: schema.Uint32(5)},
						Write: schema.AccessRule{Allow: []string{"pk-alice"}},
					},
					Fee: schema.FeePolicy{
						BaseMultiplier:      10,
						TrustScaling:        schema.Linear(2, 0, 1),
						MinPaymentThreshold: schema.Uint64(5),
					},
				},
				"links": {
					Type: schema.Range,
					Access: schema.AccessPolicy{
						Read:  schema.AccessRule{MaxDistance: schema.Uint32(5)},
						Write: schema.AccessRule{MaxDistance: schema.Uint32(1)},
					},
					Fee: schema.FeePolicy{BaseMultiplier: 1},
				},
				"tags": {
					Type: schema.Collection,
					Access: schema.AccessPolicy{
						Read:  schema.AccessRule{MaxDistance: schema.Uint32(5)},
						Write: schema.AccessRule{MaxDistance: schema.Uint32(1)},
					},
					Fee: schema.FeePolicy{BaseMultiplier: 1},
				},
			},
		},
		{
			Name: "Contact",
			Fields: map[string]schema.FieldDefinition{
				"email": {
					Type: schema.Single,
					Access: schema.AccessPolicy{
						Read:  schema.AccessRule{MaxDistance: schema.Uint32(9)},
						Write: schema.AccessRule{MaxDistance: schema.Uint32(0)},
					},
					Fee:    schema.FeePolicy{BaseMultiplier: 1},
					MapsTo: &schema.FieldRef{Schema: "Profile", Field: "email"},
				},
			},
		},
	}
}

// fixture wires a pipeline over a memory store with deterministic ids.
type fixture struct {
	mem     *store.Memory
	ledger  *payment.Ledger
	p       *Pipeline
	mu      sync.Mutex
	stages  []Stage
	history []string
}

func newFixture(t *testing.T, backend store.Backend, opts ...Option) *fixture {
	t.Helper()

	reg := schema.NewRegistry()
	require.NoError(t, reg.Load(testSchemas()...))

	f := &fixture{ledger: payment.NewLedger()}
	if backend == nil {
		f.mem = store.NewMemory()
		backend = f.mem
	}
	ch := chain.New(backend,
		chain.WithClock(testutil.NewDeterministicClock()),
		chain.WithIDGenerator(testutil.NewSequenceGenerator("r")),
		chain.WithMaxAttempts(32))

	base := []Option{
		WithGateway(f.ledger),
		WithObserver(func(tr Transition) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.stages = append(f.stages, tr.Stage)
			f.history = append(f.history, tr.String())
		}),
	}
	f.p = New(reg, ch, append(base, opts...)...)
	return f
}

func (f *fixture) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = nil
	f.history = nil
}

func (f *fixture) seenStages() []Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Stage(nil), f.stages...)
}

// write performs a permitted write at distance 0, prepaying on the
// pipeline's ledger so paid fields never wait.
func (f *fixture) write(t *testing.T, field, entity string, content value.Value) *Result {
	t.Helper()
	ctx := context.Background()
	req := Request{
		Kind:    OpUpdate,
		Schema:  "Profile",
		Field:   field,
		Entity:  entity,
		Caller:  Caller{Key: "pk-alice", Distance: dist(0)},
		Content: content,
	}
	if l, ok := f.p.gateway.(*payment.Ledger); ok {
		inv, err := l.CreateInvoice(ctx, 1_000_000, "prepaid")
		require.NoError(t, err)
		require.NoError(t, l.Settle(inv.Ref))
		req.Proof = inv.Ref
	}
	res, err := f.p.Execute(ctx, req)
	require.NoError(t, err)
	return res
}

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	require.Error(t, err)
	rej, ok := err.(*Rejection)
	require.True(t, ok, "expected *Rejection, got %T: %v", err, err)
	return rej
}

// alwaysConflict loses every pointer swap.
type alwaysConflict struct {
	store.Backend
}

func (alwaysConflict) SwapPointer(ctx context.Context, key store.PointerKey, expected, next string, at time.Time) error {
	return &store.ConflictError{Key: key, Expected: expected, Actual: "other"}
}

// brokenStore fails every operation.
type brokenStore struct {
	store.Backend
}

func (brokenStore) GetPointer(ctx context.Context, key store.PointerKey) (*store.Pointer, error) {
	return nil, &store.StorageError{Op: "get pointer", Err: context.DeadlineExceeded}
}
