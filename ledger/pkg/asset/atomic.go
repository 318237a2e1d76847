package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type movement struct {
	asset    common.Address
	from, to common.Address
	amount   *uint256.Int
	mint     bool
}

type tx struct {
	mu        sync.Mutex
	movements []movement
}

func (t *tx) record(m movement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.movements = append(t.movements, m)
}

type txKey struct{}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// Atomically runs fn and undoes every movement made through the context it was
// given when fn fails. Calls nested in an outer Atomically join the outer one.
func (b *Bank) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		b.undo(t)
		return err
	}
	return nil
}

func (b *Bank) undo(t *tx) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.movements) - 1; i >= 0; i-- {
		m := t.movements[i]
		l := b.assets[m.asset]
		l.debit(m.to, m.amount)
		if m.mint {
			l.supply = new(uint256.Int).Sub(l.supply, m.amount)
		} else {
			l.credit(m.from, m.amount)
		}
	}
	b.log.Debug("asset: rolled back", "movements", len(t.movements))
}
