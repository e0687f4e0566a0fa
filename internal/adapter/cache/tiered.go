package cache

import (
	"context"

	"github.com/mazi76erX2/vault-sub000/internal/port"
)

// Tiered checks a local cache before a shared one and promotes shared hits.
type Tiered struct {
	local  port.VectorCache
	shared port.VectorCache
}

func NewTiered(local, shared port.VectorCache) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := t.local.Get(ctx, key); ok {
		return v, true
	}
	v, ok := t.shared.Get(ctx, key)
	if ok {
		t.local.Put(ctx, key, v)
	}
	return v, ok
}

func (t *Tiered) Put(ctx context.Context, key string, vector []float32) {
	t.local.Put(ctx, key, vector)
	t.shared.Put(ctx, key, vector)
}
