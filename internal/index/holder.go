package index

import (
	"context"
	"sync/atomic"
)

// Holder publishes the live index. Rebuilds construct a fresh *Index and swap
// it in; requests already holding the previous pointer finish against it.
type Holder struct {
	current atomic.Pointer[Index]
}

func NewHolder(initial *Index) *Holder {
	h := &Holder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

func (h *Holder) Load() *Index { return h.current.Load() }

// Swap installs next and returns the index it replaced.
func (h *Holder) Swap(next *Index) *Index { return h.current.Swap(next) }

func (h *Holder) Loaded() bool { return h.current.Load() != nil }

func (h *Holder) Retrieve(ctx context.Context, question string, k int) (string, error) {
	return h.current.Load().Retrieve(ctx, question, k)
}
