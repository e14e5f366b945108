package kvcache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/ollama/x/kvcache/ml"
)

// tensorPane owns the per-layer K/V storage tensors. Layers whose
// backend reports the same BufferKind share one allocation Context,
// mirroring llama.cpp's ctx_map[buft] grouping so tensors destined for
// the same device/offload tier land in one contiguous backend
// allocation.
type tensorPane struct {
	dtypeK, dtypeV ml.DType

	mu   sync.Mutex
	ctxs map[ml.BufferKind]ml.Context

	k, v []ml.Tensor
}

func newTensorPane(dtypeK, dtypeV ml.DType) *tensorPane {
	return &tensorPane{
		dtypeK: dtypeK,
		dtypeV: dtypeV,
		ctxs:   make(map[ml.BufferKind]ml.Context),
	}
}

// init allocates nEmbdK(layer)*size and nEmbdV(layer)*size element K
// and V tensors for every layer, zero-filled so unused padding never
// surfaces as NaNs to an attention kernel (spec §4.1). Per-layer
// allocation is independent, so layers are allocated concurrently;
// this runs once during Cache.Init, before any caller can be mutating
// the cache concurrently, so it does not violate the single-threaded-
// mutation contract of §5.
func (p *tensorPane) init(backend ml.Backend, hp HParams, size int) error {
	n := hp.LayerCount()
	p.k = make([]ml.Tensor, n)
	p.v = make([]ml.Tensor, n)

	g := new(errgroup.Group)
	for layer := 0; layer < n; layer++ {
		layer := layer
		g.Go(func() error {
			ctx, err := p.contextFor(backend, layer)
			if err != nil {
				return fmt.Errorf("kvcache: tensor pane layer %d: %w", layer, err)
			}

			k, err := ctx.NewTensor1D(p.dtypeK, hp.EmbedKGQA(layer)*size)
			if err != nil {
				return fmt.Errorf("kvcache: allocate K for layer %d: %w", layer, err)
			}
			v, err := ctx.NewTensor1D(p.dtypeV, hp.EmbedVGQA(layer)*size)
			if err != nil {
				return fmt.Errorf("kvcache: allocate V for layer %d: %w", layer, err)
			}

			p.k[layer] = k
			p.v[layer] = v
			return nil
		})
	}

	return g.Wait()
}

func (p *tensorPane) contextFor(backend ml.Backend, layer int) (ml.Context, error) {
	kind := backend.BufferKind(layer)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx, ok := p.ctxs[kind]; ok {
		return ctx, nil
	}

	ctx, err := backend.NewContext(kind)
	if err != nil {
		return nil, err
	}
	p.ctxs[kind] = ctx
	return ctx, nil
}

// clear zero-fills every backing tensor, used by Cache.Clear.
func (p *tensorPane) clear() {
	for _, t := range p.k {
		if t != nil {
			t.Zero()
		}
	}
	for _, t := range p.v {
		if t != nil {
			t.Zero()
		}
	}
}

// elementCounts reports the number of elements summed across every K
// tensor and across every V tensor; Cache.TotalSize converts these to
// bytes using the element
// widths of dtypeK/dtypeV.
func (p *tensorPane) elementCounts() (k, v int) {
	for _, t := range p.k {
		if t != nil {
			k += t.Len()
		}
	}
	for _, t := range p.v {
		if t != nil {
			v += t.Len()
		}
	}
	return k, v
}

func (p *tensorPane) close() error {
	var firstErr error
	for _, ctx := range p.ctxs {
		if err := ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// elementSize is a rough byte width per element, used only for
// TotalSize reporting; the real backend knows the exact packed size
// for quantized types, this is an estimate for observability.
func elementSize(dtype ml.DType) int {
	switch dtype {
	case ml.DTypeF32:
		return 4
	case ml.DTypeF16:
		return 2
	case ml.DTypeQ8_0:
		return 1
	case ml.DTypeQ4_0:
		return 1
	default:
		return 4
	}
}
