package kvcache

import (
	"github.com/ollama/ollama/x/kvcache/ml"
)

// fakeBufferKind groups every layer into a single allocation context,
// the common case for small test fixtures that don't exercise offload
// placement.
type fakeBufferKind struct{ name string }

func (k fakeBufferKind) Name() string { return k.name }

type fakeTensor struct {
	dtype ml.DType
	data  []byte
}

func newFakeTensor(dtype ml.DType, n int) *fakeTensor {
	return &fakeTensor{dtype: dtype, data: make([]byte, n)}
}

func (t *fakeTensor) Len() int       { return len(t.data) }
func (t *fakeTensor) DType() ml.DType { return t.dtype }
func (t *fakeTensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

type fakeContext struct {
	tensors []*fakeTensor
	closed  bool
}

func (c *fakeContext) NewTensor1D(dtype ml.DType, n int) (ml.Tensor, error) {
	t := newFakeTensor(dtype, n)
	c.tensors = append(c.tensors, t)
	return t, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

type fakeBackend struct {
	kindByLayer map[int]ml.BufferKind
	contexts    map[ml.BufferKind]*fakeContext
}

func newFakeBackend(layers int) *fakeBackend {
	kind := fakeBufferKind{name: "cpu"}
	b := &fakeBackend{
		kindByLayer: make(map[int]ml.BufferKind, layers),
		contexts:    make(map[ml.BufferKind]*fakeContext),
	}
	for i := 0; i < layers; i++ {
		b.kindByLayer[i] = kind
	}
	return b
}

func (b *fakeBackend) BufferKind(layer int) ml.BufferKind {
	return b.kindByLayer[layer]
}

func (b *fakeBackend) NewContext(kind ml.BufferKind) (ml.Context, error) {
	if ctx, ok := b.contexts[kind]; ok {
		return ctx, nil
	}
	ctx := &fakeContext{}
	b.contexts[kind] = ctx
	return ctx, nil
}

func testHParams(layers, embedK, embedV int, recurrent, mla bool) StaticHParams {
	hp := StaticHParams{
		EmbedKGQAWidths: make([]int, layers),
		EmbedVGQAWidths: make([]int, layers),
		IsRecurrent:     recurrent,
		IsMLA:           mla,
	}
	for i := 0; i < layers; i++ {
		hp.EmbedKGQAWidths[i] = embedK
		hp.EmbedVGQAWidths[i] = embedV
	}
	return hp
}
