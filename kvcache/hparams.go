package kvcache

// StaticHParams is a plain-data HParams, convenient for tests and for
// model loaders that have already parsed their GGUF KV store into
// per-layer slices rather than exposing a lookup interface.
type StaticHParams struct {
	EmbedKGQAWidths []int
	EmbedVGQAWidths []int
	IsRecurrent     bool
	IsMLA           bool
}

func (h StaticHParams) LayerCount() int { return len(h.EmbedKGQAWidths) }

func (h StaticHParams) EmbedKGQA(layer int) int { return h.EmbedKGQAWidths[layer] }
func (h StaticHParams) EmbedVGQA(layer int) int { return h.EmbedVGQAWidths[layer] }

func (h StaticHParams) Recurrent() bool { return h.IsRecurrent }
func (h StaticHParams) MLA() bool       { return h.IsMLA }

// StaticComputeParams is a plain-data ComputeParams.
type StaticComputeParams struct {
	FlashAttn bool
}

func (c StaticComputeParams) FlashAttention() bool { return c.FlashAttn }
