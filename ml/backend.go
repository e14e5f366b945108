// Package ml defines the narrow tensor/backend surface the KV cache
// bookkeeping core needs from its host inference runtime.
//
// The runtime's attention kernels, tensor math, and compute backends are
// external collaborators (see spec §1): this package exists only so the
// cache can request storage for its K/V buffers and hand back something
// an external kernel can read and write. It intentionally does not
// define attention, RoPE, or any other compute operation.
package ml

import "fmt"

// DType is the element type used to store one K or V entry.
type DType int

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeQ8_0
	DTypeQ4_0
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeQ8_0:
		return "q8_0"
	case DTypeQ4_0:
		return "q4_0"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// BufferKind identifies a backend allocation target: a device, an
// offload tier, or whatever grouping the host backend uses to decide
// which tensors can share one allocation context. Two layers that
// report the same BufferKind (by ==) are allocated from the same
// Context, mirroring how llama.cpp groups cache tensors by
// ggml_backend_buffer_type_t.
type BufferKind interface {
	// Name is used only for logging.
	Name() string
}

// Tensor is a 1-D backing buffer for one layer's K or V cache. Reading
// and writing its contents during attention is the external kernel's
// job; the cache only needs to allocate, size, and zero it.
type Tensor interface {
	// Len is the number of elements in the tensor.
	Len() int
	DType() DType

	// Zero overwrites the tensor with zero bytes, so stale padding
	// never surfaces as NaNs to an attention kernel.
	Zero()
}

// Context is an allocation scope backed by one BufferKind. Tensors
// allocated from the same Context are expected to share one
// contiguous backend allocation.
type Context interface {
	// NewTensor1D allocates a zero-filled 1-D tensor of n elements.
	NewTensor1D(dtype DType, n int) (Tensor, error)

	// Close releases the context. It does not free tensors allocated
	// from it; those live for the lifetime of the backend allocation.
	Close() error
}

// Backend is supplied by the host runtime and is the cache's only
// external dependency for storage. Models/backends implement it;
// the cache never talks to a GPU, file, or network directly.
type Backend interface {
	// BufferKind reports which allocation group a layer's tensors
	// belong to, e.g. based on offload placement.
	BufferKind(layer int) BufferKind

	// NewContext returns the (possibly shared) allocation context for
	// a BufferKind, creating it on first use.
	NewContext(kind BufferKind) (Context, error)
}
