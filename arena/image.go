package arena

// ImageLayout mirrors the handful of layouts the core cares about; it is
// intentionally a small closed set rather than the full VkImageLayout
// enumeration; wgpu's texture usage model collapses most of the distinction
// away, but the barrier tracker still needs a coarse layout concept to
// decide whether a transition is required at all.
type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutTransferDst
	LayoutTransferSrc
	LayoutShaderReadOnly
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutPresentSrc
)

// AccessFlags is a bitmask of the accesses performed against a resource
// since it was last synchronized, used by combuf.IssueBarrier to decide
// whether a dependency must be inserted.
type AccessFlags uint32

const (
	AccessNone AccessFlags = 0
	AccessTransferWrite AccessFlags = 1 << iota
	AccessTransferRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessDepthAttachmentWrite
)

// ImageSync is the per-image synchronization record spec.md §4.2 requires:
// last layout, last write access, last read access. combuf.IssueBarrier is
// the only code allowed to mutate it.
type ImageSync struct {
	Layout      ImageLayout
	LastWrite   AccessFlags
	LastRead    AccessFlags
}

// BufferSync is the equivalent record for buffers, which track only an
// access mask (buffers have no layout concept).
type BufferSync struct {
	LastWrite AccessFlags
	LastRead  AccessFlags
}

// Image is a typed GPU image plus its devmem-backed allocation metadata.
// The extra UNORM view (spec.md §4.2) is created by the caller alongside
// the sRGB view when flags request it; this struct only records whether
// one was requested so downstream bind-group construction knows to expect
// two views.
type Image struct {
	Name          string
	Format        string
	Width, Height uint32
	Layers        uint32
	Mips          uint32
	HasExtraUNORMView bool
	Sync          ImageSync
}

// BufferLifetime classifies a whole buffer's allocation policy (spec.md
// §3): SingleFrame buffers are re-carved from the flipping allocator every
// frame, Long buffers persist for the whole map.
type BufferLifetime int

const (
	BufferSingleFrame BufferLifetime = iota
	BufferLong
)

// Buffer is a typed GPU buffer plus its devmem-backed allocation metadata
// and lifetime classification.
type Buffer struct {
	Name     string
	Size     uint64
	Lifetime BufferLifetime
	Mapped   bool
	Sync     BufferSync
}
