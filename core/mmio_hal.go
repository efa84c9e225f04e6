package core

// Registers is the register window of one coreSPI block.
// Offsets are byte offsets from the block base; all accesses are 32 bits wide.
// Platform code provides the implementation (MMIO on hardware, a model in tests).
type Registers interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}
