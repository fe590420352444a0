// Package ptb builds AArch64 stage-1 4 KiB-granule, 4-level translation
// tables into a caller-supplied arena, mirroring the algorithms of
// aarch64-lab's mmu.rs (map_small_page, map_pages, map_range) while
// filling in the huge- and large-page leaf paths that file leaves as
// stubs.
package ptb

import (
	"errors"

	"armboot/diag"
)

// Builder installs mappings into an Arena's translation tables.
type Builder struct {
	arena *Arena
}

// NewBuilder returns a Builder writing into arena.
func NewBuilder(arena *Arena) *Builder {
	return &Builder{arena: arena}
}

// Arena returns the underlying arena, for callers that want to inspect
// UsedSpace/LevelStats after a series of mappings.
func (b *Builder) Arena() *Arena { return b.arena }

// MapPage installs a single leaf mapping of the given size, walking and
// allocating intermediate tables as needed.
func (b *Builder) MapPage(physAddr, virtAddr uint64, size PageSize, memAttrIndex uint64) error {
	va := virtualAddress(virtAddr)

	switch size {
	case PageSmall:
		if physAddr&(pageSize4K-1) != 0 {
			return ErrMisalignedPhysAddr
		}
		if va.offset() != 0 {
			return ErrMisalignedVirtAddr
		}
		if !va.isCanonical() {
			return ErrNonCanonicalVirtAddr
		}
		return b.mapLeaf(physAddr, va, memAttrIndex, 3)

	case PageLarge:
		if physAddr&(pageSize2M-1) != 0 {
			return ErrMisalignedPhysAddr
		}
		if va.offset() != 0 || va.lvl3() != 0 {
			return ErrMisalignedVirtAddr
		}
		if !va.isCanonical() {
			return ErrNonCanonicalVirtAddr
		}
		return b.mapLeaf(physAddr, va, memAttrIndex, 2)

	case PageHuge:
		if physAddr&(pageSize1G-1) != 0 {
			return ErrMisalignedPhysAddr
		}
		if va.offset() != 0 || va.lvl3() != 0 || va.lvl2() != 0 {
			return ErrMisalignedVirtAddr
		}
		if !va.isCanonical() {
			return ErrNonCanonicalVirtAddr
		}
		return b.mapLeaf(physAddr, va, memAttrIndex, 1)

	default:
		return ErrInvalidMappingSize
	}
}

// mapLeaf walks leafLevel intermediate tables (allocating any that are
// not yet present) starting from the arena root, then installs a leaf
// block/page descriptor in the table it arrives at. leafLevel is 1 for
// a 1 GiB block (leaf lives in the L1 table), 2 for a 2 MiB block (leaf
// in L2), or 3 for a 4 KiB page (leaf in L3).
func (b *Builder) mapLeaf(physAddr uint64, va virtualAddress, memAttrIndex uint64, leafLevel int) error {
	tablePhys := b.arena.Root()

	for level := 0; level < leafLevel; level++ {
		idx := va.lvlIndex(level)
		entry := intermediateEntry(b.arena.readEntry(tablePhys, idx))

		if entry.valid() && !entry.table() {
			// A leaf was already installed here by an earlier, larger-
			// granule mapping (e.g. a 2 MiB block covering the 4 KiB
			// page now being requested) — there is no table to descend
			// into.
			return ErrAlreadyMapped
		}

		if !entry.valid() {
			nextTablePhys, err := b.arena.allocateTable(level + 1)
			if err != nil {
				return err
			}
			// The accessed flag must be set: without it QEMU fails
			// translation unless hardware access-flag management (HA)
			// is enabled in TCR_EL1.
			entry = newIntermediateEntry(true, true, true, nextTablePhys>>pageShift4K)
			b.arena.writeEntry(tablePhys, idx, uint64(entry))
		}

		tablePhys = entry.nextTablePFN() << pageShift4K
	}

	leafIdx := va.lvlIndex(leafLevel)
	existing := blockEntry(b.arena.readEntry(tablePhys, leafIdx))
	if existing.valid() {
		return ErrAlreadyMapped
	}

	leaf := newBlockEntry(blockEntryFields{
		valid:      true,
		page:       leafLevel == 3,
		accessed:   true,
		accessPerm: 1, // read/write
		sharePerm:  3, // inner shareable
		mairIdx:    memAttrIndex,
		addressPFN: physAddr >> pageShift4K,
	})
	b.arena.writeEntry(tablePhys, leafIdx, uint64(leaf))

	return nil
}

// MapPages installs mapSize/size consecutive same-size leaf mappings
// starting at physAddr/virtAddr. It stops and returns the first error
// encountered; pages already installed before the failing one are not
// rolled back, matching aarch64-lab's map_pages.
func (b *Builder) MapPages(physAddr, virtAddr, mapSize uint64, size PageSize, memAttrIndex uint64) error {
	step := uint64(size)
	pagesToMap := mapSize / step

	for i := uint64(0); i < pagesToMap; i++ {
		if err := b.MapPage(physAddr, virtAddr, size, memAttrIndex); err != nil {
			return err
		}
		physAddr += step
		virtAddr += step
	}

	return nil
}

// MapRange greedily covers [virtAddr, virtAddr+mapSize) with the
// largest leaf size each step of the way can support: 1 GiB blocks when
// both addresses are 1 GiB-aligned and at least that much remains, else
// 2 MiB blocks capped at the next 1 GiB boundary, else 4 KiB pages
// capped at the next 2 MiB (or 1 GiB) boundary.
func (b *Builder) MapRange(physAddr, virtAddr, mapSize, memAttrIndex uint64) error {
	if physAddr&(pageSize4K-1) != 0 {
		return ErrMisalignedPhysAddr
	}
	if mapSize&(pageSize4K-1) != 0 {
		return ErrInvalidMappingSize
	}
	if mapSize == 0 {
		return ErrEmptyMapping
	}

	va := virtualAddress(virtAddr)
	if va.offset() != 0 {
		return ErrMisalignedVirtAddr
	}
	if !va.isCanonical() {
		return ErrNonCanonicalVirtAddr
	}

	var mapped, nonMapped uint64 = 0, mapSize

	for mapped < mapSize {
		var step uint64

		switch {
		case physAddr&(pageSize1G-1) == 0 && virtAddr&(pageSize1G-1) == 0 && nonMapped >= pageSize1G:
			step = nonMapped &^ (pageSize1G - 1)
			if err := b.MapPages(physAddr, virtAddr, step, PageHuge, memAttrIndex); err != nil {
				return err
			}

		case physAddr&(pageSize2M-1) == 0 && virtAddr&(pageSize2M-1) == 0 && nonMapped >= pageSize2M:
			step = nonMapped &^ (pageSize2M - 1)
			if toBoundary := pageSize1G - (virtAddr & (pageSize1G - 1)); step > toBoundary {
				step = toBoundary
			}
			if err := b.MapPages(physAddr, virtAddr, step, PageLarge, memAttrIndex); err != nil {
				return err
			}

		default:
			// The distance to the next 2 MiB boundary, not
			// nonMapped mod 2M: when virtAddr is not 2M-aligned but the
			// remaining size is an exact multiple of 2M, the modulo is 0
			// and the loop would never advance.
			step = pageSize2M - (virtAddr & (pageSize2M - 1))
			if step > nonMapped {
				step = nonMapped
			}
			if err := b.MapPages(physAddr, virtAddr, step, PageSmall, memAttrIndex); err != nil {
				return err
			}
		}

		mapped += step
		nonMapped -= step
		physAddr += step
		virtAddr += step
	}

	return nil
}

// MapPagesOrFatal behaves like MapPages, except allocator exhaustion
// partway through the run is treated as a fatal invariant rather than a
// recoverable error: the pages already installed before the failure
// cannot be rolled back, so the arena is left partially mapped with no
// safe way to retry. Reported through sink and halted on instead of
// returned.
func (b *Builder) MapPagesOrFatal(sink diag.Sink, halt diag.Halt, physAddr, virtAddr, mapSize uint64, size PageSize, memAttrIndex uint64) error {
	err := b.MapPages(physAddr, virtAddr, mapSize, size, memAttrIndex)
	return fatalizeOutOfMemory(sink, halt, virtAddr, mapSize, err)
}

// MapRangeOrFatal is MapPagesOrFatal's counterpart for MapRange.
func (b *Builder) MapRangeOrFatal(sink diag.Sink, halt diag.Halt, physAddr, virtAddr, mapSize, memAttrIndex uint64) error {
	err := b.MapRange(physAddr, virtAddr, mapSize, memAttrIndex)
	return fatalizeOutOfMemory(sink, halt, virtAddr, mapSize, err)
}

func fatalizeOutOfMemory(sink diag.Sink, halt diag.Halt, virtAddr, mapSize uint64, err error) error {
	if errors.Is(err, ErrOutOfMemory) {
		diag.Fatal(sink, halt, "ptb: allocator exhausted mapping "+
			diag.Hex64(virtAddr)+"+"+diag.Hex64(mapSize))
	}
	return err
}
