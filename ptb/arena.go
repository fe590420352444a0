package ptb

import "encoding/binary"

// Arena is a 4 KiB-aligned bump allocator over a caller-provided byte
// slice, the physical memory region page tables are built in. It
// mirrors aarch64-lab's PageTableSpace: the root table occupies the
// first page, pre-filled so every entry reads as not-present, and
// further tables are handed out one page at a time as the builder
// walks deeper into the hierarchy.
type Arena struct {
	physRoot uint64
	space    []byte
	brk      uint64

	// lvlStats counts how many page-table-sized frames have been
	// handed out while populating each translation level (0-3), a
	// diagnostic this arena tracks beyond what aarch64-lab's own bump
	// allocator records.
	lvlStats [4]int
}

// NewArena validates phys and space and returns a freshly initialized
// Arena whose root table sits at the very start of space.
func NewArena(phys uint64, space []byte) (*Arena, error) {
	if phys&(pageSize4K-1) != 0 {
		return nil, ErrMisalignedPhysAddr
	}
	if uint64(len(space))&(pageSize4K-1) != 0 {
		return nil, ErrInvalidMappingSize
	}
	if len(space) == 0 {
		return nil, ErrEmptyMapping
	}

	for i := range space[:pageSize4K] {
		space[i] = 0xfe
	}

	a := &Arena{
		physRoot: phys,
		space:    space,
		brk:      phys + pageSize4K,
	}
	// The root table itself counts as level 0's one allocated frame.
	a.lvlStats[0] = 1
	return a, nil
}

// Root is the physical address of the root translation table.
func (a *Arena) Root() uint64 { return a.physRoot }

// UsedSpace reports how many bytes of the arena have been handed out,
// including the root table's own page.
func (a *Arena) UsedSpace() uint64 { return a.brk - a.physRoot }

// LevelStats reports how many table-sized frames were allocated while
// populating each translation level, indexed 0-3.
func (a *Arena) LevelStats() [4]int { return a.lvlStats }

// allocateTable hands out the next free 4 KiB-aligned frame, crediting
// it to level in LevelStats.
func (a *Arena) allocateTable(level int) (uint64, error) {
	if a.brk >= a.physRoot+uint64(len(a.space)) {
		return 0, ErrOutOfMemory
	}
	addr := a.brk
	a.brk += pageSize4K
	a.lvlStats[level]++
	return addr, nil
}

func (a *Arena) entryOffset(tablePhys uint64, index int) uint64 {
	return tablePhys - a.physRoot + uint64(index)*8
}

func (a *Arena) readEntry(tablePhys uint64, index int) uint64 {
	pos := a.entryOffset(tablePhys, index)
	return binary.LittleEndian.Uint64(a.space[pos : pos+8])
}

func (a *Arena) writeEntry(tablePhys uint64, index int, entry uint64) {
	pos := a.entryOffset(tablePhys, index)
	binary.LittleEndian.PutUint64(a.space[pos:pos+8], entry)
}
