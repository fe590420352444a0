package ptb

// Bit-exact renderings of aarch64-lab's PageTableEntry, PageBlockEntry
// and VirtualAddress bitfields, as hand-written shift/mask accessors
// rather than reflection — the page-table walk is architecture's
// hottest path, and spec's own design notes call for avoiding runtime
// vtables there.

const (
	pageShift4K = 12
	pageShift2M = 21
	pageShift1G = 30

	pageSize4K uint64 = 1 << pageShift4K
	pageSize2M uint64 = 1 << pageShift2M
	pageSize1G uint64 = 1 << pageShift1G
)

// PageSize is one of the three AArch64 stage-1 leaf granule sizes.
type PageSize uint64

const (
	PageSmall PageSize = PageSize(pageSize4K)
	PageLarge PageSize = PageSize(pageSize2M)
	PageHuge  PageSize = PageSize(pageSize1G)
)

// intermediateEntry is an L0/L1/L2 descriptor pointing at the next
// translation table.
//
// Bit layout (LSB first): valid[1] table[1] _mbz0[8] accessed[1]
// not_global[1] next_table_pfn[35] _mbz1[12] priv_x_never[1]
// user_x_never[1] access_perm[2] non_secure[1].
type intermediateEntry uint64

func newIntermediateEntry(valid, table, accessed bool, nextTablePFN uint64) intermediateEntry {
	var e uint64
	if valid {
		e |= 1 << 0
	}
	if table {
		e |= 1 << 1
	}
	if accessed {
		e |= 1 << 10
	}
	e |= (nextTablePFN & (1<<35 - 1)) << 12
	// access_perm = 01: table descriptors never restrict access beyond
	// what the leaf below grants, per the architecture's hierarchical
	// permission model.
	e |= 1 << 61
	return intermediateEntry(e)
}

func (e intermediateEntry) valid() bool { return e&(1<<0) != 0 }

// table reports bit 1: true for an intermediate (table) descriptor,
// false for a block/page (leaf) descriptor. The two descriptor shapes
// share bit 0 and bit 1's positions, so a valid entry with table()
// false encountered while walking intermediate levels means a leaf was
// already installed there by an earlier, larger-granule mapping.
func (e intermediateEntry) table() bool { return e&(1<<1) != 0 }

func (e intermediateEntry) nextTablePFN() uint64 {
	return (uint64(e) >> 12) & (1<<35 - 1)
}

// blockEntry is a leaf L1/L2/L3 descriptor mapping a block or page.
//
// Bit layout (LSB first): valid[1] page[1] mair_idx[3] _mbz0[1]
// access_perm[2] share_perm[2] accessed[1] not_global[1]
// address_pfn[35] _mbz1[4] dirty[1] contig[1] priv_x_never[1]
// user_x_never[1] _mbz2[9].
type blockEntry uint64

type blockEntryFields struct {
	valid      bool
	page       bool
	mairIdx    uint64
	accessPerm uint64
	sharePerm  uint64
	accessed   bool
	addressPFN uint64
}

func newBlockEntry(f blockEntryFields) blockEntry {
	var e uint64
	if f.valid {
		e |= 1 << 0
	}
	if f.page {
		e |= 1 << 1
	}
	e |= (f.mairIdx & 0x7) << 2
	e |= (f.accessPerm & 0x3) << 6
	e |= (f.sharePerm & 0x3) << 8
	if f.accessed {
		e |= 1 << 10
	}
	e |= (f.addressPFN & (1<<35 - 1)) << 12
	return blockEntry(e)
}

func (e blockEntry) valid() bool { return e&(1<<0) != 0 }

// virtualAddress is a decomposed 64-bit AArch64 virtual address.
//
// Bit layout (LSB first): offset[12] lvl3[9] lvl2[9] lvl1[9] lvl0[9]
// asid[16].
type virtualAddress uint64

func (v virtualAddress) offset() uint64 { return uint64(v) & (1<<12 - 1) }
func (v virtualAddress) lvl3() int      { return int((uint64(v) >> 12) & (1<<9 - 1)) }
func (v virtualAddress) lvl2() int      { return int((uint64(v) >> 21) & (1<<9 - 1)) }
func (v virtualAddress) lvl1() int      { return int((uint64(v) >> 30) & (1<<9 - 1)) }
func (v virtualAddress) lvl0() int      { return int((uint64(v) >> 39) & (1<<9 - 1)) }

// isCanonical reports whether the 16 most significant bits equal the
// sign bit of bit 47, i.e. whether sign-extending bit 47 across the top
// 16 bits reproduces the address unchanged.
func (v virtualAddress) isCanonical() bool {
	return (int64(v) << 16 >> 16) == int64(v)
}

// lvlIndex returns the translation index for the given table level
// (0-3). It panics on an invalid level, matching the reference's own
// "invalid VA level index" panic — there is no recoverable meaning for
// an out-of-range static level constant.
func (v virtualAddress) lvlIndex(level int) int {
	switch level {
	case 0:
		return v.lvl0()
	case 1:
		return v.lvl1()
	case 2:
		return v.lvl2()
	case 3:
		return v.lvl3()
	default:
		panic("ptb: invalid translation level index")
	}
}
