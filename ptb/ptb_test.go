package ptb

import (
	"errors"
	"testing"

	"armboot/diag"
)

type recordingSink struct {
	lines []string
}

func (r *recordingSink) WriteString(s string) { r.lines = append(r.lines, s) }

func newTestArena(t *testing.T, size int) *Arena {
	t.Helper()
	arena, err := NewArena(0x90000000, make([]byte, size))
	if err != nil {
		t.Fatalf("NewArena() error = %v", err)
	}
	return arena
}

// Scenario: tiny identity map. A single 4 KiB page mapped phys==virt
// succeeds and is reflected in the arena's bookkeeping.
func TestMapPageIdentity(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapPage(0x1000, 0x1000, PageSmall, 0); err != nil {
		t.Fatalf("MapPage() error = %v", err)
	}

	stats := arena.LevelStats()
	if want := [4]int{1, 1, 1, 1}; stats != want {
		t.Errorf("LevelStats() = %v, want %v", stats, want)
	}
	if got, want := arena.UsedSpace(), uint64(4*4096); got != want {
		t.Errorf("UsedSpace() = %d, want %d", got, want)
	}
}

// Scenario: the same physical page mapped again at a high canonical
// address (mirroring aarch64-lab's own test.rs) must succeed
// independently of the low mapping.
func TestMapPageHighCanonicalAddress(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapPage(0x4000, 0x4000, PageSmall, 0); err != nil {
		t.Fatalf("MapPage(low) error = %v", err)
	}
	if err := b.MapPage(0x4000, 0xffff800000004000, PageSmall, 0); err != nil {
		t.Fatalf("MapPage(high canonical) error = %v", err)
	}
}

func TestMapPageNonCanonicalRejected(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	// Top 16 bits don't match bit 47: not canonical.
	err := b.MapPage(0x1000, 0x0001800000001000, PageSmall, 0)
	if !errors.Is(err, ErrNonCanonicalVirtAddr) {
		t.Fatalf("MapPage() error = %v, want %v", err, ErrNonCanonicalVirtAddr)
	}
}

func TestMapPageMisalignedRejected(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapPage(0x1001, 0x1000, PageSmall, 0); !errors.Is(err, ErrMisalignedPhysAddr) {
		t.Errorf("misaligned phys: error = %v, want %v", err, ErrMisalignedPhysAddr)
	}
	if err := b.MapPage(0x1000, 0x1001, PageSmall, 0); !errors.Is(err, ErrMisalignedVirtAddr) {
		t.Errorf("misaligned virt: error = %v, want %v", err, ErrMisalignedVirtAddr)
	}
}

// Scenario: duplicate mapping rejection.
func TestMapPageDuplicateRejected(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapPage(0x2000, 0x2000, PageSmall, 0); err != nil {
		t.Fatalf("first MapPage() error = %v", err)
	}
	err := b.MapPage(0x3000, 0x2000, PageSmall, 0)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("second MapPage() error = %v, want %v", err, ErrAlreadyMapped)
	}
}

// Scenario: large-page collision. Mapping a 4 KiB page inside the
// footprint of an already-installed 2 MiB block must fail rather than
// silently reinterpret the block descriptor as an intermediate table.
func TestMapPageLargePageCollision(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapPage(0x200000, 0x200000, PageLarge, 0); err != nil {
		t.Fatalf("MapPage(large) error = %v", err)
	}

	err := b.MapPage(0x201000, 0x201000, PageSmall, 0)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("MapPage(small, colliding) error = %v, want %v", err, ErrAlreadyMapped)
	}
}

// Scenario: mixed-granule range. A range that is not a clean multiple
// of 1 GiB gets covered by a 1 GiB block followed by 2 MiB blocks.
func TestMapRangeMixedGranule(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	const oneGiB = 1 << 30
	mapSize := uint64(oneGiB + oneGiB/2)

	if err := b.MapRange(oneGiB, oneGiB, mapSize, 0); err != nil {
		t.Fatalf("MapRange() error = %v", err)
	}

	stats := arena.LevelStats()
	if stats[3] != 0 {
		t.Errorf("LevelStats()[3] = %d, want 0 (no 4 KiB pages expected)", stats[3])
	}
	if stats[1] == 0 {
		t.Errorf("LevelStats()[1] = 0, want at least one L1 table")
	}
	if stats[2] == 0 {
		t.Errorf("LevelStats()[2] = 0, want at least one L2 table for the 2 MiB tail")
	}
}

// Scenario: mixed-granule range starting short of a 1 GiB boundary.
// virt/phys = 1 GiB - 4 KiB, size = 3 GiB. The range crosses a 1 GiB
// boundary 4 KiB in, so the walk must bracket a directly-mapped 1 GiB
// block with a 4 KiB region on each side, with 2 MiB blocks filling
// what's left of the trailing 1 GiB region. This is the exact case
// where computing the 4 KiB step as nonMapped mod 2M (instead of the
// distance to the next 2 MiB boundary) divides evenly and yields a
// zero step forever.
func TestMapRangeMixedGranuleUnalignedStart(t *testing.T) {
	arena := newTestArena(t, 1<<20)
	b := NewBuilder(arena)

	const oneGiB = 1 << 30
	start := uint64(oneGiB - 4096)
	mapSize := uint64(3 * oneGiB)

	if err := b.MapRange(start, start, mapSize, 0); err != nil {
		t.Fatalf("MapRange() error = %v", err)
	}

	stats := arena.LevelStats()
	want := [4]int{1, 1, 2, 2}
	if stats != want {
		t.Errorf("LevelStats() = %v, want %v", stats, want)
	}

	// Spot-check both brackets and the huge block in between.
	for _, va := range []uint64{start, start + mapSize - 4096} {
		if err := b.MapPage(va, va, PageSmall, 0); !errors.Is(err, ErrAlreadyMapped) {
			t.Errorf("MapPage(%#x) error = %v, want %v", va, err, ErrAlreadyMapped)
		}
	}
	if err := b.MapPage(oneGiB, oneGiB, PageHuge, 0); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("MapPage(%#x, huge) error = %v, want %v", oneGiB, err, ErrAlreadyMapped)
	}
}

func TestMapRangeRejectsZeroSize(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	if err := b.MapRange(0x1000, 0x1000, 0, 0); !errors.Is(err, ErrEmptyMapping) {
		t.Fatalf("MapRange() error = %v, want %v", err, ErrEmptyMapping)
	}
}

func TestMapPagesNoRollbackOnPartialFailure(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	// Pre-map the third page in the run so MapPages fails partway
	// through, leaving the first two pages installed.
	if err := b.MapPage(0x9000, 0x2000, PageSmall, 0); err != nil {
		t.Fatalf("setup MapPage() error = %v", err)
	}

	err := b.MapPages(0x0, 0x0, 3*pageSize4K, PageSmall, 0)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("MapPages() error = %v, want %v", err, ErrAlreadyMapped)
	}

	// The first two pages must still have been installed.
	if err := b.MapPage(0x0, 0x0, PageSmall, 0); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("page 0 not installed by partial MapPages: error = %v", err)
	}
	if err := b.MapPage(0x1000, 0x1000, PageSmall, 0); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("page 1 not installed by partial MapPages: error = %v", err)
	}
}

func TestNewArenaRejectsMisalignedOrEmpty(t *testing.T) {
	tests := []struct {
		name    string
		phys    uint64
		size    int
		wantErr error
	}{
		{name: "misaligned phys", phys: 0x1001, size: 4096, wantErr: ErrMisalignedPhysAddr},
		{name: "misaligned size", phys: 0x1000, size: 100, wantErr: ErrInvalidMappingSize},
		{name: "empty", phys: 0x1000, size: 0, wantErr: ErrEmptyMapping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewArena(tt.phys, make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewArena() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Scenario: allocator exhaustion mid-MapPages is a fatal invariant, not
// a recoverable error — it is reported through the diagnostic sink and
// halted on rather than returned to the caller to retry.
func TestMapPagesOrFatalHaltsOnOutOfMemory(t *testing.T) {
	arena := newTestArena(t, 4096) // root only, no room for any table
	b := NewBuilder(arena)

	sink := &recordingSink{}
	halted := false
	halt := func(msg string) { halted = true }

	err := b.MapPagesOrFatal(sink, halt, 0x1000, 0x1000, pageSize4K, PageSmall, 0)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("MapPagesOrFatal() error = %v, want %v", err, ErrOutOfMemory)
	}
	if !halted {
		t.Fatal("MapPagesOrFatal() did not invoke halt on allocator exhaustion")
	}
	if len(sink.lines) == 0 {
		t.Fatal("MapPagesOrFatal() wrote nothing to the diagnostic sink")
	}
}

// Scenario: a recoverable validation error (not allocator exhaustion)
// must pass through MapRangeOrFatal untouched, without ever invoking
// halt.
func TestMapRangeOrFatalPassesThroughRecoverableErrors(t *testing.T) {
	arena := newTestArena(t, 64*1024)
	b := NewBuilder(arena)

	sink := &recordingSink{}
	halt := func(msg string) { t.Fatalf("halt invoked for a recoverable error: %s", msg) }

	err := b.MapRangeOrFatal(sink, halt, 0x1000, 0x1000, 0, 0)
	if !errors.Is(err, ErrEmptyMapping) {
		t.Fatalf("MapRangeOrFatal() error = %v, want %v", err, ErrEmptyMapping)
	}
	if len(sink.lines) != 0 {
		t.Errorf("MapRangeOrFatal() wrote to sink for a recoverable error: %v", sink.lines)
	}
}

var _ diag.Sink = (*recordingSink)(nil)

func TestNewArenaFillsRootAsNotPresent(t *testing.T) {
	space := make([]byte, 8192)
	arena, err := NewArena(0x1000, space)
	if err != nil {
		t.Fatalf("NewArena() error = %v", err)
	}

	if stats := arena.LevelStats(); stats[0] != 1 {
		t.Errorf("LevelStats()[0] = %d, want 1 (the root table itself)", stats[0])
	}

	for i, b := range space[:4096] {
		if b != 0xfe {
			t.Fatalf("root table byte %d = %#x, want 0xfe", i, b)
		}
	}

	// Every 8-byte entry's valid bit (bit 0 of the low byte, which is
	// 0xfe = 0b11111110) must read as 0.
	for i := 0; i < 4096/8; i++ {
		if arena.readEntry(0x1000, i)&1 != 0 {
			t.Fatalf("entry %d valid bit set in freshly-filled root table", i)
		}
	}
}
