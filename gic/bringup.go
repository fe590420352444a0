package gic

import (
	"errors"
	"runtime"
	"strconv"

	"armboot/diag"
	"armboot/mmio"
)

// Version identifies the architecture revision a distributor reports in
// GICD_PIDR2, matching gic.rs's GicVersion.
type Version int

const (
	V3 Version = 3
	V4 Version = 4
)

var (
	// ErrUnsupportedVersion is returned when GICD_PIDR2 reports anything
	// other than architecture version 3 or 4.
	ErrUnsupportedVersion = errors.New("gic: unsupported architecture version")

	// ErrVersionMismatch is returned when a redistributor's own PIDR2
	// disagrees with the distributor's version, or when GICR_TYPER's
	// VLPIs bit is inconsistent with a GICv4 distributor.
	ErrVersionMismatch = errors.New("gic: redistributor version mismatch")
)

// isb and dsb stand in for the ISB/DSB barrier instructions the real
// bring-up sequence issues between a register write and the dependent
// read that follows it (mazboot's mmu.go calls the analogous asm.Dsb /
// asm.Isb, backed by a patched runtime; this tree has no such
// intrinsic, so the barriers are recorded as explicit call sites ready
// to be backed by one once it exists).
func isb() {}
func dsb() {}

// Gic drives GICD bring-up and owns one set of GICR registers per CPU.
type Gic struct {
	version   Version
	maxSPI    int
	numCPUs   int
	redistSize uintptr

	gicd distributorRegisters
	gicr []redistributorRegisters
}

// New probes gicdRegion's PIDR2 to determine the architecture version
// and it_lines_number to determine max_spi, then probes numCPUs worth
// of per-CPU frames inside gicrRegion (stride redistSize, itself
// dependent on version: 2 frames of GICRFrameSize for v3, 4 for v4).
// Every redistributor's own PIDR2 must agree with the distributor's
// version, and GICv4 requires every redistributor to report VLPIs.
func New(gicdRegion, gicrRegion mmio.Region, numCPUs int) (*Gic, error) {
	pidr2 := mmio.NewRegister(gicdRegion, mmio.Spec[Pidr2]{Offset: gicdPIDR2Offset, Width: mmio.Width32, Decode: decodePidr2})
	version := pidr2.Read().GICVersion
	if version != uint32(V3) && version != uint32(V4) {
		return nil, ErrUnsupportedVersion
	}
	v := Version(version)

	typer := mmio.NewRegister(gicdRegion, mmio.Spec[GicdTyper]{Offset: gicdTyperOffset, Width: mmio.Width32, Decode: decodeGicdTyper})
	itLines := int(typer.Read().ITLines)
	maxSPI := 32 * (itLines + 1)

	redistSize := uintptr(2 * GICRFrameSize)
	if v == V4 {
		redistSize = uintptr(4 * GICRFrameSize)
	}

	g := &Gic{
		version:    v,
		maxSPI:     maxSPI,
		numCPUs:    numCPUs,
		redistSize: redistSize,
		gicd:       newDistributorRegisters(gicdRegion, (maxSPI+31)/32, spiRouterCount(maxSPI)),
	}

	for cpu := 0; cpu < numCPUs; cpu++ {
		frame := newRedistributorFrame(gicrRegion, redistSize, cpu)
		regs := newRedistributorRegisters(frame)

		rpidr2 := regs.pidr2.Read().GICVersion
		if Version(rpidr2) != v {
			return nil, ErrVersionMismatch
		}
		if v == V4 && !regs.typer.Read().VLPIs {
			return nil, ErrVersionMismatch
		}

		g.gicr = append(g.gicr, regs)
	}

	return g, nil
}

// NewOrFatal behaves like New, except an unsupported or inconsistent
// GIC version is treated as a fatal invariant rather than a recoverable
// error: bring-up has nowhere useful to go once the controller isn't a
// GICv3/v4 or its redistributors disagree with the distributor, so it
// is reported through sink and halted on instead of returned.
func NewOrFatal(sink diag.Sink, halt diag.Halt, gicdRegion, gicrRegion mmio.Region, numCPUs int) *Gic {
	g, err := New(gicdRegion, gicrRegion, numCPUs)
	if err != nil {
		diag.Fatal(sink, halt, "gic: "+err.Error())
		return nil
	}
	return g
}

// spiRouterCount is how many IROUTER entries (one per SPI, starting at
// interrupt ID 32) a distributor supporting maxSPI interrupts needs.
func spiRouterCount(maxSPI int) int {
	if maxSPI <= 32 {
		return 0
	}
	return maxSPI - 32
}

// redistributorFrame is a Region offsetting into gicrRegion by cpu
// redistSize-sized frames, used so each CPU's redistributorRegisters
// addresses its own frame without the caller needing to slice up
// gicrRegion itself.
type redistributorFrame struct {
	inner mmio.Region
	base  uintptr
}

func newRedistributorFrame(region mmio.Region, redistSize uintptr, cpu int) mmio.Region {
	return redistributorFrame{inner: region, base: uintptr(cpu) * redistSize}
}

func (r redistributorFrame) Load32(offset uintptr) uint32  { return r.inner.Load32(r.base + offset) }
func (r redistributorFrame) Store32(offset uintptr, v uint32) { r.inner.Store32(r.base+offset, v) }
func (r redistributorFrame) Load64(offset uintptr) uint64  { return r.inner.Load64(r.base + offset) }
func (r redistributorFrame) Store64(offset uintptr, v uint64) { r.inner.Store64(r.base+offset, v) }

// Version reports the architecture revision detected by New.
func (g *Gic) Version() Version { return g.version }

// MaxSPI reports the highest SPI interrupt ID + 1 supported by the
// distributor (32 * (it_lines + 1), per GICD_TYPER.ITLines).
func (g *Gic) MaxSPI() int { return g.maxSPI }

// InitGICD resets the distributor: disables all groups, masks and
// clears every SPI (skipping bank 0, which the redistributor owns),
// re-enables group 0 / group 1 non-secure / affinity routing, and
// routes every SPI to affinity 0 (CPU 0). Matches gic.rs's init_gicd.
func (g *Gic) InitGICD() {
	g.gicd.ctrl.Write(GicdCtrl{})
	g.waitRegWritePending()

	spiBanks := g.gicd.icenabler.Len()
	allOnes := uniform32(0xFFFFFFFF)
	for bank := 1; bank < spiBanks; bank++ {
		g.gicd.icenabler.Index(bank).Write(allOnes)
		g.gicd.icpendr.Index(bank).Write(allOnes)
		g.gicd.igroupr.Index(bank).Write(allOnes)
		g.gicd.igrpmodr.Index(bank).Write(allOnes)
	}
	g.waitRegWritePending()

	g.gicd.ctrl.Write(GicdCtrl{
		EnableGrp0:   true,
		EnableGrp1NS: true,
		AreNS:        true,
	})
	g.waitRegWritePending()
	isb()

	routerCount := g.gicd.irouter.Len()
	for n := 0; n < routerCount; n++ {
		g.gicd.irouter.Index(n).Write(0)
	}
	g.waitRegWritePending()
	isb()
}

func (g *Gic) waitRegWritePending() {
	for g.gicd.ctrl.Read().RegWritePending {
		runtime.Gosched()
	}
}

// WakeupCPU brings cpu's redistributor out of sleep and seeds its SGI
// and PPI priorities (IPRIORITYR words 0-3, SGIs 0-15, at 0x90; words
// 4-7, PPIs 16-31, at 0xA0), matching
// gic.rs's wakeup_cpu_and_init_gicr.
func (g *Gic) WakeupCPU(cpu int) {
	regs := g.gicr[cpu]

	waker := regs.waker.Read()
	waker.ProcessorSleep = false
	regs.waker.Write(waker)

	for regs.waker.Read().ChildrenAsleep {
		runtime.Gosched()
	}

	regs.ipriorityr.Fill(0, 4, Priority4{P0: 0x90, P1: 0x90, P2: 0x90, P3: 0x90})
	regs.ipriorityr.Fill(4, 8, Priority4{P0: 0xA0, P1: 0xA0, P2: 0xA0, P3: 0xA0})

	for regs.ctrl.Read().RegWritePending {
		runtime.Gosched()
	}
	isb()
	dsb()
}

// WakeupCPUOrFatal behaves like WakeupCPU, except it bounds the
// children-asleep wait to maxSpins iterations. Exceeding the bound is
// the "redistributor-wake loop runaway" fatal invariant: this layer's
// own busy-wait has no timeout (the architecture gives no bound on how
// long a redistributor can take to wake), so a caller running on real
// hardware supplies one here rather than spinning forever against a
// wedged controller.
func (g *Gic) WakeupCPUOrFatal(cpu int, maxSpins int, sink diag.Sink, halt diag.Halt) {
	regs := g.gicr[cpu]

	waker := regs.waker.Read()
	waker.ProcessorSleep = false
	regs.waker.Write(waker)

	for spins := 0; regs.waker.Read().ChildrenAsleep; spins++ {
		if spins >= maxSpins {
			diag.Fatal(sink, halt, "gic: redistributor wake loop runaway on cpu "+strconv.Itoa(cpu))
			return
		}
		runtime.Gosched()
	}

	regs.ipriorityr.Fill(0, 4, Priority4{P0: 0x90, P1: 0x90, P2: 0x90, P3: 0x90})
	regs.ipriorityr.Fill(4, 8, Priority4{P0: 0xA0, P1: 0xA0, P2: 0xA0, P3: 0xA0})

	for regs.ctrl.Read().RegWritePending {
		runtime.Gosched()
	}
	isb()
	dsb()
}
