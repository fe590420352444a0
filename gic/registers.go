// Package gic brings up a GICv3 or GICv4 interrupt controller: the
// distributor (GICD) and one redistributor (GICR) per CPU. It renders
// aarch64-lab's gic.rs (a DeviceRegister-based, version-agnostic GICv3/
// v4 model) using this repository's mmio package in place of Rust's
// dev_registrer abstraction.
package gic

import "armboot/mmio"

// Distributor register offsets, "12.8 The GIC Distributor register map".
const (
	gicdCTLROffset      = 0x0000
	gicdTyperOffset     = 0x0004
	gicdIIDROffset      = 0x0008
	gicdIsenablerOffset = 0x0100
	gicdIcenablerOffset = 0x0180
	gicdIspendrOffset   = 0x0200
	gicdIcpendrOffset   = 0x0280
	gicdIgrouprOffset   = 0x0080
	gicdIgrpmodrOffset  = 0x0D00
	gicdIpriorityrOffset = 0x0400
	gicdIcfgrOffset     = 0x0C00 // edge/level config, 2 bits/interrupt; unused by bring-up, kept for the register map's sake
	gicdIrouterOffset   = 0x6100
	gicdPIDR2Offset     = 0xFFE8
	gicdSGIROffset      = 0x0F00
)

// Redistributor frame size and register offsets,
// "12.10/12.11 The GIC Redistributor register map/descriptions".
const (
	GICRFrameSize = 0x10000

	gicrCTLROffset  = 0x0000
	gicrWakerOffset = 0x0014
	gicrPIDR2Offset = 0xFFE8
	gicrTyperOffset = 0x0008

	// The SGI/PPI frame sits immediately after the LPI frame.
	gicrIsenablerOffset  = GICRFrameSize + 0x0100
	gicrIcenablerOffset  = GICRFrameSize + 0x0180
	gicrIspendrOffset    = GICRFrameSize + 0x0200
	gicrIcpendrOffset    = GICRFrameSize + 0x0280
	gicrIpriorityrOffset = GICRFrameSize + 0x0400
	gicrIgrouprOffset    = GICRFrameSize + 0x0080 // bank 0 group; unused by bring-up, kept for the register map's sake
	gicrIcfgrOffset      = GICRFrameSize + 0x0C00 // ICFGR0/1, edge/level config; same status
)

// GicdCtrl is the Distributor Control Register (GICD_CTLR).
type GicdCtrl struct {
	EnableGrp0      bool
	EnableGrp1NS    bool
	EnableGrp1S     bool
	AreS            bool
	AreNS           bool
	DisableSecure   bool
	E1NWF           bool
	RegWritePending bool
}

func (c GicdCtrl) encode() uint64 {
	var v uint32
	if c.EnableGrp0 {
		v |= 1 << 0
	}
	if c.EnableGrp1NS {
		v |= 1 << 1
	}
	if c.EnableGrp1S {
		v |= 1 << 2
	}
	if c.AreS {
		v |= 1 << 4
	}
	if c.AreNS {
		v |= 1 << 5
	}
	if c.DisableSecure {
		v |= 1 << 6
	}
	if c.E1NWF {
		v |= 1 << 7
	}
	if c.RegWritePending {
		v |= 1 << 31
	}
	return uint64(v)
}

func decodeGicdCtrl(raw uint64) GicdCtrl {
	v := uint32(raw)
	return GicdCtrl{
		EnableGrp0:      v&(1<<0) != 0,
		EnableGrp1NS:    v&(1<<1) != 0,
		EnableGrp1S:     v&(1<<2) != 0,
		AreS:            v&(1<<4) != 0,
		AreNS:           v&(1<<5) != 0,
		DisableSecure:   v&(1<<6) != 0,
		E1NWF:           v&(1<<7) != 0,
		RegWritePending: v&(1<<31) != 0,
	}
}

// GicdTyper is the Interrupt Controller Type Register (GICD_TYPER).
type GicdTyper struct {
	ITLines uint32 // 5 bits
}

func decodeGicdTyper(raw uint64) GicdTyper {
	v := uint32(raw)
	return GicdTyper{ITLines: v & 0x1F}
}

// GicdPidr2 / GicrPidr2 both carry the architecture version in the same
// bit position (Peripheral ID2, bits [7:4]).
type Pidr2 struct {
	GICVersion uint32 // 4 bits
}

func decodePidr2(raw uint64) Pidr2 {
	v := uint32(raw)
	return Pidr2{GICVersion: (v >> 4) & 0xF}
}

// GicrCtlr is the Redistributor Control Register (GICR_CTLR).
type GicrCtlr struct {
	EnableLPIs      bool
	RegWritePending bool
}

func decodeGicrCtlr(raw uint64) GicrCtlr {
	v := uint32(raw)
	return GicrCtlr{
		EnableLPIs:      v&(1<<0) != 0,
		RegWritePending: v&(1<<3) != 0,
	}
}

// GicrWaker is the Redistributor Wake Register (GICR_WAKER).
type GicrWaker struct {
	ProcessorSleep  bool
	ChildrenAsleep  bool
	implDefinedBits uint32
}

func (w GicrWaker) encode() uint64 {
	v := w.implDefinedBits
	if w.ProcessorSleep {
		v |= 1 << 1
	} else {
		v &^= 1 << 1
	}
	return uint64(v)
}

func decodeGicrWaker(raw uint64) GicrWaker {
	v := uint32(raw)
	return GicrWaker{
		ProcessorSleep:  v&(1<<1) != 0,
		ChildrenAsleep:  v&(1<<2) != 0,
		implDefinedBits: v,
	}
}

// GicrTyper is the Redistributor Type Register (GICR_TYPER).
type GicrTyper struct {
	VLPIs bool
}

func decodeGicrTyper(raw uint64) GicrTyper {
	return GicrTyper{VLPIs: raw&(1<<1) != 0}
}

// Priority4 packs four one-byte interrupt priorities into a single
// IPRIORITYR word, matching GicrIpriorityr{p0,p1,p2,p3}.
type Priority4 struct {
	P0, P1, P2, P3 uint8
}

func (p Priority4) encode() uint64 {
	return uint64(p.P0) | uint64(p.P1)<<8 | uint64(p.P2)<<16 | uint64(p.P3)<<24
}

func decodePriority4(raw uint64) Priority4 {
	return Priority4{
		P0: uint8(raw),
		P1: uint8(raw >> 8),
		P2: uint8(raw >> 16),
		P3: uint8(raw >> 24),
	}
}

// uniform32 is a bank register (ICENABLER/ICPENDR/IGROUPR/IGRPMODR)
// whose value is an opaque 32-bit bitmask with no sub-fields worth
// naming individually.
type uniform32 uint32

func decodeUniform32(raw uint64) uniform32 { return uniform32(uint32(raw)) }
func (u uniform32) encode() uint64         { return uint64(uint32(u)) }

// Sgir is the legacy (non-affinity-routed) Software Generated Interrupt
// Register (GICD_SGIR). It is write-only on real hardware; Decode exists
// only so it fits the same Register[V] shape as every other register.
type Sgir struct {
	CPUTargetList uint8 // bits [23:16], one bit per target CPU 0-7
	SGIID         uint8 // bits [3:0]
}

func (s Sgir) encode() uint64 {
	return uint64(s.CPUTargetList)<<16 | uint64(s.SGIID&0xF)
}

func decodeSgir(raw uint64) Sgir {
	return Sgir{
		CPUTargetList: uint8(raw >> 16),
		SGIID:         uint8(raw) & 0xF,
	}
}

// distributorRegisters binds the GICD register set to a Region.
type distributorRegisters struct {
	ctrl      mmio.Register[GicdCtrl]
	typer     mmio.Register[GicdTyper]
	pidr2     mmio.Register[Pidr2]
	isenabler mmio.RegisterArray[uniform32]
	icenabler mmio.RegisterArray[uniform32]
	ispendr   mmio.RegisterArray[uniform32]
	icpendr   mmio.RegisterArray[uniform32]
	igroupr   mmio.RegisterArray[uniform32]
	igrpmodr  mmio.RegisterArray[uniform32]
	ipriorityr mmio.RegisterArray[Priority4]
	irouter   mmio.RegisterArray[uint64]
	sgir      mmio.Register[Sgir]
}

func newDistributorRegisters(region mmio.Region, spiBanks int, spiRouterCount int) distributorRegisters {
	return distributorRegisters{
		ctrl: mmio.NewRegister(region, mmio.Spec[GicdCtrl]{
			Offset: gicdCTLROffset, Width: mmio.Width32,
			Encode: GicdCtrl.encode, Decode: decodeGicdCtrl,
		}),
		typer: mmio.NewRegister(region, mmio.Spec[GicdTyper]{
			Offset: gicdTyperOffset, Width: mmio.Width32,
			Decode: decodeGicdTyper,
		}),
		pidr2: mmio.NewRegister(region, mmio.Spec[Pidr2]{
			Offset: gicdPIDR2Offset, Width: mmio.Width32,
			Decode: decodePidr2,
		}),
		isenabler: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIsenablerOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		icenabler: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIcenablerOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		ispendr: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIspendrOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		icpendr: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIcpendrOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		igroupr: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIgrouprOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		igrpmodr: mmio.NewRegisterArray(region, mmio.ArraySpec[uniform32]{
			Offset: gicdIgrpmodrOffset, Stride: 4, Count: spiBanks, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		ipriorityr: mmio.NewRegisterArray(region, mmio.ArraySpec[Priority4]{
			Offset: gicdIpriorityrOffset, Stride: 4, Count: spiBanks * 8, Width: mmio.Width32,
			Encode: Priority4.encode, Decode: decodePriority4,
		}),
		irouter: mmio.NewRegisterArray(region, mmio.ArraySpec[uint64]{
			Offset: gicdIrouterOffset, Stride: 8, Count: spiRouterCount, Width: mmio.Width64,
			Encode: func(v uint64) uint64 { return v },
			Decode: func(raw uint64) uint64 { return raw },
		}),
		sgir: mmio.NewRegister(region, mmio.Spec[Sgir]{
			Offset: gicdSGIROffset, Width: mmio.Width32,
			Encode: Sgir.encode, Decode: decodeSgir,
		}),
	}
}

// redistributorRegisters binds one CPU's GICR frames to a Region.
type redistributorRegisters struct {
	ctrl       mmio.Register[GicrCtlr]
	waker      mmio.Register[GicrWaker]
	pidr2      mmio.Register[Pidr2]
	typer      mmio.Register[GicrTyper]
	isenabler0 mmio.Register[uniform32]
	icenabler0 mmio.Register[uniform32]
	ispendr0   mmio.Register[uniform32]
	icpendr0   mmio.Register[uniform32]
	ipriorityr mmio.RegisterArray[Priority4]
}

func newRedistributorRegisters(region mmio.Region) redistributorRegisters {
	return redistributorRegisters{
		ctrl: mmio.NewRegister(region, mmio.Spec[GicrCtlr]{
			Offset: gicrCTLROffset, Width: mmio.Width32,
			Decode: decodeGicrCtlr,
		}),
		waker: mmio.NewRegister(region, mmio.Spec[GicrWaker]{
			Offset: gicrWakerOffset, Width: mmio.Width32,
			Encode: GicrWaker.encode, Decode: decodeGicrWaker,
		}),
		pidr2: mmio.NewRegister(region, mmio.Spec[Pidr2]{
			Offset: gicrPIDR2Offset, Width: mmio.Width32,
			Decode: decodePidr2,
		}),
		typer: mmio.NewRegister(region, mmio.Spec[GicrTyper]{
			Offset: gicrTyperOffset, Width: mmio.Width64,
			Decode: decodeGicrTyper,
		}),
		isenabler0: mmio.NewRegister(region, mmio.Spec[uniform32]{
			Offset: gicrIsenablerOffset, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		icenabler0: mmio.NewRegister(region, mmio.Spec[uniform32]{
			Offset: gicrIcenablerOffset, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		ispendr0: mmio.NewRegister(region, mmio.Spec[uniform32]{
			Offset: gicrIspendrOffset, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		icpendr0: mmio.NewRegister(region, mmio.Spec[uniform32]{
			Offset: gicrIcpendrOffset, Width: mmio.Width32,
			Encode: uniform32.encode, Decode: decodeUniform32,
		}),
		ipriorityr: mmio.NewRegisterArray(region, mmio.ArraySpec[Priority4]{
			Offset: gicrIpriorityrOffset, Stride: 4, Count: 8, Width: mmio.Width32,
			Encode: Priority4.encode, Decode: decodePriority4,
		}),
	}
}
