package gic

import (
	"errors"
	"runtime"
)

// ErrInvalidID is returned when an SGI id falls outside the
// architectural range [0,15] the legacy GICD_SGIR send path accepts.
var ErrInvalidID = errors.New("gic: invalid interrupt id")

// SGI and PPI interrupt IDs occupy the fixed low range of the
// interrupt ID space; SPIs start immediately above them. These
// operations are a fresh implementation: gic.rs only sketches them as
// commented-out dead code against a pre-GICv3 non-affinity-routed
// model (icenabler0/isenabler0 on the distributor), which does not
// match the redistributor-owned SGI/PPI banks this package builds.
const (
	sgiMin, sgiMax = 0, 16
	ppiMin, ppiMax = 16, 32
)

// ValidSPI reports whether id is in the architectural SPI range and
// within this distributor's configured maxSPI, mirroring gicv3.rs's
// valid_spi_id generalized to a caller-supplied upper bound.
func ValidSPI(id, maxSPI int) bool {
	return id >= 32 && id < 1019 && id < maxSPI
}

func isSGI(id int) bool { return id >= sgiMin && id < sgiMax }
func isPPI(id int) bool { return id >= ppiMin && id < ppiMax }

// EnableSGI enables or disables forwarding of SGI id (0-15) on cpu's
// redistributor.
func (g *Gic) EnableSGI(cpu, id int, enable bool) bool {
	if !isSGI(id) {
		return false
	}
	g.setRedistEnable(cpu, id, enable)
	return true
}

// EnablePPI enables or disables forwarding of PPI id (16-31) on cpu's
// redistributor.
func (g *Gic) EnablePPI(cpu, id int, enable bool) bool {
	if !isPPI(id) {
		return false
	}
	g.setRedistEnable(cpu, id, enable)
	return true
}

func (g *Gic) setRedistEnable(cpu, id int, enable bool) {
	regs := g.gicr[cpu]
	bit := uniform32(1 << uint(id))
	if enable {
		regs.isenabler0.Write(bit)
	} else {
		regs.icenabler0.Write(bit)
	}
	g.waitRedistRegWritePending(cpu)
}

// PendSGI sets or clears the pending state of SGI id (0-15) on cpu's
// redistributor.
func (g *Gic) PendSGI(cpu, id int, pend bool) bool {
	if !isSGI(id) {
		return false
	}
	g.setRedistPend(cpu, id, pend)
	return true
}

// PendPPI sets or clears the pending state of PPI id (16-31) on cpu's
// redistributor.
func (g *Gic) PendPPI(cpu, id int, pend bool) bool {
	if !isPPI(id) {
		return false
	}
	g.setRedistPend(cpu, id, pend)
	return true
}

func (g *Gic) setRedistPend(cpu, id int, pend bool) {
	regs := g.gicr[cpu]
	bit := uniform32(1 << uint(id))
	if pend {
		regs.ispendr0.Write(bit)
	} else {
		regs.icpendr0.Write(bit)
	}
	g.waitRedistRegWritePending(cpu)
}

// EnableSPI enables or disables forwarding of SPI id at the
// distributor. id must satisfy ValidSPI(id, g.MaxSPI()).
func (g *Gic) EnableSPI(id int, enable bool) bool {
	if !ValidSPI(id, g.maxSPI) {
		return false
	}
	bank, bit := id/32, uint(id%32)
	if enable {
		g.gicd.isenabler.Index(bank).Write(uniform32(1 << bit))
	} else {
		g.gicd.icenabler.Index(bank).Write(uniform32(1 << bit))
	}
	g.waitRegWritePending()
	return true
}

// PendSPI sets or clears the pending state of SPI id at the
// distributor.
func (g *Gic) PendSPI(id int, pend bool) bool {
	if !ValidSPI(id, g.maxSPI) {
		return false
	}
	bank, bit := id/32, uint(id%32)
	if pend {
		g.gicd.ispendr.Index(bank).Write(uniform32(1 << bit))
	} else {
		g.gicd.icpendr.Index(bank).Write(uniform32(1 << bit))
	}
	g.waitRegWritePending()
	return true
}

// SetSPIPriority sets SPI id's priority byte (lower value is higher
// priority, per the architecture's convention).
func (g *Gic) SetSPIPriority(id int, priority uint8) bool {
	if !ValidSPI(id, g.maxSPI) {
		return false
	}
	word, lane := id/4, id%4
	reg := g.gicd.ipriorityr.Index(word)
	p := reg.Read()
	switch lane {
	case 0:
		p.P0 = priority
	case 1:
		p.P1 = priority
	case 2:
		p.P2 = priority
	case 3:
		p.P3 = priority
	}
	reg.Write(p)
	g.waitRegWritePending()
	return true
}

// SetSGIPriority sets SGI id's priority byte on cpu's redistributor.
func (g *Gic) SetSGIPriority(cpu, id int, priority uint8) bool {
	if !isSGI(id) {
		return false
	}
	g.setRedistPriority(cpu, id, priority)
	return true
}

// SetPPIPriority sets PPI id's priority byte on cpu's redistributor.
func (g *Gic) SetPPIPriority(cpu, id int, priority uint8) bool {
	if !isPPI(id) {
		return false
	}
	g.setRedistPriority(cpu, id, priority)
	return true
}

func (g *Gic) setRedistPriority(cpu, id int, priority uint8) {
	regs := g.gicr[cpu]
	word, lane := id/4, id%4
	reg := regs.ipriorityr.Index(word)
	p := reg.Read()
	switch lane {
	case 0:
		p.P0 = priority
	case 1:
		p.P1 = priority
	case 2:
		p.P2 = priority
	case 3:
		p.P3 = priority
	}
	reg.Write(p)
	g.waitRedistRegWritePending(cpu)
}

// SendSGI sends SGI id to targetCPU via the legacy GICD_SGIR send path:
// GICD_SGIR = (cpu_mask<<16) | (sgi_id & 0xF). id must be in [0,15], and
// targetCPU must fit the 8-bit legacy target list, or ErrInvalidID is
// returned.
func (g *Gic) SendSGI(targetCPU, id int) error {
	if id < sgiMin || id >= sgiMax {
		return ErrInvalidID
	}
	if targetCPU < 0 || targetCPU > 7 {
		return ErrInvalidID
	}
	g.gicd.sgir.Write(Sgir{CPUTargetList: 1 << uint(targetCPU), SGIID: uint8(id)})
	return nil
}

func (g *Gic) waitRedistRegWritePending(cpu int) {
	for g.gicr[cpu].ctrl.Read().RegWritePending {
		runtime.Gosched()
	}
}
