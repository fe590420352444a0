// Command armplan reads a YAML board descriptor and reports the page
// table and GIC layout armboot's ptb/gic packages would produce for
// it, before any of it is burned into a boot image. It is the one
// genuinely host-side component in this tree: the core ptb/gic/mmio
// packages never touch a filesystem or a config format, so this is
// where gopkg.in/yaml.v3 earns its place, in the manner of
// tinyrange-cc's own YAML-driven site configuration.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"armboot/diag"
	"armboot/gic"
	"armboot/mmio"
	"armboot/ptb"
)

// maxWakeSpins bounds how long planGIC waits for a simulated
// redistributor to report awake before treating it as a wedged
// controller (the "redistributor-wake loop runaway" fatal invariant).
const maxWakeSpins = 1 << 20

// Config is a board descriptor: the arena page tables are built in,
// the distributor/redistributor layout to simulate, and the regions to
// map.
type Config struct {
	Arena struct {
		PhysBase uint64 `yaml:"phys_base"`
		Size     int    `yaml:"size"`
	} `yaml:"arena"`

	GIC struct {
		Version uint32 `yaml:"version"`
		ITLines uint32 `yaml:"it_lines"`
		NumCPUs int    `yaml:"num_cpus"`
		VLPIs   bool   `yaml:"vlpis"`
	} `yaml:"gic"`

	Regions []struct {
		Name         string `yaml:"name"`
		Phys         uint64 `yaml:"phys"`
		Virt         uint64 `yaml:"virt"`
		Size         uint64 `yaml:"size"`
		MemAttrIndex uint64 `yaml:"mem_attr_index"`
	} `yaml:"regions"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML board descriptor")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "armplan: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "armplan: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, out *os.File) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading board descriptor: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing board descriptor: %w", err)
	}

	// Fatal invariants (allocator exhaustion mid-range, an unexpected
	// GIC version, a wedged redistributor) have nowhere sane to go on a
	// real board but a halt; here, where "halting" means a planning run
	// aborting, that's reporting through the sink and exiting.
	sink := diag.WriterSink{W: os.Stderr}
	halt := func(msg string) { os.Exit(1) }

	if err := planPTB(out, sink, halt, cfg); err != nil {
		return fmt.Errorf("planning page tables: %w", err)
	}
	if err := planGIC(out, sink, halt, cfg); err != nil {
		return fmt.Errorf("planning GIC bring-up: %w", err)
	}

	return nil
}

func planPTB(out *os.File, sink diag.Sink, halt diag.Halt, cfg Config) error {
	arena, err := ptb.NewArena(cfg.Arena.PhysBase, make([]byte, cfg.Arena.Size))
	if err != nil {
		return err
	}
	builder := ptb.NewBuilder(arena)

	fmt.Fprintf(out, "page tables: arena base=%#x size=%d\n", cfg.Arena.PhysBase, cfg.Arena.Size)

	for _, r := range cfg.Regions {
		if err := builder.MapRangeOrFatal(sink, halt, r.Phys, r.Virt, r.Size, r.MemAttrIndex); err != nil {
			return fmt.Errorf("region %q (phys=%#x virt=%#x size=%#x): %w", r.Name, r.Phys, r.Virt, r.Size, err)
		}
		fmt.Fprintf(out, "  mapped %-16s phys=%#-12x virt=%#-18x size=%#x\n", r.Name, r.Phys, r.Virt, r.Size)
	}

	stats := arena.LevelStats()
	fmt.Fprintf(out, "  used=%d bytes, tables allocated per level=%v\n", arena.UsedSpace(), stats)

	return nil
}

func planGIC(out *os.File, sink diag.Sink, halt diag.Halt, cfg Config) error {
	redistSize := uint64(2 * gic.GICRFrameSize)
	if cfg.GIC.Version == uint32(gic.V4) {
		redistSize = uint64(4 * gic.GICRFrameSize)
	}

	gicdBuf := make([]byte, gic.GICRFrameSize)
	gicrBuf := make([]byte, redistSize*uint64(cfg.GIC.NumCPUs))

	gicd := mmio.NewByteRegion(gicdBuf)
	gicr := mmio.NewByteRegion(gicrBuf)

	seedSimulatedGIC(gicd, gicr, redistSize, cfg)

	g := gic.NewOrFatal(sink, halt, gicd, gicr, cfg.GIC.NumCPUs)

	g.InitGICD()
	for cpu := 0; cpu < cfg.GIC.NumCPUs; cpu++ {
		g.WakeupCPUOrFatal(cpu, maxWakeSpins, sink, halt)
	}

	fmt.Fprintf(out, "gic: version=%d max_spi=%d cpus=%d\n", g.Version(), g.MaxSPI(), cfg.GIC.NumCPUs)

	return nil
}

// seedSimulatedGIC writes the PIDR2/TYPER discovery registers a real
// distributor and its redistributors would already report, since this
// is a planning simulation with no real hardware behind the Region.
func seedSimulatedGIC(gicd, gicr mmio.Region, redistSize uint64, cfg Config) {
	const (
		gicdPIDR2Offset = 0xFFE8
		gicdTyperOffset = 0x0004
		gicrPIDR2Offset = 0xFFE8
		gicrTyperOffset = 0x0008
	)

	gicd.Store32(gicdPIDR2Offset, cfg.GIC.Version<<4)
	gicd.Store32(gicdTyperOffset, cfg.GIC.ITLines&0x1F)

	for cpu := 0; cpu < cfg.GIC.NumCPUs; cpu++ {
		base := uintptr(cpu) * uintptr(redistSize)
		gicr.Store32(base+gicrPIDR2Offset, cfg.GIC.Version<<4)
		var typer uint64
		if cfg.GIC.VLPIs {
			typer |= 1 << 1
		}
		gicr.Store64(base+gicrTyperOffset, typer)
	}
}
