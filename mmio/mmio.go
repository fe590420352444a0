// Package mmio renders the register-access abstraction of
// aarch64-lab's dev_registrer.rs (DeviceRegisterSpec / DeviceRegister /
// DeviceRegisterArraySpec / DeviceRegisterArray) as Go generics, per the
// design note that this should be generics or a small hand-instantiated
// struct per register rather than a runtime vtable.
//
// A Region is the addressable backing store a register lives in. Two
// implementations are provided: PhysRegion, for a real physical MMIO
// window, and a ByteRegion, for tests and host-side simulation that
// operate over a plain byte slice — the same technique aarch64-lab's own
// tests use (constructing a page-table space over a `Vec<u8>` rather
// than real physical memory).
package mmio

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Region is an addressable window registers are read from and written
// to. Offsets are relative to the region's own base.
type Region interface {
	Load32(offset uintptr) uint32
	Store32(offset uintptr, v uint32)
	Load64(offset uintptr) uint64
	Store64(offset uintptr, v uint64)
}

// Width is a register's wire width.
type Width int

const (
	Width32 Width = 4
	Width64 Width = 8
)

// Spec describes one register: where it lives, how wide it is on the
// wire, and how to translate between the raw wire word and the typed
// value V callers work with.
type Spec[V any] struct {
	Offset uintptr
	Width  Width
	Encode func(V) uint64
	Decode func(uint64) V
}

// Register is a single MMIO register of typed value V.
type Register[V any] struct {
	region Region
	spec   Spec[V]
}

// NewRegister binds spec to region.
func NewRegister[V any](region Region, spec Spec[V]) Register[V] {
	return Register[V]{region: region, spec: spec}
}

// Read performs a volatile read and decodes it to V.
func (r Register[V]) Read() V {
	return r.spec.Decode(r.loadRaw())
}

// Write encodes v and performs a volatile write.
func (r Register[V]) Write(v V) {
	r.storeRaw(r.spec.Encode(v))
}

func (r Register[V]) loadRaw() uint64 {
	switch r.spec.Width {
	case Width32:
		return uint64(r.region.Load32(r.spec.Offset))
	case Width64:
		return r.region.Load64(r.spec.Offset)
	default:
		panic(fmt.Sprintf("mmio: invalid register width %d", r.spec.Width))
	}
}

func (r Register[V]) storeRaw(raw uint64) {
	switch r.spec.Width {
	case Width32:
		r.region.Store32(r.spec.Offset, uint32(raw))
	case Width64:
		r.region.Store64(r.spec.Offset, raw)
	default:
		panic(fmt.Sprintf("mmio: invalid register width %d", r.spec.Width))
	}
}

// ArraySpec describes a regularly strided run of identically shaped
// registers, mirroring DeviceRegisterArraySpec's STRIDE and COUNT.
type ArraySpec[V any] struct {
	Offset uintptr
	Stride uintptr
	Count  int
	Width  Width
	Encode func(V) uint64
	Decode func(uint64) V
}

// RegisterArray is a strided run of registers sharing one Region.
type RegisterArray[V any] struct {
	region Region
	spec   ArraySpec[V]
}

// NewRegisterArray binds spec to region.
func NewRegisterArray[V any](region Region, spec ArraySpec[V]) RegisterArray[V] {
	return RegisterArray[V]{region: region, spec: spec}
}

// Len reports the array's element count.
func (a RegisterArray[V]) Len() int { return a.spec.Count }

// Index returns the i'th register in the array. It panics if i is out
// of [0, Len()), matching DeviceRegisterArray::index's assertion.
func (a RegisterArray[V]) Index(i int) Register[V] {
	if i < 0 || i >= a.spec.Count {
		panic(fmt.Sprintf("mmio: index %d out of range [0,%d)", i, a.spec.Count))
	}
	return Register[V]{
		region: a.region,
		spec: Spec[V]{
			Offset: a.spec.Offset + uintptr(i)*a.spec.Stride,
			Width:  a.spec.Width,
			Encode: a.spec.Encode,
			Decode: a.spec.Decode,
		},
	}
}

// Fill writes value to every register with index in [start, end), in
// ascending order, matching DeviceRegisterArray::fill's iteration order.
func (a RegisterArray[V]) Fill(start, end int, value V) {
	for i := start; i < end; i++ {
		a.Index(i).Write(value)
	}
}

// physRegion is a Region backed by a real physical address window,
// using atomic load/store as the closest stdlib equivalent to a
// volatile access (it forbids the compiler from caching the value in a
// register or reordering the access across other atomics).
type physRegion struct {
	base uintptr
}

// PhysRegion returns a Region whose offset 0 is the physical address
// base. Callers are responsible for base actually being mapped and
// device-attributed before any register in the region is touched.
func PhysRegion(base uintptr) Region {
	return physRegion{base: base}
}

func (p physRegion) Load32(offset uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(p.base + offset)))
}

func (p physRegion) Store32(offset uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(p.base+offset)), v)
}

func (p physRegion) Load64(offset uintptr) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(p.base + offset)))
}

func (p physRegion) Store64(offset uintptr, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p.base+offset)), v)
}

// byteRegion is a Region backed by a plain byte slice, little-endian
// (AArch64's default endianness), for tests and host-side simulation.
type byteRegion struct {
	buf []byte
}

// NewByteRegion wraps buf as a Region. buf must remain large enough for
// every offset any bound register touches; out-of-range access panics
// via the normal slice bounds check.
func NewByteRegion(buf []byte) Region {
	return &byteRegion{buf: buf}
}

func (b *byteRegion) Load32(offset uintptr) uint32 {
	return binary.LittleEndian.Uint32(b.buf[offset : offset+4])
}

func (b *byteRegion) Store32(offset uintptr, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[offset:offset+4], v)
}

func (b *byteRegion) Load64(offset uintptr) uint64 {
	return binary.LittleEndian.Uint64(b.buf[offset : offset+8])
}

func (b *byteRegion) Store64(offset uintptr, v uint64) {
	binary.LittleEndian.PutUint64(b.buf[offset:offset+8], v)
}
