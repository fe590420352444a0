package ptb

import "errors"

// The closed set of recoverable page-mapping errors, matching
// aarch64-lab's PageMapError enum one-for-one.
var (
	ErrOutOfMemory          = errors.New("ptb: out of page-table memory")
	ErrNonCanonicalVirtAddr = errors.New("ptb: virtual address is not canonical")
	ErrMisalignedVirtAddr   = errors.New("ptb: virtual address is misaligned for the requested mapping")
	ErrMisalignedPhysAddr   = errors.New("ptb: physical address is misaligned for the requested mapping")
	ErrInvalidMappingSize   = errors.New("ptb: mapping size is invalid for the requested operation")
	ErrEmptyMapping         = errors.New("ptb: mapping size is zero")
	ErrAlreadyMapped        = errors.New("ptb: virtual address is already mapped")
)
