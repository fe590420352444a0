package diag

import "armboot/bitfield"

// Summary is a one-word packed status snapshot, in the spirit of the
// teacher's bitfield-packed PageFlags: a handful of small fields bundled
// into a single integer cheap enough to print or stash in a fixed memory
// location for post-mortem inspection.
type Summary struct {
	ArenaReady bool   `bitfield:",1"`
	GICDReady  bool   `bitfield:",1"`
	GICRMask   uint32 `bitfield:",16"`
	LastError  uint32 `bitfield:",8"`
}

var summaryConfig = &bitfield.Config{NumBits: 32}

// Pack renders s as a 32-bit word suitable for a single diagnostic line.
func (s Summary) Pack() (uint32, error) {
	packed, err := bitfield.Pack(&s, summaryConfig)
	return uint32(packed), err
}

// UnpackSummary is the inverse of Summary.Pack.
func UnpackSummary(word uint32) (Summary, error) {
	var s Summary
	err := bitfield.Unpack(uint64(word), &s, summaryConfig)
	return s, err
}

// String renders the summary as a single diagnostic line.
func (s Summary) String() string {
	word, err := s.Pack()
	if err != nil {
		return "summary: <invalid>"
	}
	return "summary=" + Hex32(word)
}
