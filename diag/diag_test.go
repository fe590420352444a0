package diag

import "testing"

type recorder struct {
	lines []string
}

func (r *recorder) WriteString(s string) {
	r.lines = append(r.lines, s)
}

func TestLine(t *testing.T) {
	r := &recorder{}
	Line(r, "hello")

	want := []string{"hello", "\r\n"}
	if len(r.lines) != len(want) {
		t.Fatalf("WriteString called %d times, want %d", len(r.lines), len(want))
	}
	for i, w := range want {
		if r.lines[i] != w {
			t.Errorf("call %d = %q, want %q", i, r.lines[i], w)
		}
	}
}

func TestHex64(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0x0000000000000000"},
		{0xdeadbeef, "0x00000000deadbeef"},
		{^uint64(0), "0xffffffffffffffff"},
	}
	for _, tt := range tests {
		if got := Hex64(tt.in); got != tt.want {
			t.Errorf("Hex64(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHex32(t *testing.T) {
	if got, want := Hex32(0x1234), "0x00001234"; got != want {
		t.Errorf("Hex32() = %q, want %q", got, want)
	}
}

func TestFatalCallsHalt(t *testing.T) {
	r := &recorder{}
	halted := false
	halt := func(msg string) {
		halted = true
		if msg != "boom" {
			t.Errorf("halt msg = %q, want %q", msg, "boom")
		}
	}

	Fatal(r, halt, "boom")

	if !halted {
		t.Fatal("Fatal did not invoke halt")
	}
	if len(r.lines) == 0 || r.lines[0] != "FATAL: boom" {
		t.Errorf("Fatal wrote %v, want first line %q", r.lines, "FATAL: boom")
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := Summary{ArenaReady: true, GICDReady: false, GICRMask: 0xBEEF, LastError: 7}

	word, err := s.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	got, err := UnpackSummary(word)
	if err != nil {
		t.Fatalf("UnpackSummary() error = %v", err)
	}
	if got != s {
		t.Errorf("UnpackSummary() = %+v, want %+v", got, s)
	}
}
