package bitfield

import "testing"

type diagWord struct {
	Ready   bool   `bitfield:",1"`
	Version uint32 `bitfield:",3"`
	Code    uint32 `bitfield:",8"`
}

func TestPack(t *testing.T) {
	tests := []struct {
		name    string
		in      diagWord
		want    uint64
		wantErr bool
	}{
		{
			name: "all zero",
			in:   diagWord{},
			want: 0,
		},
		{
			name: "ready bit only",
			in:   diagWord{Ready: true},
			want: 1,
		},
		{
			name: "version shifted past ready bit",
			in:   diagWord{Version: 5},
			want: 5 << 1,
		},
		{
			name: "code shifted past ready+version",
			in:   diagWord{Code: 0xAB},
			want: 0xAB << 4,
		},
		{
			name: "combined",
			in:   diagWord{Ready: true, Version: 3, Code: 0x7F},
			want: 1 | (3 << 1) | (0x7F << 4),
		},
		{
			name:    "value exceeds field width",
			in:      diagWord{Version: 8},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pack(&tt.in, &Config{NumBits: 12})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Pack() = %d, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Pack() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   diagWord
	}{
		{name: "zero", in: diagWord{}},
		{name: "ready", in: diagWord{Ready: true}},
		{name: "full", in: diagWord{Ready: true, Version: 7, Code: 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{NumBits: 12}
			packed, err := Pack(&tt.in, cfg)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}

			var got diagWord
			if err := Unpack(packed, &got, cfg); err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if got != tt.in {
				t.Errorf("Unpack() = %+v, want %+v", got, tt.in)
			}
		})
	}
}

func TestUnpackRejectsNonPointer(t *testing.T) {
	var w diagWord
	if err := Unpack(0, w, nil); err == nil {
		t.Fatal("Unpack() with non-pointer, want error")
	}
}
