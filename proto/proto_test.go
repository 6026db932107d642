package proto

import "testing"

func TestRevision(t *testing.T) {
	tests := []struct {
		rev   Revision
		valid bool
		str   string
	}{
		{RevisionNA, false, "NA"},
		{RevisionA, true, "A0"},
		{RevisionB, true, "B0"},
		{RevisionC0, true, "C0"},
		{RevisionC1, true, "C1"},
		{RevisionC2, true, "C2"},
		{RevisionC3, true, "C3"},
		{0x34, false, "C4"},
		{0x40, false, "D0"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.rev.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.rev.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestRevision_LetterDigit(t *testing.T) {
	if got := RevisionC3.Letter(); got != 'C' {
		t.Errorf("Letter() = %q, want 'C'", got)
	}
	if got := RevisionC3.Digit(); got != '3' {
		t.Errorf("Digit() = %q, want '3'", got)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{0, "ok"},
		{StatusError, "error"},
		{StatusFPGAReady, "fpga-ready"},
		{StatusError | StatusAlert, "error|alert"},
		{StatusError | StatusFPGAReady | StatusAlert, "error|fpga-ready|alert"},
		{0x80, "0x80"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(0x%02X).String() = %q, want %q", uint8(tt.s), got, tt.want)
		}
	}
}

func TestPort(t *testing.T) {
	tests := []struct {
		p     Port
		index int
		str   string
	}{
		{0, -1, "-"},
		{PortA, 0, "A"},
		{PortB, 1, "B"},
		{PortAll, -1, "AB"},
	}
	for _, tt := range tests {
		if got := tt.p.Index(); got != tt.index {
			t.Errorf("Port(%d).Index() = %d, want %d", tt.p, got, tt.index)
		}
		if got := tt.p.String(); got != tt.str {
			t.Errorf("Port(%d).String() = %q, want %q", tt.p, got, tt.str)
		}
	}
}

func TestRequestTypes(t *testing.T) {
	if RequestTypeVendorIn&0x80 == 0 {
		t.Error("RequestTypeVendorIn has no IN direction bit")
	}
	if RequestTypeVendorIn&^0x80 != RequestTypeVendorOut {
		t.Errorf("RequestTypeVendorIn = 0x%02X, want 0x%02X with IN bit",
			RequestTypeVendorIn, RequestTypeVendorOut)
	}
}

func TestParseRevision(t *testing.T) {
	tests := []struct {
		in      string
		want    Revision
		wantErr bool
	}{
		{"C3", RevisionC3, false},
		{"c1", RevisionC1, false},
		{"A0", RevisionA, false},
		{"NA", RevisionNA, true},
		{"C4", RevisionNA, true},
		{"", RevisionNA, true},
	}
	for _, tt := range tests {
		got, err := ParseRevision(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRevision(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRevision(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    Port
		wantErr bool
	}{
		{"A", PortA, false},
		{"b", PortB, false},
		{"AB", PortAll, false},
		{"BA", PortAll, false},
		{"", 0, true},
		{"C", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePort(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePort(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePort(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

