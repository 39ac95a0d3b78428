package codepage

import (
	"errors"
	"testing"
)

func TestResolveKnownPages(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"canonical number", "37", "37"},
		{"cp prefix", "cp037", "37"},
		{"ibm prefix", "IBM037", "37"},
		{"iana name", "ebcdic-cp-us", "37"},
		{"whitespace", " 1140 ", "1140"},
		{"open systems", "1047", "1047"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := registry.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.id, err)
			}
			if page.ID() != tt.want {
				t.Errorf("Resolve(%q).ID() = %q, want %q", tt.id, page.ID(), tt.want)
			}
		})
	}
}

func TestResolveUnknownPage(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	_, err = registry.Resolve("9999")
	if !errors.Is(err, ErrUnknownCodePage) {
		t.Fatalf("Resolve(9999) error = %v, want ErrUnknownCodePage", err)
	}
}

func TestSharedInstances(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	a, err := registry.Resolve("37")
	if err != nil {
		t.Fatal(err)
	}
	b, err := registry.Resolve("cp037")
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Error("aliases of the same page should resolve to one shared instance")
	}
}

func TestEncodeDecodeCP37(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	page, err := registry.Resolve("37")
	if err != nil {
		t.Fatal(err)
	}

	// Spot-check well-known EBCDIC positions.
	tests := []struct {
		r rune
		b byte
	}{
		{'A', 0xC1},
		{'Z', 0xE9},
		{'a', 0x81},
		{'0', 0xF0},
		{'9', 0xF9},
		{' ', 0x40},
		{'?', 0x6F},
	}

	for _, tt := range tests {
		got, err := page.Encode(tt.r)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.r, err)
		}
		if got != tt.b {
			t.Errorf("Encode(%q) = 0x%02X, want 0x%02X", tt.r, got, tt.b)
		}
		if back := page.Decode(tt.b); back != tt.r {
			t.Errorf("Decode(0x%02X) = %q, want %q", tt.b, back, tt.r)
		}
	}
}

func TestEncodeUnmappable(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	page, err := registry.Resolve("37")
	if err != nil {
		t.Fatal(err)
	}

	_, err = page.Encode('→')
	if !errors.Is(err, ErrUnmappable) {
		t.Fatalf("Encode('→') error = %v, want ErrUnmappable", err)
	}

	if page.Mapped('→') {
		t.Error("Mapped('→') = true, want false")
	}
}

func TestRoundTripAllPages(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	for _, id := range registry.IDs() {
		page, err := registry.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}

		for b := 0; b < 256; b++ {
			r := page.Decode(byte(b))
			if r == SubstituteRune {
				continue
			}
			if !page.Mapped(r) {
				continue
			}

			encoded, err := page.Encode(r)
			if err != nil {
				t.Fatalf("page %s: Encode(Decode(0x%02X)): %v", id, b, err)
			}
			if page.Decode(encoded) != r {
				t.Errorf("page %s: decode(encode(%q)) = %q", id, r, page.Decode(encoded))
			}
		}
	}
}
