package policy

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default(): %v", err)
	}
}

func TestLeafWords(t *testing.T) {
	p := Default()
	if got := p.LeafWords(); got != 256 {
		t.Fatalf("LeafWords() = %d, want 256", got)
	}
}

func TestValidateRejects(t *testing.T) {
	base := Default()

	cases := []struct {
		name string
		mod  func(p Policy) Policy
	}{
		{"leaf size zero", func(p Policy) Policy { p.LeafSize = 0; return p }},
		{"leaf size not power of two", func(p Policy) Policy { p.LeafSize = 100 * 64; return p }},
		{"leaf size not multiple of 64", func(p Policy) Policy { p.LeafSize = 100; return p }},
		{"leaf size too large", func(p Policy) Policy { p.LeafSize = 1 << 31; return p }},
		{"branching not allowed", func(p Policy) Policy { p.Branching = 7; return p }},
		{"buffer size negative", func(p Policy) Policy { p.BufferSize = -1; return p }},
		{"buffer size too large", func(p Policy) Policy { p.BufferSize = 63; return p }},
		{"compressed without buffer", func(p Policy) Policy { p.Compressed = true; p.BufferSize = 0; return p }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.mod(base).Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsEveryBranching(t *testing.T) {
	for _, b := range []int{8, 16, 32, 64, 128} {
		p := Default()
		p.Branching = b
		if err := p.Validate(); err != nil {
			t.Fatalf("branching %d: %v", b, err)
		}
	}
}
