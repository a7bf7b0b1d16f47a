package policy

import (
	"path/filepath"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestFromConfigNil(t *testing.T) {
	p, err := FromConfig(nil, "/base")
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if p.Explicit {
		t.Fatal("nil config must not set Explicit")
	}
	if !p.CanRead("/anywhere/at/all") || !p.CanWrite("/anywhere/at/all") {
		t.Fatal("no config means unrestricted")
	}
}

func TestExplicitEmptyConfigRestrictsEverything(t *testing.T) {
	p, err := FromConfig(&Config{}, "/base")
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if !p.Explicit {
		t.Fatal("empty config block must set Explicit")
	}
	if p.CanRead("/tmp/x") || p.CanWrite("/tmp/x") {
		t.Fatal("explicit empty config must deny everything")
	}
}

func TestWriteImpliesRead(t *testing.T) {
	base := t.TempDir()
	p, err := FromConfig(&Config{
		ReadPaths:  []string{"docs"},
		WritePaths: []string{"output"},
	}, base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	inDocs := filepath.Join(base, "docs", "a.md")
	inOutput := filepath.Join(base, "output", "b.txt")
	outside := filepath.Join(base, "secret", "c.txt")

	if !p.CanRead(inDocs) {
		t.Fatal("read root not readable")
	}
	if p.CanWrite(inDocs) {
		t.Fatal("read root must not be writable")
	}
	if !p.CanWrite(inOutput) || !p.CanRead(inOutput) {
		t.Fatal("write root must be writable and readable")
	}
	if p.CanRead(outside) || p.CanWrite(outside) {
		t.Fatal("path outside all roots must be denied")
	}
}

func TestRootBoundaryIsPathAware(t *testing.T) {
	base := t.TempDir()
	p, err := FromConfig(&Config{ReadPaths: []string{"docs"}}, base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	// A sibling whose name shares the root as a string prefix is outside.
	if p.CanRead(filepath.Join(base, "docs-private", "x")) {
		t.Fatal("prefix sibling must not match the root")
	}
	if !p.CanRead(filepath.Join(base, "docs")) {
		t.Fatal("the root itself must be readable")
	}
}

func TestConvertedAccessResolution(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default strict", Config{}, ConvertedStrict, false},
		{"explicit hybrid", Config{ConvertedAccess: "hybrid"}, ConvertedHybrid, false},
		{"legacy true", Config{AllowConvertedRead: boolPtr(true)}, ConvertedOpen, false},
		{"legacy false", Config{AllowConvertedRead: boolPtr(false)}, ConvertedStrict, false},
		{"agreeing", Config{AllowConvertedRead: boolPtr(true), ConvertedAccess: "open"}, ConvertedOpen, false},
		{"conflicting", Config{AllowConvertedRead: boolPtr(true), ConvertedAccess: "strict"}, "", true},
		{"invalid mode", Config{ConvertedAccess: "everything"}, "", true},
	}
	for _, tc := range cases {
		p, err := FromConfig(&tc.cfg, "")
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected construction error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if p.ConvertedAccess != tc.want {
			t.Fatalf("%s: mode = %q, want %q", tc.name, p.ConvertedAccess, tc.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := t.TempDir()
	parent, err := FromConfig(&Config{
		ReadPaths:  []string{"docs"},
		WritePaths: []string{"output"},
	}, base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	child := parent.Clone()
	if child == parent {
		t.Fatal("clone returned the same object")
	}
	if len(child.ReadRoots) != len(parent.ReadRoots) || child.ReadRoots[0] != parent.ReadRoots[0] {
		t.Fatal("clone roots differ in value")
	}

	child.ReadRoots[0] = "/elsewhere"
	child.WriteRoots = append(child.WriteRoots, "/extra")
	if parent.ReadRoots[0] == "/elsewhere" {
		t.Fatal("mutating the clone changed the parent's read roots")
	}
	if len(parent.WriteRoots) != 1 {
		t.Fatal("mutating the clone changed the parent's write roots")
	}
}
