package fwbuild

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveProject(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "firmware.bin")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"existing directory", dir, false},
		{"nonexistent path", filepath.Join(dir, "missing"), true},
		{"regular file", file, true},
		{"empty reference", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ResolveProject(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveProject(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidReference) {
					t.Errorf("error should wrap ErrInvalidReference, got %v", err)
				}
				return
			}
			if !filepath.IsAbs(string(key)) {
				t.Errorf("key %q should be absolute", key)
			}
		})
	}
}

func TestResolveProjectFoldsEquivalentReferences(t *testing.T) {
	dir := t.TempDir()

	// Relative and absolute forms of the same directory must map to the
	// same key, otherwise two clients would not contend on the same lock.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, dir)
	if err != nil {
		t.Skip("temp dir not reachable relatively from working directory")
	}

	k1, err := ResolveProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ResolveProject(rel)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("absolute and relative references diverge: %q vs %q", k1, k2)
	}

	// A trailing separator must not change identity
	k3, err := ResolveProject(dir + string(os.PathSeparator))
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k3 {
		t.Errorf("trailing separator changes identity: %q vs %q", k1, k3)
	}
}

func TestResolveProjectThroughSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	direct, err := ResolveProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	viaLink, err := ResolveProject(link)
	if err != nil {
		t.Fatal(err)
	}
	if direct != viaLink {
		t.Errorf("symlinked reference diverges: %q vs %q", direct, viaLink)
	}
}

func TestResolvePortInvalidReferences(t *testing.T) {
	tests := []struct {
		name string
		ref  string
	}{
		{"empty reference", ""},
		{"nonexistent device", "/dev/ttyUSB999999"},
		{"regular file", "/etc/hostname"},
		{"unknown bare name", "ttyNOSUCH0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolvePort(tt.ref)
			if err == nil {
				t.Fatalf("ResolvePort(%q) should fail", tt.ref)
			}
			if !errors.Is(err, ErrInvalidReference) {
				t.Errorf("error should wrap ErrInvalidReference, got %v", err)
			}
		})
	}
}

func TestResolvePortAcceptsRealDevices(t *testing.T) {
	ports, err := ListPorts()
	if err != nil || len(ports) == 0 {
		t.Skip("no serial ports on this system")
	}

	key, err := ResolvePort(ports[0])
	if err != nil {
		t.Fatalf("ResolvePort(%q) failed: %v", ports[0], err)
	}

	// Bare name and case-folded bare name must resolve to the same key
	base := filepath.Base(ports[0])
	k2, err := ResolvePort(base)
	if err != nil {
		t.Fatalf("ResolvePort(%q) failed: %v", base, err)
	}
	if key != k2 {
		t.Errorf("bare name diverges: %q vs %q", key, k2)
	}
}
