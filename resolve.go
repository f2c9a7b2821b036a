package fwbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveProject normalizes a project reference into its canonical key: the
// symlink-resolved absolute path of the project directory. All string forms
// referring to the same directory resolve to the same key, so concurrent
// clients naming it differently still contend on the same lock.
func ResolveProject(rawRef string) (ProjectKey, error) {
	if rawRef == "" {
		return "", fmt.Errorf("%w: empty project reference", ErrInvalidReference)
	}

	abs, err := filepath.Abs(rawRef)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, rawRef, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, rawRef, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, rawRef, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrInvalidReference, rawRef)
	}

	return ProjectKey(filepath.Clean(resolved)), nil
}

// ResolvePort normalizes a port reference into its canonical key: the
// symlink-resolved device path. Accepted forms:
//
//   - a device path: /dev/ttyUSB0
//   - a by-id alias: /dev/serial/by-id/usb-Espressif_USB_JTAG...
//   - a bare device name, case-folded: ttyUSB0, TTYUSB0
//
// By-id aliases are symlinks to the physical device, so two clients naming
// the same board through different aliases contend on the same key.
func ResolvePort(rawRef string) (PortKey, error) {
	if rawRef == "" {
		return "", fmt.Errorf("%w: empty port reference", ErrInvalidReference)
	}

	candidate := rawRef
	if !strings.ContainsRune(rawRef, os.PathSeparator) {
		resolved, err := resolveBareName(rawRef)
		if err != nil {
			return "", err
		}
		candidate = resolved
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, rawRef, err)
	}

	if !isCharacterDevice(resolved) {
		return "", fmt.Errorf("%w: %q is not a serial device", ErrInvalidReference, rawRef)
	}

	return PortKey(filepath.Clean(resolved)), nil
}

// resolveBareName maps a bare device name to its /dev path, folding case
// against the discovered ports so "TTYUSB0" and "ttyUSB0" agree.
func resolveBareName(name string) (string, error) {
	direct := filepath.Join("/dev", name)
	if isCharacterDevice(direct) {
		return direct, nil
	}

	ports, err := ListPorts()
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, name, err)
	}
	lower := strings.ToLower(name)
	for _, p := range ports {
		if strings.ToLower(filepath.Base(p)) == lower {
			return p, nil
		}
	}

	// Last chance: a by-id alias given without its directory
	alias := filepath.Join("/dev/serial/by-id", name)
	if _, err := os.Lstat(alias); err == nil {
		return alias, nil
	}

	if len(ports) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoPortsFound, name)
	}
	return "", fmt.Errorf("%w: unknown port %q", ErrInvalidReference, name)
}
