package fwbuild

import (
	"errors"
	"strings"
	"testing"
)

func TestListPorts(t *testing.T) {
	ports, err := ListPorts()
	if err != nil {
		t.Errorf("ListPorts failed: %v", err)
	}

	for _, port := range ports {
		if !strings.HasPrefix(port, "/dev/") {
			t.Errorf("Port path doesn't start with /dev/: %s", port)
		}
		if !isCharacterDevice(port) {
			t.Errorf("Port is not a character device: %s", port)
		}
	}

	// Sorted output keeps display and tests deterministic
	for i := 1; i < len(ports); i++ {
		if ports[i-1] > ports[i] {
			t.Errorf("Ports are not sorted: %s > %s", ports[i-1], ports[i])
		}
	}
}

func TestIsCharacterDevice(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/dev/null", true},
		{"/dev/zero", true},
		{"/tmp", false},
		{"/nonexistent", false},
	}

	for _, tt := range tests {
		if got := isCharacterDevice(tt.path); got != tt.expected {
			t.Errorf("isCharacterDevice(%s) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestGetPortDescription(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"ttyUSB0", "USB Serial Port"},
		{"ttyACM0", "USB CDC/ACM Device"},
		{"ttyS0", "Standard Serial Port"},
		{"ttyAMA0", "ARM Serial Port"},
		{"ttymxc0", "i.MX Serial Port"},
		{"ttyO0", "OMAP Serial Port"},
		{"ttySAC0", "Samsung Serial Port"},
		{"ttyTHS0", "Tegra Serial Port"},
		{"unknown", "Serial Port"},
	}

	for _, tt := range tests {
		if got := getPortDescription(tt.name); got != tt.expected {
			t.Errorf("getPortDescription(%s) = %s, expected %s", tt.name, got, tt.expected)
		}
	}
}

func TestGetPortInfo(t *testing.T) {
	// /dev/null always exists and is a character device
	info, err := GetPortInfo("/dev/null")
	if err != nil {
		t.Fatalf("GetPortInfo failed for /dev/null: %v", err)
	}
	if info.Name != "null" {
		t.Errorf("Expected name 'null', got '%s'", info.Name)
	}
	if info.Path != "/dev/null" {
		t.Errorf("Expected path '/dev/null', got '%s'", info.Path)
	}
	if info.Description == "" {
		t.Error("Description should not be empty")
	}

	_, err = GetPortInfo("/dev/nonexistent")
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Expected ErrInvalidReference for missing device, got %v", err)
	}
}

func TestReadSysfsFile(t *testing.T) {
	if got := readSysfsFile("/nonexistent/idVendor"); got != "" {
		t.Errorf("readSysfsFile on missing path = %q, want empty", got)
	}
}
