package fwbuild

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ListPorts returns the available serial ports on the system.
// Filters for communication-capable devices and excludes virtual terminals.
func ListPorts() ([]string, error) {
	var ports []string

	devDir := "/dev"
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	// Regular expressions for different types of serial devices
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
		regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
		regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
		regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
		regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
		regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
		regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
		regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
	}

	// Exclude patterns for virtual terminals and other non-serial devices
	excludePatterns := []*regexp.Regexp{
		regexp.MustCompile(`^tty\d+$`),  // Virtual terminals (tty1, tty2, etc.)
		regexp.MustCompile(`^console$`), // Console
		regexp.MustCompile(`^ptmx$`),    // Pseudo-terminal multiplexer
		regexp.MustCompile(`^pty.*$`),   // Pseudo-terminals
		regexp.MustCompile(`^pts/.*$`),  // Pseudo-terminal slaves
	}

	for _, entry := range entries {
		name := entry.Name()

		excluded := false
		for _, excludePattern := range excludePatterns {
			if excludePattern.MatchString(name) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		matched := false
		for _, pattern := range patterns {
			if pattern.MatchString(name) {
				matched = true
				break
			}
		}

		if matched {
			fullPath := filepath.Join(devDir, name)

			// Verify it's a character device (not a directory or regular file)
			if isCharacterDevice(fullPath) {
				ports = append(ports, fullPath)
			}
		}
	}

	// Sort the ports for consistent ordering
	sort.Strings(ports)

	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	mode := info.Mode()
	return mode&os.ModeCharDevice != 0
}

// PortInfo holds detailed information about a serial port
type PortInfo struct {
	Name         string
	Path         string
	Description  string
	VendorID     string
	ProductID    string
	SerialNumber string
	BusNumber    string
	DeviceNumber string
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrInvalidReference
	}

	name := filepath.Base(portPath)

	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	// Try to get USB device information if it's a USB device
	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info)
	}

	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo reads USB metadata for the port from sysfs. The tty device
// directory links into the USB device hierarchy; idVendor/idProduct/serial
// live one or two levels up depending on the adapter.
func enrichUSBInfo(info *PortInfo) {
	deviceDir := filepath.Join("/sys/class/tty", info.Name, "device")

	for _, up := range []string{"..", "../.."} {
		base := filepath.Join(deviceDir, up)
		vendor := readSysfsFile(filepath.Join(base, "idVendor"))
		if vendor == "" {
			continue
		}
		info.VendorID = vendor
		info.ProductID = readSysfsFile(filepath.Join(base, "idProduct"))
		info.SerialNumber = readSysfsFile(filepath.Join(base, "serial"))
		info.BusNumber = readSysfsFile(filepath.Join(base, "busnum"))
		info.DeviceNumber = readSysfsFile(filepath.Join(base, "devnum"))
		if product := readSysfsFile(filepath.Join(base, "product")); product != "" {
			info.Description = product
		}
		return
	}
}

func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
