/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fwbuild "github.com/allbin/fwbuild"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Long: `List all available serial ports on the system.

This command scans for communication-capable serial devices including:
- USB serial adapters (ttyUSB*)
- USB CDC/ACM devices (ttyACM*)
- Standard serial ports (ttyS*)
- ARM/Raspberry Pi ports (ttyAMA*)
- And other platform-specific serial devices

Virtual terminals and pseudo-terminals are excluded from the listing. Ports
held by a running operation are flagged with the holding request.`,
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := fwbuild.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}

		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")

		filteredPorts := filterPorts(ports, filterType)

		if len(filteredPorts) == 0 {
			if filterType != "" {
				fmt.Printf("No serial ports found matching filter: %s\n", filterType)
			} else {
				fmt.Println("No serial ports found")
			}
			return
		}

		if tableFormat {
			renderPortTable(filteredPorts, heldPorts())
		} else {
			renderSimple(filteredPorts)
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	portsCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// heldPorts maps device paths to holding request ids from the persisted lock
// table. An unreadable table just means no annotations.
func heldPorts() map[string]string {
	dir := viper.GetString("state-dir")
	var table *fwbuild.LockTable
	var err error
	if dir != "" {
		table, err = fwbuild.NewLockTable(dir)
	} else {
		table, err = fwbuild.NewLockTable(fwbuild.DefaultConfig().StateDir)
	}
	if err != nil {
		return nil
	}
	records, err := table.Records()
	if err != nil {
		return nil
	}
	held := make(map[string]string)
	for _, rec := range records {
		if rec.KeyType == fwbuild.KeyTypePort {
			held[rec.Key] = rec.Holder
		}
	}
	return held
}

// filterPorts filters the port list based on the specified filter type
func filterPorts(ports []string, filterType string) []string {
	if filterType == "" || filterType == "all" {
		return ports
	}

	var filtered []string
	for _, port := range ports {
		info, err := fwbuild.GetPortInfo(port)
		if err != nil {
			continue
		}

		name := strings.ToLower(info.Name)
		switch strings.ToLower(filterType) {
		case "usb":
			if strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm") {
				filtered = append(filtered, port)
			}
		case "standard":
			if strings.HasPrefix(name, "ttys") {
				filtered = append(filtered, port)
			}
		case "arm":
			if strings.HasPrefix(name, "ttyama") {
				filtered = append(filtered, port)
			}
		}
	}
	return filtered
}

// renderPortTable renders the port list in a styled static table format
func renderPortTable(ports []string, held map[string]string) {
	fmt.Printf("Found %d serial port(s):\n\n", len(ports))

	portWidth := 15
	typeWidth := 20
	descWidth := 30
	statusWidth := 18

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240")).
		PaddingBottom(1)

	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s",
		portWidth, "Port",
		typeWidth, "Type",
		descWidth, "Description",
		statusWidth, "Status")
	fmt.Println(headerStyle.Render(header))

	for _, port := range ports {
		info, err := fwbuild.GetPortInfo(port)
		if err != nil {
			row := fmt.Sprintf("%-*s %-*s %-*s %-*s",
				portWidth, port,
				typeWidth, "Unknown",
				descWidth, fmt.Sprintf("Error: %v", err),
				statusWidth, "")
			fmt.Println(cellStyle.Render(row))
			continue
		}

		status := "free"
		if holder, ok := held[port]; ok {
			status = "held by " + shortID(holder)
		}

		portType := getPortType(info.Name)
		row := fmt.Sprintf("%-*s %-*s %-*s %-*s",
			portWidth, info.Name,
			typeWidth, portType,
			descWidth, info.Description,
			statusWidth, status)
		fmt.Println(cellStyle.Render(row))
	}
}

// renderSimple renders the port list in simple text format
func renderSimple(ports []string) {
	for _, port := range ports {
		fmt.Println(port)
	}
}

// shortID truncates a request id for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttysac"):
		return "Samsung Serial"
	case strings.HasPrefix(name, "ttyths"):
		return "Tegra Serial"
	case strings.HasPrefix(name, "ttyo"):
		return "OMAP Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
