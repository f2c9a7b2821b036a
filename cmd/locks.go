/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/evertras/bubble-table/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fwbuild "github.com/allbin/fwbuild"
)

// locksCmd represents the locks command
var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show held project and port locks",
	Long: `Show the persisted lock table: which projects and ports are locked,
by which request and process, and for how long.

Locks whose owning process no longer exists are marked stale; --clear-stale
removes them. Live locks are never cleared, they are released by the
operation that holds them.`,
	Run: func(cmd *cobra.Command, args []string) {
		lockTable, err := openLockTable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening lock table: %v\n", err)
			os.Exit(1)
		}

		clearStale, _ := cmd.Flags().GetBool("clear-stale")
		if clearStale {
			reclaimed, err := lockTable.Sweep()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error clearing stale locks: %v\n", err)
				os.Exit(1)
			}
			for _, rec := range reclaimed {
				fmt.Printf("Cleared stale %s lock on %s (pid %d)\n", rec.KeyType, rec.Key, rec.PID)
			}
			if len(reclaimed) == 0 {
				fmt.Println("No stale locks found")
			}
		}

		records, err := lockTable.Records()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading lock table: %v\n", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			fmt.Println("No locks held")
			return
		}

		fmt.Println(renderLockTable(records))
	},
}

func init() {
	rootCmd.AddCommand(locksCmd)

	locksCmd.Flags().Bool("clear-stale", false, "remove locks whose owning process no longer exists")
}

func openLockTable() (*fwbuild.LockTable, error) {
	dir := viper.GetString("state-dir")
	if dir == "" {
		dir = fwbuild.DefaultConfig().StateDir
	}
	return fwbuild.NewLockTable(dir)
}

func renderLockTable(records []fwbuild.LockRecord) string {
	columns := []table.Column{
		table.NewColumn("resource", "Resource", 40),
		table.NewColumn("type", "Type", 9),
		table.NewColumn("holder", "Request", 10),
		table.NewColumn("pid", "PID", 8),
		table.NewColumn("age", "Held For", 10),
		table.NewColumn("state", "State", 7),
	}

	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		state := "live"
		if rec.Stale() {
			state = "stale"
		}
		rows = append(rows, table.NewRow(table.RowData{
			"resource": rec.Key,
			"type":     rec.KeyType,
			"holder":   shortID(rec.Holder),
			"pid":      rec.PID,
			"age":      rec.Age().Round(time.Second).String(),
			"state":    state,
		}))
	}

	return table.New(columns).WithRows(rows).View()
}
