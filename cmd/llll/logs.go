package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs [name|latest]",
	Short: "List run logs, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if len(args) == 1 {
			name := args[0]
			if name == "latest" {
				name = ""
			}
			text, err := a.lm.ReadLog(name)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		}

		entries, err := a.lm.ListLogs()
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No logs yet, run a program first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSIZE\tSTARTED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Time(e.Started))
		}
		return w.Flush()
	},
}

func init() {
	logsCmd.Flags().Bool("json", false, "Output the listing as JSON")
}
