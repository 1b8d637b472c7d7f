package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var detectCmd = &cobra.Command{
	Use:   "detect [hub-name]",
	Short: "Scan for a hub, read its configuration and record it in llll.toml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		hub, err := a.lm.Discover(cmd.Context(), name)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(hub)
		}
		fmt.Printf("Detected %s\n\n", hub)
		text, err := a.lm.InventoryText()
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var hubCmd = &cobra.Command{
	Use:   "hub [hub-name]",
	Short: "Show the recorded hub configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut || len(args) == 1 {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			hub, err := a.lm.GetHubInfo(name)
			if err != nil {
				return err
			}
			return printJSON(hub)
		}

		text, err := a.lm.InventoryText()
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

func init() {
	detectCmd.Flags().Bool("json", false, "Output as JSON")
	hubCmd.Flags().Bool("json", false, "Output as JSON")
}
