package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llll-robotics/llll/internal/firmware"
	"github.com/llll-robotics/llll/internal/types"
)

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Compare hub firmware against the latest release",
}

var firmwareCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether newer firmware is available for the recorded hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		hub, _ := cmd.Flags().GetString("hub")
		report, err := a.lm.CheckFirmware(cmd.Context(), hub)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(report)
		}
		printReport(report)
		return nil
	},
}

var firmwareDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the latest firmware for the recorded hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		hub, _ := cmd.Flags().GetString("hub")
		output, _ := cmd.Flags().GetString("output")
		yes, _ := cmd.Flags().GetBool("yes")

		report, err := a.lm.CheckFirmware(cmd.Context(), hub)
		if err != nil {
			return err
		}
		printReport(report)

		if report.DownloadURL == "" {
			return fmt.Errorf("no firmware download available for %s", report.HubType)
		}
		if report.Status.State == types.FirmwareUpToDate && !yes {
			return nil
		}

		if output == "" {
			output = workspace
		}
		dest := filepath.Join(output, firmware.Filename(report.HubType, report.Latest))

		if !yes && !confirm(fmt.Sprintf("Download %s to %s?", report.Latest, dest)) {
			fmt.Println("Aborted.")
			return nil
		}

		n, err := a.lm.Firmware().Download(cmd.Context(), report.DownloadURL, dest)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\n", dest, humanize.Bytes(uint64(n)))
		fmt.Println("Flash it with the Pybricks installer, then run `llll detect` again.")
		return nil
	},
}

func printReport(r *firmware.Report) {
	switch r.Status.State {
	case types.FirmwareUpToDate:
		fmt.Printf("%s firmware %s is up to date\n", r.HubType, r.Current)
	case types.FirmwareUpdateAvailable:
		fmt.Printf("%s firmware %s, update available: %s\n", r.HubType, r.Current, r.Latest)
		if r.ReleaseURL != "" {
			fmt.Printf("release notes: %s\n", r.ReleaseURL)
		}
	default:
		fmt.Printf("%s firmware %s, latest release unknown\n", r.HubType, r.Current)
		if r.Error != "" {
			fmt.Printf("reason: %s\n", r.Error)
		}
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func init() {
	firmwareCheckCmd.Flags().String("hub", "", "hub name (default: first recorded hub)")
	firmwareCheckCmd.Flags().Bool("json", false, "Output as JSON")

	firmwareDownloadCmd.Flags().String("hub", "", "hub name (default: first recorded hub)")
	firmwareDownloadCmd.Flags().StringP("output", "o", "", "directory to save into (default: workspace)")
	firmwareDownloadCmd.Flags().BoolP("yes", "y", false, "download without asking, even when up to date")

	firmwareCmd.AddCommand(firmwareCheckCmd)
	firmwareCmd.AddCommand(firmwareDownloadCmd)
}
