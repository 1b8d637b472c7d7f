package mcpserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llll-robotics/llll/internal/firmware"
	"github.com/llll-robotics/llll/internal/interfaces"
	"github.com/llll-robotics/llll/internal/runlog"
	"github.com/llll-robotics/llll/internal/storage"
	"github.com/llll-robotics/llll/internal/types"
)

func formatHub(hub *types.HubConfig) string {
	var b strings.Builder
	d := hub.Device

	fmt.Fprintf(&b, "Hub: %s (%s)\n", d.Identifier(), d.Type)
	if d.Address != "" && d.Address != d.Identifier() {
		fmt.Fprintf(&b, "Address: %s\n", d.Address)
	}
	fmt.Fprintf(&b, "Firmware: %s\n", d.FirmwareVersion)
	fmt.Fprintf(&b, "Battery: %d mV\n", d.BatteryMillivolts)

	b.WriteString("Ports:\n")
	for _, p := range hub.Ports {
		if p.Device == nil {
			fmt.Fprintf(&b, "  %s: empty\n", p.Letter)
			continue
		}
		fmt.Fprintf(&b, "  %s: %s (%s, id %d)", p.Letter, p.Device.Name, p.Device.Class, p.Device.DeviceID)
		if p.Device.API != "" {
			fmt.Fprintf(&b, " -> %s", p.Device.API)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatResult(r *types.RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *r.ExitCode)
	}
	if r.Device != "" {
		fmt.Fprintf(&b, "Hub: %s\n", r.Device)
	}
	fmt.Fprintf(&b, "Duration: %.1fs\n", r.Duration.Seconds())
	if r.Error != nil {
		if r.Error.Line > 0 {
			fmt.Fprintf(&b, "Error (%s, line %d): %s\n", r.Error.Kind, r.Error.Line, r.Error.Message)
		} else {
			fmt.Fprintf(&b, "Error (%s): %s\n", r.Error.Kind, r.Error.Message)
		}
	}
	if r.LogFile != "" {
		fmt.Fprintf(&b, "Log: %s\n", r.LogFile)
	}

	if len(r.Output) == 0 {
		b.WriteString("Output: (none)")
		return b.String()
	}
	fmt.Fprintf(&b, "Output (%d lines):\n", len(r.Output))
	if r.Truncated {
		fmt.Fprintf(&b, "[%d earlier lines dropped]\n", r.DroppedLines)
	}
	b.WriteString(strings.Join(r.Output, "\n"))
	return b.String()
}

func formatPrograms(programs []interfaces.Program) string {
	if len(programs) == 0 {
		return "No programs found."
	}
	var b strings.Builder
	for _, p := range programs {
		fmt.Fprintf(&b, "%s (%s, modified %s)\n", p.Path, humanize.Bytes(uint64(p.Size)), humanize.Time(p.Modified))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLogs(entries []runlog.Entry) string {
	if len(entries) == 0 {
		return "No run logs yet."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %s  %s\n", e.Name, humanize.Bytes(uint64(e.Size)), e.Started.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(runs []storage.Run) string {
	if len(runs) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "%s  %s  %s", r.StartedAt.Format(time.RFC3339), r.Program, r.Status)
		if r.ExitCode != nil {
			fmt.Fprintf(&b, " (exit %d)", *r.ExitCode)
		}
		fmt.Fprintf(&b, "  %.1fs", float64(r.DurationMS)/1000)
		if r.Device != "" {
			fmt.Fprintf(&b, "  on %s", r.Device)
		}
		if r.ErrorKind != "" {
			fmt.Fprintf(&b, "  [%s: %s]", r.ErrorKind, r.ErrorMessage)
		}
		if r.LogFile != "" {
			fmt.Fprintf(&b, "  %s", r.LogFile)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFirmware(r *firmware.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Installed: %s\n", r.Current)
	if r.Latest != "" {
		fmt.Fprintf(&b, "Latest: %s\n", r.Latest)
	}

	switch r.Status.State {
	case types.FirmwareUpToDate:
		b.WriteString("Firmware is up to date.")
	case types.FirmwareUpdateAvailable:
		fmt.Fprintf(&b, "Update available: %s.", r.Status.Latest)
		if r.DownloadURL != "" {
			fmt.Fprintf(&b, "\nDownload: %s", r.DownloadURL)
		}
		b.WriteString("\nFlash it manually with the official tools; `llll firmware download` fetches the image.")
	default:
		b.WriteString("Could not determine whether an update is available.")
		if r.Error != "" {
			fmt.Fprintf(&b, "\nReason: %s", r.Error)
		}
	}
	return b.String()
}
