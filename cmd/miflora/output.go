package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/protocol"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	if !slices.Contains(validFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}
	return nil
}

// configureColor honours --no-color on top of fatih/color's own terminal
// detection.
func configureColor(cmd *cobra.Command) {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}
}

var (
	labelColor = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
)

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// typeLabel colors recognised product types so unknown ones stand out.
func typeLabel(t protocol.DeviceType) string {
	if t == protocol.TypeUnknown {
		return warnColor.Sprint(t)
	}
	return okColor.Sprint(t)
}

func writeDevicesTable(w io.Writer, infos []flora.Info, now time.Time) error {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No sensors discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tTYPE\tNAME\tRSSI\tLAST SEEN")

	for _, info := range infos {
		name := info.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		lastSeen := now.Sub(info.LastDiscovery).Truncate(time.Second)
		if lastSeen < 0 {
			lastSeen = 0
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\t%s ago\n",
			info.Address, typeLabel(info.Type), name, info.RSSI, lastSeen)
	}
	return tw.Flush()
}

func writeQueryResult(w io.Writer, res *flora.QueryResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label string, format string, args ...any) {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint(label), fmt.Sprintf(format, args...))
	}

	row("Address", "%s", res.Address)
	row("Type", "%s", typeLabel(res.Type))
	if res.RSSI != 0 {
		row("RSSI", "%d dBm", res.RSSI)
	}
	if fw := res.FirmwareInfo; fw != nil {
		row("Battery", "%d %%", fw.Battery)
		row("Firmware", "%s", fw.Firmware)
	}
	if v := res.SensorValues; v != nil {
		row("Temperature", "%.1f °C", v.Temperature)
		row("Light", "%d lux", v.Lux)
		row("Moisture", "%d %%", v.Moisture)
		row("Fertility", "%d µS/cm", v.Fertility)
	}
	if res.Serial != "" {
		row("Serial", "%s", res.Serial)
	}
	return tw.Flush()
}
