package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

// Format selects the rendering mode for list output (--format).
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// renderAgents writes the agent listing as a table or as JSON.
func renderAgents(w io.Writer, format Format, agents []Agent) error {
	if format == FormatJSON {
		return json.NewEncoder(w).Encode(agents)
	}

	table := tablewriter.NewTable(w)
	table.Header("Agent ID", "Current System")
	for _, a := range agents {
		current := red("(unknown)")
		if a.CurrentSystem != nil {
			current = green(*a.CurrentSystem)
		}
		table.Append([]string{a.ID, current})
	}
	return table.Render()
}

func renderFlakes(w io.Writer, format Format, flakes []Flake) error {
	if format == FormatJSON {
		return json.NewEncoder(w).Encode(flakes)
	}

	table := tablewriter.NewTable(w)
	table.Header("Flake ID", "URL", "Revision", "Last Modified")
	for _, f := range flakes {
		table.Append([]string{
			fmt.Sprintf("%d", f.FlakeID),
			f.FlakeURL,
			f.LatestRevision.Revision,
			f.LatestRevision.LastModified,
		})
	}
	return table.Render()
}

func renderConfigurations(w io.Writer, format Format, configs []Configuration) error {
	if format == FormatJSON {
		return json.NewEncoder(w).Encode(configs)
	}

	table := tablewriter.NewTable(w)
	table.Header("ID", "Name", "Flake ID", "Flake URL")
	for _, c := range configs {
		table.Append([]string{fmt.Sprintf("%d", c.ID), c.Name, fmt.Sprintf("%d", c.FlakeID), c.FlakeURL})
	}
	return table.Render()
}
