package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"go.yaml.in/yaml/v3"

	"github.com/etnz/debmeta/deb"
	"github.com/etnz/debmeta/fetch"
)

var shortShowHelp = "Show the metadata of a package"
var longShowHelp = `
The show command reads the control file of a Debian package with two range
requests, one for the archive header and one for the control archive, and
prints the package fields.

The package is either an http(s) URL or a local path.
`

var showDescs = map[string]string{
	"raw":         "Print the control file instead of the mapped fields",
	"member":      "Print the control member header instead of the package fields",
	"format":      "Output format (table, yaml or json)",
	"timeout":     "Timeout of each range request",
	"retries":     "Additional attempts after a transient network failure",
	"compression": "Accepted control archive compression (gz, xz, zst), repeatable",
}

type cmdShow struct {
	Raw          bool          `long:"raw"`
	Member       bool          `long:"member"`
	Format       string        `long:"format" choice:"table" choice:"yaml" choice:"json"`
	Timeout      time.Duration `long:"timeout" default:"30s"`
	Retries      int           `long:"retries" default:"2"`
	Compressions []string      `long:"compression"`

	Positional struct {
		Source string `positional-arg-name:"<url|path>" required:"yes"`
	} `positional-args:"yes"`
}

func init() {
	addCommand("show", shortShowHelp, longShowHelp, func() flags.Commander { return &cmdShow{} }, showDescs)
}

func (cmd *cmdShow) Execute(args []string) error {
	return cmd.run(context.Background(), args)
}

func (cmd *cmdShow) run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if cmd.Raw && cmd.Member {
		return fmt.Errorf("--raw and --member cannot be used together")
	}

	var compressions []deb.Compression
	for _, s := range cmd.Compressions {
		c, err := deb.ParseCompression(s)
		if err != nil {
			return err
		}
		compressions = append(compressions, c)
	}
	x := deb.NewExtractor(fetch.Auto{
		HTTP: fetch.NewHTTP(&fetch.Options{Retries: cmd.Retries, UserAgent: userAgent}),
	}, &deb.Options{
		FetchTimeout: cmd.Timeout,
		Compressions: compressions,
	})
	src := cmd.Positional.Source

	if cmd.Member {
		w, err := x.FetchHeaderWindow(ctx, src)
		if err != nil {
			return err
		}
		m, _, err := x.Inspect(w)
		if err != nil {
			return err
		}
		return writeFields(Stdout, cmd.format(), m.Fields())
	}

	control, err := x.Control(ctx, src)
	if err != nil {
		return err
	}
	if cmd.Raw {
		_, err := io.WriteString(Stdout, control)
		return err
	}
	fields := deb.MapFields(control, deb.DefaultFieldTable)
	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[string(k)] = v
	}
	return writeFields(Stdout, cmd.format(), values)
}

func (cmd *cmdShow) format() string {
	if cmd.Format != "" {
		return cmd.Format
	}
	if isTerminal(Stdout) {
		return "table"
	}
	return "yaml"
}

func writeFields(w io.Writer, format string, values map[string]string) error {
	switch format {
	case "table":
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := [][]string{}
		for _, k := range keys {
			rows = append(rows, []string{k, values[k]})
		}

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Field", "Value"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)
		table.AppendBulk(rows)
		table.Render()
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(values); err != nil {
			return fmt.Errorf("cannot encode fields: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(values); err != nil {
			return fmt.Errorf("cannot encode fields: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	return nil
}
