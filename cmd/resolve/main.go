// Command resolve prints the effective permissions of a set of grants
// without a server: grants come from a JSON file, the entity registry
// from YAML and staged edits from an optional JSON file.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"accessmatrix.org/internal/entityschema"
	"accessmatrix.org/internal/permission"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		grantsPath  string
		schemaPath  string
		pendingPath string
		at          string
		asJSON      bool
	)
	flagSet := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	flagSet.StringVar(&grantsPath, "grants", "", "JSON file with an array of grants (required)")
	flagSet.StringVar(&schemaPath, "schema", "", "YAML entity registry (default: built-in registry)")
	flagSet.StringVar(&pendingPath, "pending", "", "JSON file with an array of pending edits")
	flagSet.StringVar(&at, "at", "", "RFC3339 time used to drop expired grants (default: now)")
	flagSet.BoolVar(&asJSON, "json", false, "print resolutions as JSON")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if grantsPath == "" {
		return errors.New("--grants is required")
	}

	registry := entityschema.Default()
	if schemaPath != "" {
		var err error
		if registry, err = entityschema.Load(schemaPath); err != nil {
			return err
		}
	}

	var grants []permission.Grant
	if err := readJSON(grantsPath, &grants); err != nil {
		return err
	}
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return err
		}
	}

	var edits permission.PendingEdits
	if pendingPath != "" {
		var inputs []permission.EditInput
		if err := readJSON(pendingPath, &inputs); err != nil {
			return err
		}
		var err error
		if edits, err = permission.BuildPendingEdits(inputs); err != nil {
			return err
		}
		if err := edits.Validate(); err != nil {
			return err
		}
		known := make(map[string]bool, len(grants))
		for _, g := range grants {
			known[g.ID] = true
		}
		for _, id := range edits.GrantIDs() {
			if !known[id] {
				return fmt.Errorf("pending edit references unknown grant %q", id)
			}
		}
	}

	now := time.Now()
	if at != "" {
		var err error
		if now, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	schema := registry.Schema()
	var resolutions []permission.Resolution
	for _, g := range permission.SortForDisplay(permission.FilterActive(grants, now)) {
		res, err := permission.Resolve(g, schema.Children(g.EntityCode), edits)
		if err != nil {
			return err
		}
		resolutions = append(resolutions, res)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resolutions)
	}
	return printTable(out, resolutions)
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printTable(out io.Writer, resolutions []permission.Resolution) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GRANT\tENTITY\tINSTANCE\tLEVEL\tMODE\tSOURCE")
	for _, res := range resolutions {
		level := res.Level.String()
		if res.IsDeny {
			level = "DENY"
		}
		if res.Pending {
			level += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			res.GrantID, res.EntityCode, res.EntityInstanceID, level, res.Mode, "grant")
		for _, ch := range res.Children {
			kind := "lookup"
			if ch.Owned {
				kind = "owned"
			}
			fmt.Fprintf(tw, "\t  %s (%s)\t\t%s\t\t%s\n", ch.Code, kind, ch.Level, ch.Source)
		}
	}
	return tw.Flush()
}
