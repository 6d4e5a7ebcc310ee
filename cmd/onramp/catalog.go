package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crewbase/onramp/internal/catalog"
)

var (
	catalogPathOverride string
	catalogJSONOutput   bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the task catalog",
	Long:  "Validate and display the onboarding task catalog without running the server.",
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogPathOverride, "path", "",
		"Catalog file path (overrides config and ONRAMP_CATALOG_PATH; empty uses the embedded default)")
	catalogCmd.PersistentFlags().BoolVar(&catalogJSONOutput, "json", false,
		"Output in JSON format")

	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a catalog file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(catalogPathOverride)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "catalog OK: %d sections, %d tasks\n",
			len(cat.Sections()), cat.TotalTasks())
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the catalog in gate order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(catalogPathOverride)
		if err != nil {
			return err
		}

		if catalogJSONOutput {
			out := make(map[string]any, len(cat.Sections()))
			for _, sec := range cat.Sections() {
				out[sec] = cat.ListTasks(sec)
			}
			return printJSON(cmd.OutOrStdout(), out)
		}

		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "SECTION\tTASK\tTITLE\tTIMED")
		for _, sec := range cat.Sections() {
			for _, task := range cat.ListTasks(sec) {
				timed := ""
				if task.Timed {
					timed = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sec, task.TaskID, task.Title, timed)
			}
		}
		return w.Flush()
	},
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
