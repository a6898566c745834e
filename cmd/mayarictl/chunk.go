package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/BoltzmannEntropy/Mayari/internal/textchunk"
)

type chunkRow struct {
	Index    int    `json:"index"`
	Chars    int    `json:"chars"`
	Overflow bool   `json:"overflow,omitempty"`
	Text     string `json:"text"`
}

func newChunkCmd() *cobra.Command {
	var (
		maxChars int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Show how text would be split for synthesis",
		Long:  "Reads text from a file, or stdin when no file is given, and prints the chunk plan.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			text, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			plan, err := textchunk.Plan(string(text), maxChars)
			if err != nil {
				return err
			}
			rows := make([]chunkRow, len(plan))
			for i, c := range plan {
				rows[i] = chunkRow{Index: i, Chars: utf8.RuneCountInString(c.Text), Overflow: c.Overflow, Text: c.Text}
			}
			return printChunks(cmd.OutOrStdout(), rows, asJSON)
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 1500, "Maximum characters per chunk")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func printChunks(w io.Writer, rows []chunkRow, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCHARS\tTEXT")
	for _, r := range rows {
		marker := ""
		if r.Overflow {
			marker = " (overflow)"
		}
		fmt.Fprintf(tw, "%d\t%d%s\t%s\n", r.Index, r.Chars, marker, r.Text)
	}
	return tw.Flush()
}
