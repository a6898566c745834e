package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BoltzmannEntropy/Mayari/internal/voices"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "Work with voice catalogs",
	}

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a voice catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := voices.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog valid (%d voices, default %s)\n", len(c.Voices), c.Default().Code)
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", "voices.yaml", "Path to voice catalog")

	var listFile string
	list := &cobra.Command{
		Use:   "list",
		Short: "List voices from a catalog, or the builtin voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := voices.Load(listFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tGENDER\tGRADE\tDEFAULT")
			for _, v := range c.Voices {
				def := ""
				if v.Default {
					def = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Code, v.Name, v.Gender, v.Grade, def)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&listFile, "file", "", "Path to voice catalog")

	cmd.AddCommand(validate, list)
	return cmd
}
