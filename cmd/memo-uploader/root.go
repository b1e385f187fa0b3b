package main

import (
	"fmt"
	"os"

	"github.com/open-xiv/memo-uploader/pkg/memo"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "memo-uploader",
		Short:        "Track duty progress and upload fight records",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newSchemaCmd(), newCheckCmd())
	return root
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of duty documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := duty.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Report structural problems in a duty document",
		Long: "Decode a duty document and list the parts of its timeline that can never progress. " +
			"Problems are reported but only a document that fails to decode is an error, unless --strict is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return eris.Wrap(err, "failed to read duty document")
			}
			cfg, err := duty.Decode(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := memo.Lint(cfg)
			for _, p := range problems {
				fmt.Fprintln(out, p.String())
			}
			fmt.Fprintf(out, "%s (zone %d): %d phases, %d mechanics, %d problems\n",
				cfg.Name, cfg.ZoneID, len(cfg.Timeline.Phases), len(cfg.Mechanics), len(problems))

			if strict, _ := cmd.Flags().GetBool("strict"); strict && len(problems) > 0 {
				return eris.Errorf("%d problems found", len(problems))
			}
			return nil
		},
	}
	cmd.Flags().Bool("strict", false, "fail when any problem is found")
	return cmd
}
