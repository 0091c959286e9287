package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/polzovatel/ballot-runner/internal/profile"
)

func newProfilesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Validate the profile file and list usable and skipped records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			set, err := profile.LoadFile(cfg.ProfilesFile, zerolog.Nop())
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), set)
			if len(set.Profiles) == 0 {
				return fmt.Errorf("no usable profiles in %s", cfg.ProfilesFile)
			}
			return nil
		},
	}
}

func printProfiles(w io.Writer, set profile.Set) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tEMAIL\tNAME\tPOSTCODE\tDOB")
	for i, p := range set.Profiles {
		dob := "placeholder"
		if p.DOB.Day != "" && p.DOB.Month != "" && p.DOB.Year != "" {
			dob = p.DOB.Day + " " + p.DOB.Month + " " + p.DOB.Year
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, p.Email, p.Name, p.Postcode, dob)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d usable, %d skipped\n", len(set.Profiles), len(set.Skipped))
	for _, s := range set.Skipped {
		fmt.Fprintf(w, "  line %d: %s\n", s.Line, s.Reason)
	}
}
