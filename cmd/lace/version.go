package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laceai/lace/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			s, err := version.Get().JSON()
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		}
		fmt.Println(version.Get().String())
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "print version information as JSON")
}
