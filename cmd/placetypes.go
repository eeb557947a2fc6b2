package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"woeplanet/reconciler/internal/placetypes"
)

var placetypesJSON bool

var placetypesCmd = &cobra.Command{
	Use:   "placetypes",
	Short: "List the place type taxonomy",
	RunE: func(cmd *cobra.Command, args []string) error {
		all := placetypes.All()
		if placetypesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		for _, pt := range all {
			fmt.Printf("%3d  %-20s scale %d\n", pt.ID, pt.Shortname, pt.Scale)
		}
		return nil
	},
}

func init() {
	placetypesCmd.Flags().BoolVar(&placetypesJSON, "json", false, "Print the taxonomy as JSON")
	rootCmd.AddCommand(placetypesCmd)
}
