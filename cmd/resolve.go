package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"woeplanet/reconciler/internal/supersede"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <woeid>",
	Short: "Follow supersessions from a WOEID to its current record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("not a WOEID: %s", args[0])
		}

		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		log := NewLogger(cfg)

		s, err := OpenStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		resolver := supersede.New(s, log)
		current, err := resolver.Current(cmd.Context(), id)
		if err != nil {
			return err
		}

		rec, err := s.Fetch(cmd.Context(), current)
		if err != nil {
			return err
		}

		if resolveJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		if current != id {
			fmt.Printf("%d superseded by %d\n", id, current)
		}
		fmt.Printf("%d %s (%s)\n", rec.ID, rec.Name, rec.PlacetypeName)
		return nil
	},
}

var supersedeCmd = &cobra.Command{
	Use:   "supersede <old-woeid> <new-woeid>",
	Short: "Record that one WOEID has been replaced by another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("not a WOEID: %s", args[0])
		}
		newID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("not a WOEID: %s", args[1])
		}

		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		log := NewLogger(cfg)

		s, err := OpenStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		resolver := supersede.New(s, log)
		created, err := resolver.Apply(cmd.Context(), supersede.Supersession{
			OldID:    oldID,
			NewID:    newID,
			Provider: "manual",
		})
		if err != nil {
			return err
		}

		fmt.Printf("%d superseded by %d", oldID, newID)
		if created > 0 {
			fmt.Printf(" (placeholders created: %d)", created)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the current record as JSON")
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(supersedeCmd)
}
