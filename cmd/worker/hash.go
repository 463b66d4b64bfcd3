package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamware/powlease/internal/pow"
	"github.com/dreamware/powlease/internal/protocol"
)

func newHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <number>",
		Short: "Print the combined text and digest for one candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := protocol.ParseNumber(args[0])
			if err != nil {
				return err
			}
			seed, _ := cmd.Flags().GetString("seed")
			zeros, _ := cmd.Flags().GetInt("zeros")

			combined, digest := pow.SHA256Oracle{}.Hash(seed, n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", combined, digest)
			if zeros > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "qualifies with %d zeros: %t\n", zeros, pow.HasZeroPrefix(digest, zeros))
			}
			return nil
		},
	}
	cmd.Flags().String("seed", getenv("POW_SEED", "Crefax"), "text the number is appended to")
	cmd.Flags().Int("zeros", 0, "also report whether the digest has this many leading zeros")
	return cmd
}
