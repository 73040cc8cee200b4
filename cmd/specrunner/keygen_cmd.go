package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hansl/specification/pkg/identity"
)

func newKeygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen <file>",
		Short: "Write a new Ed25519 identity as a PKCS#8 PEM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return runtimeErr(fmt.Errorf("%s exists (use --force to overwrite)", path))
			}
			id, err := identity.NewEd25519()
			if err != nil {
				return runtimeErr(err)
			}
			pem, err := id.MarshalPEM()
			if err != nil {
				return runtimeErr(err)
			}
			if err := os.WriteFile(path, pem, 0o600); err != nil {
				return runtimeErr(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id.Address().String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
