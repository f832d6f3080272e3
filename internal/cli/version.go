package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pendergraft/reportchain/internal/validation"
	"github.com/pendergraft/reportchain/pkg/client"
)

func createVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show CLI and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), cmd.OutOrStdout(), newClient(), version)
		},
	}
}

func runVersion(ctx context.Context, out io.Writer, c *client.Client, version string) error {
	fmt.Fprintf(out, "CLI:    %s\n", version)

	serverVersion, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintf(out, "Server: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Server: %s\n", serverVersion)

	ok, err := validation.CompatibleVersions(version, serverVersion)
	switch {
	case err != nil:
		fmt.Fprintf(out, "⚠️  Cannot compare versions: %v\n", err)
	case !ok:
		fmt.Fprintln(out, "⚠️  CLI and server versions are not compatible")
	}
	return nil
}
