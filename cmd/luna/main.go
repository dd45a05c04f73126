package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lunalabs/luna/cmd/luna/internal"
	"github.com/lunalabs/luna/cmd/luna/internal/gateway"
	"github.com/lunalabs/luna/cmd/luna/internal/initdb"
	"github.com/lunalabs/luna/cmd/luna/internal/version"
)

func NewLunaCommand() *cobra.Command {
	short := fmt.Sprintf("%s luna - Astrology Chat Backend v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "luna",
		Short:   short,
		Example: "luna gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		initdb.NewInitDBCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewLunaCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
