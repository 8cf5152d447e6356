package command

import (
	"strconv"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func NewStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "show open transactions, invalid ids and the allocation watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResponse(cmd, "GET", "/transactions/state")
		},
	}
}

func NewInvalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <id>",
		Short: "make the writes of a transaction permanently invisible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return errors.Errorf("invalid transaction id %q", args[0])
			}
			return printResponse(cmd, "POST", "/transactions/"+args[0]+"/invalidate")
		},
	}
}

func NewPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "invalidate timed out transactions, collect their rows and prune the transaction state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResponse(cmd, "POST", "/transactions/prune")
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResponse(cmd, "GET", "/status")
		},
	}
}
