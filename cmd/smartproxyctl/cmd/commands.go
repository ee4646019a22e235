package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiGet("/api/status")
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newRunwaysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runways",
		Short: "List all runways",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiGet("/api/runways")
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newTargetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "targets [target]",
		Short: "Show the target accessibility matrix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/targets"
			if len(args) == 1 {
				path = fmt.Sprintf("/api/targets?target=%s", args[0])
			}
			doc, err := apiGet(path)
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show performance statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiGet("/api/stats")
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <latency|first_accessible|round_robin>",
		Short: "Switch the routing mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiAction(map[string]string{"action": "set_mode", "mode": args[0]})
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <target> [runway_id]",
		Short: "Test target accessibility over one or all runways",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{"action": "test", "target": args[0]}
			if len(args) == 2 {
				payload["runway_id"] = args[1]
			}
			doc, err := apiAction(payload)
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}

func newReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Refresh interfaces and rediscover runways",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apiAction(map[string]string{"action": "reload"})
			if err != nil {
				return err
			}
			return printDoc(doc)
		},
	}
}
