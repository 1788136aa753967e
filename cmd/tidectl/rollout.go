package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/danmuck/tidectl/internal/rollout"
)

func newRolloutCommand(cli *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Drive an application's canary rollout",
	}
	for _, action := range []struct {
		name  string
		short string
	}{
		{rollout.CommandPause, "Freeze the rollout at its current weight"},
		{rollout.CommandResume, "Resume a paused rollout"},
		{rollout.CommandPromote, "Skip remaining steps and go to full traffic"},
		{rollout.CommandAbort, "Drop canary traffic to zero and roll back"},
	} {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action.name + " APP",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := "/apps/" + args[0] + "/rollout/" + action.name
				var reply struct {
					Rollout rollout.Status `json:"rollout"`
				}
				if err := cli.do(http.MethodPost, path, nil, &reply); err != nil {
					return err
				}
				fmt.Printf("%s applied to %s: %s at %d%%\n",
					action.name, args[0], reply.Rollout.State, reply.Rollout.Weight)
				return nil
			},
		})
	}
	return cmd
}
