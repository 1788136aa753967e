package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danmuck/tidectl/internal/engine"
	"github.com/danmuck/tidectl/internal/state"
)

func newAppCommand(cli *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Inspect and drive managed applications",
	}
	cmd.AddCommand(
		newAppListCommand(cli),
		newAppStatusCommand(cli),
		newAppSyncCommand(cli),
		newAppHistoryCommand(cli),
		newAppRemoveCommand(cli),
	)
	return cmd
}

func newAppListCommand(cli *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applications and their sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Apps []engine.Status `json:"apps"`
			}
			if err := cli.do(http.MethodGet, "/apps", nil, &out); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSYNC\tHEALTH\tREVISION")
			for _, app := range out.Apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					app.Application, app.SyncStatus, app.Health.Status, short(string(app.Revision)))
			}
			return w.Flush()
		},
	}
}

func newAppStatusCommand(cli *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status APP",
		Short: "Show one application's full status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status engine.Status
			if err := cli.do(http.MethodGet, "/apps/"+args[0], nil, &status); err != nil {
				return err
			}
			fmt.Printf("application: %s\n", status.Application)
			fmt.Printf("sync:        %s\n", status.SyncStatus)
			fmt.Printf("health:      %s\n", status.Health.Status)
			fmt.Printf("revision:    %s\n", short(string(status.Revision)))
			if op := status.LastOperation; op != nil {
				fmt.Printf("last op:     %s (%s)\n", op.Phase, op.Message)
			}
			if status.Rollout != nil {
				fmt.Printf("rollout:     %s step=%d weight=%d%%\n",
					status.Rollout.State, status.Rollout.Step, status.Rollout.Weight)
			}
			for _, orphan := range status.Orphans {
				fmt.Printf("orphan:      %s\n", orphan)
			}
			for _, conflict := range status.Conflicts {
				fmt.Printf("conflict:    %s\n", conflict.ID)
			}
			return nil
		},
	}
}

func newAppSyncCommand(cli *client) *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "sync APP",
		Short: "Queue a reconciliation pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"revision": revision}
			if err := cli.do(http.MethodPost, "/apps/"+args[0]+"/sync", body, nil); err != nil {
				return err
			}
			fmt.Printf("sync queued for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "pin the sync to one revision")
	return cmd
}

func newAppHistoryCommand(cli *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history APP",
		Short: "Show recent sync operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Operations []state.SyncOperation `json:"operations"`
			}
			path := fmt.Sprintf("/apps/%s/operations?limit=%d", args[0], limit)
			if err := cli.do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPHASE\tREVISION\tCHANGES\tMESSAGE")
			for _, op := range out.Operations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Phase, short(string(op.Revision)), len(op.Changes), op.Message)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum operations to show")
	return cmd
}

func newAppRemoveCommand(cli *client) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "remove APP",
		Short: "Deregister an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/apps/" + args[0]
			if cascade {
				path += "?cascade=true"
			}
			if err := cli.do(http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete the application's resources")
	return cmd
}

func short(revision string) string {
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}
