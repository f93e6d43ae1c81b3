package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/curatedhealth/missionengine/internal/domain"
)

func newResumeCmd() *cobra.Command {
	var server string
	var all bool

	cmd := &cobra.Command{
		Use:   "resume [mission-id]",
		Short: "Resume a persisted mission, or every running mission with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no mission id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("requires a mission id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(server)
			out := cmd.OutOrStdout()

			if all {
				var resp struct {
					Resumed int `json:"resumed"`
				}
				if err := client.post(cmd.Context(), "/internal/missions/resume", nil, &resp); err != nil {
					return err
				}
				fmt.Fprintf(out, "resumed %d mission(s)\n", resp.Resumed)
				return nil
			}

			var sum domain.MissionSummary
			path := "/internal/missions/" + url.PathEscape(args[0]) + "/resume"
			if err := client.post(cmd.Context(), path, nil, &sum); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s step %d/%d\n", sum.MissionID, sum.Status, sum.CurrentStepIndex, sum.TotalSteps)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8081", "internal API address")
	cmd.Flags().BoolVar(&all, "all", false, "resume every running mission")
	return cmd
}
