package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/curatedhealth/missionengine/internal/domain"
)

func newResolveCmd() *cobra.Command {
	var server string
	var req domain.ResolveCheckpointRequest
	var resolution string

	cmd := &cobra.Command{
		Use:   "resolve <checkpoint-id>",
		Short: "Approve, reject or modify a pending checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Resolution = domain.Resolution(resolution)
			if !req.Resolution.Valid() {
				return fmt.Errorf("unknown resolution %q", resolution)
			}

			var sig domain.ResumeSignal
			path := "/internal/checkpoints/" + url.PathEscape(args[0]) + "/resolve"
			if err := newAPIClient(server).post(cmd.Context(), path, req, &sig); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: mission %s is %s\n",
				sig.CheckpointID, sig.Resolution, sig.MissionID, sig.NextStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8081", "internal API address")
	cmd.Flags().StringVar(&resolution, "resolution", string(domain.ResolutionApproved), "approved, rejected or modified")
	cmd.Flags().StringVar(&req.Content, "content", "", "replacement content for a modified resolution")
	cmd.Flags().StringVar(&req.Note, "note", "", "resolver note")
	cmd.Flags().StringVar(&req.ResolvedBy, "by", "", "resolver identity")
	return cmd
}
