package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/curatedhealth/missionengine/internal/domain"
)

func newWatchCmd() *cobra.Command {
	var server string
	var afterSeq int64
	var raw bool

	cmd := &cobra.Command{
		Use:   "watch <mission-id>",
		Short: "Stream the events of a mission until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watch(ctx, server, args[0], afterSeq, raw, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "ws://localhost:8080", "external API address")
	cmd.Flags().Int64Var(&afterSeq, "after-seq", 0, "replay events after this sequence number")
	cmd.Flags().BoolVar(&raw, "json", false, "print events as raw JSON lines")
	return cmd
}

// watch prints mission events until the server closes the stream or ctx ends.
func watch(ctx context.Context, server, missionID string, afterSeq int64, raw bool, out io.Writer) error {
	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/missions/" + url.PathEscape(missionID) + "/ws"
	u.RawQuery = url.Values{"after_seq": {strconv.FormatInt(afterSeq, 10)}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		done <- readEvents(conn, raw, out)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return nil
	}
}

func readEvents(conn *websocket.Conn, raw bool, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if raw {
			fmt.Fprintln(out, string(data))
			continue
		}

		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		fmt.Fprintln(out, formatEvent(event))
	}
}

func formatEvent(event domain.Event) string {
	ts := time.UnixMilli(event.Ts).Format("15:04:05.000")
	if len(event.Payload) == 0 {
		return fmt.Sprintf("%s #%d %s", ts, event.Seq, event.Type)
	}
	return fmt.Sprintf("%s #%d %s %s", ts, event.Seq, event.Type, event.Payload)
}
