package clientcmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/socratat-b/orderbean/internal/event"
	"github.com/socratat-b/orderbean/pkg/sse"
)

// NewTailCommand builds the `tail` command, which follows a streaming
// endpoint and prints every frame. It reconnects automatically until
// interrupted.
func NewTailCommand(apiURL func() string, logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow order events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, _ := cmd.Flags().GetString("order")
			owner, _ := cmd.Flags().GetBool("owner")
			token, _ := cmd.Flags().GetString("token")

			endpoint := apiURL() + "/v1/orders/events"
			if owner {
				endpoint = apiURL() + "/v1/owner/events"
			}
			if orderID != "" {
				endpoint = apiURL() + "/v1/orders/" + orderID + "/events"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			out := cmd.OutOrStdout()
			stream, err := sse.Open(ctx, endpoint, sse.Options{
				Header: header,
				OnEvent: func(env event.Envelope) {
					if env.Type == event.TypeConnected {
						fmt.Fprintf(out, "connected role=%s\n", env.Role)
						return
					}
					fmt.Fprintf(out, "%s order=%s user=%s status=%s ts=%d\n",
						env.Type, env.OrderID, env.UserID, env.Status, env.Timestamp)
				},
				OnStateChange: func(connected bool, err error) {
					if !connected {
						fmt.Fprintf(out, "disconnected: %v\n", err)
					}
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer stream.Close()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("order", "", "Follow a single order")
	cmd.Flags().Bool("owner", false, "Follow the owner dashboard stream")
	cmd.Flags().String("token", "", "Bearer token")
	return cmd
}
