package clientcmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type publishBody struct {
	Kind    string `json:"kind"`
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

// NewPublishCommand builds the `publish` command, which posts one order
// event to a running server.
func NewPublishCommand(apiURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an order event",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			orderID, _ := cmd.Flags().GetString("order")
			userID, _ := cmd.Flags().GetString("user")
			status, _ := cmd.Flags().GetString("status")
			token, _ := cmd.Flags().GetString("token")
			if orderID == "" {
				orderID = uuid.NewString()
			}

			b, _ := json.Marshal(publishBody{Kind: kind, OrderID: orderID, UserID: userID, Status: status})
			req, err := http.NewRequest(http.MethodPost, apiURL()+"/v1/events/publish", bytes.NewReader(b))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status, "order:", orderID)
			return nil
		},
	}
	cmd.Flags().String("kind", "created", "Event kind: created|updated|status-changed")
	cmd.Flags().String("order", "", "Order id (random UUID when omitted)")
	cmd.Flags().String("user", "", "User id attached to the event")
	cmd.Flags().String("status", "PENDING", "Order status: PENDING|PREPARING|READY|COMPLETED|CANCELLED")
	cmd.Flags().String("token", "", "Bearer token")
	return cmd
}
