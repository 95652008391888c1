package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/courseloop/hookrelay/internal/event"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events",
	Long:  `Publish domain events into the dispatcher for fan-out to subscribed endpoints.`,
}

// publishCmd represents the event publish command
var publishCmd = &cobra.Command{
	Use:   "publish [event-type] [payload-json]",
	Short: "Publish an event",
	Long: `Publish an event with a JSON payload.

Example:
  hookctl event publish course.published '{"id":"c_789","category":"engineering"}' --tenant t_123`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, payloadJSON := args[0], args[1]
		tenantID, _ := cmd.Flags().GetString("tenant")
		userID, _ := cmd.Flags().GetString("user")

		payload, err := parsePayload(payloadJSON)
		if err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		env := event.New(eventType, payload)
		env.TenantID = tenantID
		env.UserID = userID

		res, err := svc.PublishEvent(ctx, env)
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputJSON {
			printOutput(res)
		} else {
			fmt.Printf("Published event: %s\n", res.EventID)
			fmt.Printf("  Fanout count: %d\n", res.Fanout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("tenant", "", "tenant id (empty reaches only system-wide endpoints)")
	publishCmd.Flags().String("user", "", "acting user id recorded on the event")
}
