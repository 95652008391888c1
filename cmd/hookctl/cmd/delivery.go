package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect and retry deliveries",
	Long:  `Inspect delivery attempts, trigger manual retries, and read delivery stats.`,
}

// getDeliveryCmd represents the delivery get command
var getDeliveryCmd = &cobra.Command{
	Use:   "get [delivery-id]",
	Short: "Show one delivery with its request and response captures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		d, err := svc.GetDelivery(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get delivery: %w", err)
		}

		if outputJSON {
			printOutput(d)
			return nil
		}
		fmt.Printf("Delivery %s\n", d.ID)
		fmt.Printf("  Event: %s (%s)\n", d.EventID, d.EventType)
		fmt.Printf("  Endpoint: %s\n", d.EndpointID)
		fmt.Printf("  Status: %s (attempt %d)\n", d.Status, d.Attempt)
		if d.LastError != "" {
			fmt.Printf("  Last error: %s\n", d.LastError)
		}
		if d.Response != nil {
			fmt.Printf("  Last response: %d in %s\n", d.Response.StatusCode, d.Response.Latency)
		}
		return nil
	},
}

// listDeliveriesCmd represents the delivery list command
var listDeliveriesCmd = &cobra.Command{
	Use:   "list [endpoint-id]",
	Short: "List recent deliveries for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		ds, err := svc.ListDeliveries(ctx, args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(ds)
			return nil
		}
		if len(ds) == 0 {
			fmt.Println("No deliveries found")
			return nil
		}
		for _, d := range ds {
			fmt.Printf("%s  %-10s  attempt=%d  %s\n", d.ID, d.Status, d.Attempt, d.EventType)
		}
		return nil
	},
}

// retryDeliveryCmd represents the delivery retry command
var retryDeliveryCmd = &cobra.Command{
	Use:   "retry [delivery-id]",
	Short: "Re-enqueue a failed delivery immediately",
	Long: `Re-enqueue a failed delivery immediately, outside its normal retry
budget. Only deliveries in failed state qualify.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.RetryDelivery(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to retry delivery: %w", err)
		}
		fmt.Printf("Delivery %s re-enqueued\n", args[0])
		return nil
	},
}

// statsCmd represents the delivery stats command
var statsCmd = &cobra.Command{
	Use:   "stats [endpoint-id]",
	Short: "Show delivery stats, system-wide or for one endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		endpointID := ""
		if len(args) == 1 {
			endpointID = args[0]
		}
		stats, err := svc.EndpointStats(ctx, endpointID)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		if outputJSON {
			printOutput(stats)
			return nil
		}
		scope := "system-wide"
		if endpointID != "" {
			scope = "endpoint " + endpointID
		}
		fmt.Printf("Delivery stats (%s):\n", scope)
		fmt.Printf("  Total: %d\n", stats.Total)
		fmt.Printf("  Succeeded: %d  Failed: %d  Retrying: %d\n", stats.Succeeded, stats.Failed, stats.Retrying)
		fmt.Printf("  Pending: %d  Processing: %d  Expired: %d  Cancelled: %d\n", stats.Pending, stats.Processing, stats.Expired, stats.Cancelled)
		fmt.Printf("  Success rate: %.1f%%\n", stats.SuccessRate)
		fmt.Printf("  Avg latency: %s\n", stats.AvgLatency)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(getDeliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	deliveryCmd.AddCommand(retryDeliveryCmd)
	deliveryCmd.AddCommand(statsCmd)

	listDeliveriesCmd.Flags().Int("limit", 20, "maximum deliveries to list")
}
