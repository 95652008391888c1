package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/courseloop/hookrelay/internal/endpoint"
	"github.com/courseloop/hookrelay/internal/registry"
)

// endpointCmd represents the endpoint command
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Register, verify, and manage webhook endpoints that receive event deliveries.`,
}

// registerEndpointCmd represents the endpoint register command
var registerEndpointCmd = &cobra.Command{
	Use:   "register [name] [url]",
	Short: "Register a new webhook endpoint",
	Long: `Register a new webhook endpoint subscribed to the given event types.

Example:
  hookctl endpoint register billing-hooks https://example.com/webhook --events payment.succeeded,invoice.created`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]
		events, _ := cmd.Flags().GetString("events")
		tenantID, _ := cmd.Flags().GetString("tenant")
		secret, _ := cmd.Flags().GetString("secret")
		verifyNow, _ := cmd.Flags().GetBool("verify")

		if events == "" {
			return fmt.Errorf("--events is required")
		}

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		in := registry.RegisterInput{
			Name:       name,
			URL:        url,
			TenantID:   tenantID,
			EventTypes: strings.Split(events, ","),
		}
		if secret != "" {
			in.Config = &endpoint.DeliveryConfig{Secret: secret}
		}

		ep, err := svc.RegisterEndpoint(ctx, in, verifyNow)
		if err != nil {
			if ep == nil {
				return fmt.Errorf("failed to register endpoint: %w", err)
			}
			fmt.Printf("Warning: %v\n", err)
		}

		if outputJSON {
			printOutput(ep)
		} else {
			fmt.Printf("Registered endpoint: %s\n", ep.ID)
			fmt.Printf("  URL: %s\n", ep.URL)
			fmt.Printf("  Events: %s\n", strings.Join(ep.EventTypes, ", "))
			fmt.Printf("  Verified: %v\n", ep.Verified)
			fmt.Printf("  Verification token: %s\n", ep.VerificationToken)
		}
		return nil
	},
}

// updateEndpointCmd represents the endpoint update command
var updateEndpointCmd = &cobra.Command{
	Use:   "update [endpoint-id]",
	Short: "Update an endpoint's name, URL, or event subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		var in registry.UpdateInput
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			in.Name = &name
		}
		if cmd.Flags().Changed("url") {
			url, _ := cmd.Flags().GetString("url")
			in.URL = &url
		}
		if cmd.Flags().Changed("events") {
			events, _ := cmd.Flags().GetString("events")
			in.EventTypes = strings.Split(events, ",")
		}

		ep, err := svc.UpdateEndpoint(ctx, args[0], in)
		if err != nil {
			return fmt.Errorf("failed to update endpoint: %w", err)
		}

		if outputJSON {
			printOutput(ep)
		} else {
			fmt.Printf("Updated endpoint: %s\n", ep.ID)
			fmt.Printf("  URL: %s\n", ep.URL)
			fmt.Printf("  Events: %s\n", strings.Join(ep.EventTypes, ", "))
		}
		return nil
	},
}

// listEndpointsCmd represents the endpoint list command
var listEndpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		eps, err := svc.ListEndpoints(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if outputJSON {
			printOutput(eps)
			return nil
		}
		if len(eps) == 0 {
			fmt.Println("No endpoints found")
			return nil
		}
		for _, ep := range eps {
			fmt.Printf("%s  %-10s  score=%.0f  %s\n", ep.ID, ep.Status, ep.Health.HealthScore, ep.URL)
		}
		return nil
	},
}

// verifyEndpointCmd represents the endpoint verify command
var verifyEndpointCmd = &cobra.Command{
	Use:   "verify [endpoint-id]",
	Short: "Run the ownership handshake for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.VerifyEndpoint(ctx, args[0]); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Printf("Endpoint %s verified\n", args[0])
		return nil
	},
}

// enableEndpointCmd represents the endpoint enable command
var enableEndpointCmd = &cobra.Command{
	Use:   "enable [endpoint-id]",
	Short: "Re-enable a disabled or suspended endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.EnableEndpoint(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to enable endpoint: %w", err)
		}
		fmt.Printf("Endpoint %s enabled\n", args[0])
		return nil
	},
}

// disableEndpointCmd represents the endpoint disable command
var disableEndpointCmd = &cobra.Command{
	Use:   "disable [endpoint-id]",
	Short: "Take an endpoint out of dispatch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.DisableEndpoint(ctx, args[0], reason); err != nil {
			return fmt.Errorf("failed to disable endpoint: %w", err)
		}
		fmt.Printf("Endpoint %s disabled\n", args[0])
		return nil
	},
}

// deleteEndpointCmd represents the endpoint delete command
var deleteEndpointCmd = &cobra.Command{
	Use:   "delete [endpoint-id]",
	Short: "Delete an endpoint, cancelling its pending deliveries",
	Long: `Delete an endpoint. Every non-terminal delivery targeting it is
cancelled first. Endpoints with delivery history are disabled instead of
removed so delivery rows stay attributable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		cancelled, hardDeleted, err := svc.DeleteEndpoint(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to delete endpoint: %w", err)
		}
		if hardDeleted {
			fmt.Printf("Endpoint %s deleted (%d deliveries cancelled)\n", args[0], cancelled)
		} else {
			fmt.Printf("Endpoint %s disabled, delivery history retained (%d deliveries cancelled)\n", args[0], cancelled)
		}
		return nil
	},
}

// testEndpointCmd represents the endpoint test command
var testEndpointCmd = &cobra.Command{
	Use:   "test [endpoint-id]",
	Short: "Send a synthetic test event to an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, ctx, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		d, err := svc.SendTestEvent(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to send test event: %w", err)
		}
		if outputJSON {
			printOutput(d)
		} else {
			fmt.Printf("Test delivery enqueued: %s\n", d.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(registerEndpointCmd)
	endpointCmd.AddCommand(updateEndpointCmd)
	endpointCmd.AddCommand(listEndpointsCmd)
	endpointCmd.AddCommand(verifyEndpointCmd)
	endpointCmd.AddCommand(enableEndpointCmd)
	endpointCmd.AddCommand(disableEndpointCmd)
	endpointCmd.AddCommand(deleteEndpointCmd)
	endpointCmd.AddCommand(testEndpointCmd)

	registerEndpointCmd.Flags().String("events", "", "comma-separated event types, or * for all")
	registerEndpointCmd.Flags().String("tenant", "", "tenant id (empty registers a system-wide endpoint)")
	registerEndpointCmd.Flags().String("secret", "", "signing secret (if not provided, one will be generated)")
	registerEndpointCmd.Flags().Bool("verify", false, "run the ownership handshake immediately")

	updateEndpointCmd.Flags().String("name", "", "new endpoint name")
	updateEndpointCmd.Flags().String("url", "", "new target URL")
	updateEndpointCmd.Flags().String("events", "", "comma-separated replacement event types")

	listEndpointsCmd.Flags().String("tenant", "", "only list endpoints of this tenant")

	disableEndpointCmd.Flags().String("reason", "operator request", "reason recorded in the logs")
}
