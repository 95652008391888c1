package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/courseloop/hookrelay/internal/config"
	"github.com/courseloop/hookrelay/internal/dispatch"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/registry"
	"github.com/courseloop/hookrelay/internal/service"
	"github.com/courseloop/hookrelay/internal/store/postgres"
	"github.com/courseloop/hookrelay/internal/verify"
)

var (
	cfgFile    string
	dsn        string
	nsqdAddr   string
	topic      string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "Hook Relay CLI - Manage webhook endpoints and deliveries",
	Long: `Hook Relay CLI (hookctl) is a command line tool for operating the
Hook Relay webhook delivery service.

You can use it to register and verify endpoints, publish events, inspect
deliveries, trigger manual retries, and read delivery stats.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "postgres DSN (defaults to the service env config)")
	rootCmd.PersistentFlags().StringVar(&nsqdAddr, "nsqd", "", "nsqd TCP address (defaults to the service env config)")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "", "deliveries topic (defaults to the service env config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("nsqd", rootCmd.PersistentFlags().Lookup("nsqd"))
	viper.BindPFlag("topic", rootCmd.PersistentFlags().Lookup("topic"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hookctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("dsn") {
		if s := viper.GetString("dsn"); s != "" {
			dsn = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("nsqd") {
		if s := viper.GetString("nsqd"); s != "" {
			nsqdAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("topic") {
		if s := viper.GetString("topic"); s != "" {
			topic = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// newService wires a full service stack over postgres and NSQ for one
// command invocation.
func newService() (*service.Service, context.Context, func(), error) {
	cfg := config.FromEnv()
	if dsn == "" {
		dsn = cfg.DSN()
	}
	if nsqdAddr == "" {
		nsqdAddr = cfg.NSQ.NsqdTCPAddr
	}
	if topic == "" {
		topic = cfg.NSQ.DeliveriesTopic
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	q, err := queue.NewNSQ(nsqdAddr, topic)
	if err != nil {
		pool.Close()
		cancel()
		return nil, nil, nil, fmt.Errorf("nsq connect: %w", err)
	}

	endpoints := postgres.NewEndpointStore(pool)
	deliveries := postgres.NewDeliveryStore(pool)
	logger := logging.NewWithWriter("hookctl", io.Discard)

	reg := registry.New(endpoints, logger)
	disp := dispatch.New(endpoints, deliveries, q, dispatch.Options{
		RequireVerified: cfg.Dispatch.RequireVerified,
		DeliveryTTL:     cfg.Dispatch.DeliveryTTL,
	}, logger)
	ver := verify.New(endpoints, nil, logger)

	svc := service.New(reg, disp, ver, endpoints, deliveries, q, logger)
	cleanup := func() {
		_ = q.Close()
		pool.Close()
		cancel()
	}
	return svc, ctx, cleanup, nil
}

// printOutput prints the response in the requested format.
func printOutput(v interface{}) {
	if outputJSON {
		jsonData, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(jsonData))
		return
	}
	fmt.Printf("%+v\n", v)
}

// parsePayload parses a JSON object string into a map.
func parsePayload(jsonStr string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return data, nil
}
