package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for delivery tasks
	WorkerChannel   string // NSQ channel name for workers
}

type Worker struct {
	MaxInFlight   int           // NSQ max in-flight messages
	JitterPercent float64       // Retry backoff jitter percentage (0.0-1.0)
	StaleAfter    time.Duration // Processing age before a delivery is reclaimed
	SweepInterval time.Duration // How often expiry and reclaim sweeps run
	HTTPPort      string        // Worker HTTP metrics port
}

type Dispatch struct {
	RequireVerified bool          // Skip unverified endpoints during fan-out
	DeliveryTTL     time.Duration // Retry window per delivery
}

type Receiver struct {
	Port            string        // Server listen port
	Secret          string        // Secret for signature verification
	FailFirstN      int           // Number of requests to fail initially
	ResponseDelayMS int           // Simulated response delay in milliseconds
	JSONChallenge   bool          // Answer verification with a JSON challenge body
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName  string
	DB       DB
	NSQ      NSQ
	Worker   Worker
	Dispatch Dispatch
	Receiver Receiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "hookrelay"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Worker: Worker{
			MaxInFlight:   getenvInt("NSQ_MAX_IN_FLIGHT", 1000),
			JitterPercent: getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			StaleAfter:    getenvDuration("STALE_AFTER", 5*time.Minute),
			SweepInterval: getenvDuration("SWEEP_INTERVAL", time.Minute),
			HTTPPort:      ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		Dispatch: Dispatch{
			RequireVerified: getenvBool("REQUIRE_VERIFIED", false),
			DeliveryTTL:     getenvDuration("DELIVERY_TTL", 24*time.Hour),
		},
		Receiver: Receiver{
			Port:            getenv("RECEIVER_PORT", ":8081"),
			Secret:          getenv("ENDPOINT_SECRET", ""),
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			JSONChallenge:   getenvBool("JSON_CHALLENGE", false),
			ReadTimeout:     getenvDuration("RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
