package cmd

import (
	"testing"
	"time"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantKey string
		wantVal any
	}{
		{
			name:    "valid object",
			input:   `{"id":"c1","count":2}`,
			wantErr: false,
			wantKey: "id",
			wantVal: "c1",
		},
		{
			name:    "empty object",
			input:   `{}`,
			wantErr: false,
		},
		{
			name:    "invalid json",
			input:   `{"id":}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parsePayload(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePayload(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantKey != "" && data[tt.wantKey] != tt.wantVal {
				t.Errorf("parsePayload(%q)[%q] = %v, want %v", tt.input, tt.wantKey, data[tt.wantKey], tt.wantVal)
			}
		})
	}
}

func TestRootFlagDefaults(t *testing.T) {
	if got := rootCmd.PersistentFlags().Lookup("timeout").DefValue; got != (30 * time.Second).String() {
		t.Errorf("timeout default = %q, want %q", got, (30 * time.Second).String())
	}
	if got := rootCmd.PersistentFlags().Lookup("json").DefValue; got != "false" {
		t.Errorf("json default = %q, want %q", got, "false")
	}
	for _, name := range []string{"dsn", "nsqd", "topic", "config"} {
		f := rootCmd.PersistentFlags().Lookup(name)
		if f == nil {
			t.Fatalf("missing persistent flag %q", name)
		}
		if f.DefValue != "" {
			t.Errorf("%s default = %q, want empty", name, f.DefValue)
		}
	}
}
