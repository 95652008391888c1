package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/courseloop/hookrelay/internal/config"
	"github.com/courseloop/hookrelay/internal/signature"
	"github.com/courseloop/hookrelay/internal/verify"
)

// reqCount counts webhook requests so FAIL_FIRST_N can simulate a receiver
// that recovers after a few failures.
var reqCount atomic.Int64

func main() {
	cfg := config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		handleHook(w, r, &cfg)
	})

	srv := &http.Server{
		Addr:         cfg.Receiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Receiver.ReadTimeout,
		WriteTimeout: cfg.Receiver.WriteTimeout,
		IdleTimeout:  cfg.Receiver.IdleTimeout,
	}

	log.Printf("hook-receiver listening on %s", cfg.Receiver.Port)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request, cfg *config.Config) {
	// Verification handshakes come in as a GET with a challenge token.
	if token := r.URL.Query().Get(verify.ChallengeParam); token != "" {
		answerChallenge(w, token, cfg.Receiver.JSONChallenge)
		return
	}

	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if cfg.Receiver.Secret != "" {
		sig := r.Header.Get(signature.DefaultHeader)
		if !signature.Verify(sig, cfg.Receiver.Secret, b) {
			log.Printf("hook-receiver rejected signature %q delivery=%s", sig, r.Header.Get("X-Webhook-Delivery"))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	if cfg.Receiver.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(cfg.Receiver.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(cfg.Receiver.FailFirstN) {
		log.Printf("FAILING (%d/%d) event=%s delivery=%s body=%s",
			n, cfg.Receiver.FailFirstN, r.Header.Get("X-Webhook-Event"), r.Header.Get("X-Webhook-Delivery"), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("hook-receiver OK event=%s delivery=%s body=%q",
		r.Header.Get("X-Webhook-Event"), r.Header.Get("X-Webhook-Delivery"), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// answerChallenge echoes the verification token back, either raw or wrapped
// in a JSON challenge object. Both forms are accepted by the verifier.
func answerChallenge(w http.ResponseWriter, token string, asJSON bool) {
	if asJSON {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": token})
		return
	}
	_, _ = w.Write([]byte(token))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
