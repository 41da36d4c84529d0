// Command demo-server runs an in-memory stand-in for the Hotlympics API,
// seeded with pseudo-random users, so hotlympics-admin and hotlympicsctl can
// be tried without a real backend.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"hotlympics/fakeapi"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	addr := envOr("DEMO_ADDR", ":8081")
	users := envInt("DEMO_USERS", 40)
	seed := uint64(envInt("DEMO_SEED", 1))

	api := fakeapi.New(fakeapi.WithImageBaseURL(envOr("DEMO_PUBLIC_URL", "http://localhost"+addr)))
	api.Seed(users, seed)

	slog.Info("starting demo API", "addr", addr, "users", users, "seed", seed)

	if err := http.ListenAndServe(addr, logRequests(api.Handler())); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
