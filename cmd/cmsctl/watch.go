package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/content"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/mutation"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// watchEvent is one line of watch output.
type watchEvent struct {
	Key       string         `json:"key"`
	FetchedAt string         `json:"fetchedAt,omitempty"`
	Stale     bool           `json:"stale"`
	Error     string         `json:"error,omitempty"`
	Page      *resource.Page `json:"page,omitempty"`
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		lf       listFlags
		interval time.Duration
		duration time.Duration
		port     int
		warm     bool
	)
	cmd := &cobra.Command{
		Use:   "watch <kind>",
		Short: "Follow a list as it changes",
		Long: "Prints the list whenever its cached value changes. Every interval the API is " +
			"probed: stale lists are refetched while it answers, and every watched list is " +
			"refetched when it answers again after an outage.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			s, err := a.open(ctx, port != 0)
			if err != nil {
				return err
			}
			svc, err := a.service(s, args[0])
			if err != nil {
				return err
			}
			if port < 0 {
				port = a.cfg.HTTP.Port
			}

			if port > 0 {
				srv, err := startHTTPServer(port, s, a.metrics, a.logger)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if warm {
				res := s.Warmup(ctx)
				a.logger.Info("cache warmed",
					"providers", len(res.Results),
					"errors", res.Errors,
					"duration_ms", res.TotalTime.Milliseconds(),
				)
			}

			enc := json.NewEncoder(a.stdout)
			sub := svc.Watch(ctx, lf.params(cmd), func(u query.Update) {
				ev := watchEvent{Key: u.Key.String(), Stale: u.Stale, Page: u.Page()}
				if !u.FetchedAt.IsZero() {
					ev.FetchedAt = resource.FormatTime(u.FetchedAt)
				}
				if u.Err != nil {
					ev.Error = mutation.Message(u.Err)
				}
				if err := enc.Encode(ev); err != nil {
					a.logger.LogWarn(ctx, "failed to write update", "error", err)
				}
			})
			defer sub.Stop()

			follow(ctx, s, interval, a.logger)
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "probe interval")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&port, "port", -1, "health and metrics port (-1 uses http.port, 0 disables)")
	cmd.Flags().BoolVar(&warm, "warm", true, "prefetch the first page of every kind on start")
	return cmd
}

// follow probes the API every interval until ctx ends. A probe that
// succeeds after a failed one is a reconnect, any other success a focus.
func follow(ctx context.Context, s *content.Session, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		up := s.Reachable(ctx)
		switch {
		case up && !online:
			logger.Info("API reachable again, refetching watched lists")
			s.Executor().OnReconnect(ctx)
		case up:
			s.Executor().OnFocus(ctx)
		case online && ctx.Err() == nil:
			logger.LogWarn(ctx, "API unreachable", "breaker", s.BreakerState())
		}
		online = up
	}
}

// startHTTPServer serves health, readiness and metrics in the background.
func startHTTPServer(port int, s *content.Session, metrics *observability.Metrics, logger *observability.Logger) (*http.Server, error) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness follows the API circuit breaker
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		state := s.BreakerState()
		w.Header().Set("Content-Type", "application/json")
		if state == "open" {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not ready","breaker":%q}`, state)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","breaker":%q}`, state)
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(context.Background(), "HTTP server error", err)
		}
	}()
	return server, nil
}
