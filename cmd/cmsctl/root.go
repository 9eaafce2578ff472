package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/content"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/config"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

const serviceName = "cmsctl"

// app holds the global flags and the lazily opened session shared by every
// subcommand of one invocation.
type app struct {
	configPath string
	baseURL    string
	token      string
	logLevel   string
	postID     string

	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracing *observability.TracerProvider
	session *content.Session
}

// execute runs one invocation and releases the session whether or not the
// command succeeded.
func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{stdout: out, stderr: errOut}
	defer a.close(context.WithoutCancel(ctx))

	root := newRootCommand(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cmsctl",
		Short:         "Read and write CMS content through the client cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "API base URL, overrides api.base_url")
	cmd.PersistentFlags().StringVar(&a.token, "token", "", "bearer token, overrides api.token")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&a.postID, "post", "", "parent post id for the comments kind")

	cmd.AddCommand(
		newListCmd(a),
		newGetCmd(a),
		newCreateCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newPublishCmd(a),
		newBulkCmd(a),
		newTrendingCmd(a),
		newFeaturedCmd(a),
		newAuthorsCmd(a),
		newWatchCmd(a),
	)
	return cmd
}

// open loads configuration and opens the session once. Metrics are only
// collected when something will serve them.
func (a *app) open(ctx context.Context, withMetrics bool) (*content.Session, error) {
	if a.session != nil {
		return a.session, nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.baseURL != "" {
		cfg.API.BaseURL = a.baseURL
	}
	if a.token != "" {
		cfg.API.Token = a.token
	}
	if a.logLevel != "" {
		cfg.Observability.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	a.cfg = cfg

	logCfg := cfg.Observability.Logging
	a.logger = observability.NewLoggerWithConfig(observability.LogConfig{
		Level:      logCfg.Level,
		Format:     logCfg.Format,
		Output:     a.stderr,
		File:       logCfg.File,
		MaxSizeMB:  logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAgeDays: logCfg.MaxAgeDays,
	})

	a.metrics, err = observability.NewMetrics(serviceName, withMetrics && cfg.Observability.Metrics.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.tracing, err = observability.NewTracerProvider(ctx, serviceName,
		cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	a.session, err = content.Open(ctx, cfg, content.Deps{
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracer:  a.tracing.Tracer(),
	})
	if err != nil {
		return nil, err
	}
	return a.session, nil
}

func (a *app) close(ctx context.Context) {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.LogWarn(ctx, "tracer shutdown failed", "error", err)
		}
		a.tracing = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
		a.logger = nil
	}
}

// service resolves a kind argument to its facade. Comments hang off the
// post given with --post.
func (a *app) service(s *content.Session, name string) (*content.Service, error) {
	if n := strings.ToLower(name); n == "comments" || n == "comment" {
		if a.postID == "" {
			return nil, fmt.Errorf("--post is required for comments")
		}
		return s.Posts.Comments(a.postID), nil
	}
	kind, err := resource.ByName(name)
	if err != nil {
		return nil, err
	}
	return s.Service(kind)
}

func (a *app) resolve(cmd *cobra.Command, kind string) (*content.Service, error) {
	s, err := a.open(cmd.Context(), false)
	if err != nil {
		return nil, err
	}
	return a.service(s, kind)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPage prints a page, or an empty page when the API had none.
func (a *app) printPage(p *resource.Page) error {
	if p == nil {
		p = &resource.Page{Data: []resource.Entity{}}
	}
	return a.print(p)
}
