package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/collection"
	"github.com/jonwraymond/sitesync/config"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/transport"
)

// clientFlags are the flags of the client commands.
type clientFlags struct {
	server  string
	project string
	page    int
	limit   int
	filters []string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "API base URL, overrides client.base_url")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "scope to one project id")
}

func (f *clientFlags) filterMap() (map[string]string, error) {
	out := make(map[string]string, len(f.filters)+1)
	for _, kv := range f.filters {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.Newf(errors.CodeInvalidInput, "filter %q is not key=value", kv)
		}
		out[k] = v
	}
	if f.project != "" {
		out["projectId"] = f.project
	}
	return out, nil
}

func newTransport(cfg config.ClientConfig, server string) (*transport.HTTP, error) {
	if server == "" {
		server = cfg.BaseURL
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set(auth.DefaultAPIKeyHeader, cfg.APIKey)
	}
	return transport.New(transport.Config{
		BaseURL:     server,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		Header:      header,
	})
}

// clientRun is one client operation on a collection of any record type.
type clientRun func(ctx context.Context, name string, tr collection.Transport, w io.Writer) error

// dispatch runs the typed variant of op for the named collection.
func dispatch(name string, project, workItem, dailyLog clientRun) (clientRun, error) {
	switch name {
	case model.Projects:
		return project, nil
	case model.WorkItems:
		return workItem, nil
	case model.DailyLogs:
		return dailyLog, nil
	default:
		return nil, errors.WithContext(
			errors.Newf(errors.CodeInvalidInput, "unknown collection %q, want one of %s", name, strings.Join(model.Collections(), ", ")),
			"collection", name)
	}
}

func clientCommand(opts *rootOptions, f *clientFlags, cmd *cobra.Command, name string, run func(string) (clientRun, error)) error {
	ctx := cmd.Context()
	m, err := opts.load(ctx)
	if err != nil {
		return err
	}
	tr, err := newTransport(m.Get().Client, f.server)
	if err != nil {
		return err
	}
	op, err := run(name)
	if err != nil {
		return err
	}
	return op(ctx, name, tr, cmd.OutOrStdout())
}

func newListCmd(opts *rootOptions) *cobra.Command {
	f := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "Fetch one page of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := f.filterMap()
			if err != nil {
				return err
			}
			return clientCommand(opts, f, cmd, args[0], func(name string) (clientRun, error) {
				return dispatch(name,
					listPage[*model.Project](f.page, f.limit, filters),
					listPage[*model.WorkItem](f.page, f.limit, filters),
					listPage[*model.DailyLog](f.page, f.limit, filters))
			})
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.limit, "limit", collection.DefaultLimit, "page size")
	cmd.Flags().StringArrayVarP(&f.filters, "filter", "f", nil, "equality filter key=value, repeatable")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	f := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "stats <collection>",
		Short: "Print record counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(opts, f, cmd, args[0], func(name string) (clientRun, error) {
				return dispatch(name,
					stats[*model.Project](f.project),
					stats[*model.WorkItem](f.project),
					stats[*model.DailyLog](f.project))
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	f := &clientFlags{}
	var data string
	cmd := &cobra.Command{
		Use:   "create <collection>",
		Short: "Create a record from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(opts, f, cmd, args[0], func(name string) (clientRun, error) {
				return dispatch(name,
					create(data, func() *model.Project { return &model.Project{} }),
					create(data, func() *model.WorkItem { return &model.WorkItem{} }),
					create(data, func() *model.DailyLog { return &model.DailyLog{} }))
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&data, "data", "d", "", "record JSON")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func listPage[T collection.Record](page, limit int, filters map[string]string) clientRun {
	return func(ctx context.Context, name string, tr collection.Transport, w io.Writer) error {
		c, err := collection.New[T](name, tr, collection.WithLimit(limit))
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.Fetch(ctx, page, filters); err != nil {
			return err
		}
		st := c.State()
		return printJSON(w, map[string]any{"items": st.Items, "pagination": st.Pagination})
	}
}

func stats[T collection.Record](project string) clientRun {
	return func(ctx context.Context, name string, tr collection.Transport, w io.Writer) error {
		c, err := collection.New[T](name, tr)
		if err != nil {
			return err
		}
		defer c.Close()

		if project != "" {
			if _, err := c.ApplyFilters(ctx, map[string]string{"projectId": project}); err != nil {
				return err
			}
		}
		st, err := c.FetchStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, st)
	}
}

func create[T collection.Record](data string, fresh func() T) clientRun {
	return func(ctx context.Context, name string, tr collection.Transport, w io.Writer) error {
		rec := fresh()
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return errors.Wrap(err, errors.CodeInvalidInput, "parse --data")
		}

		c, err := collection.New[T](name, tr)
		if err != nil {
			return err
		}
		defer c.Close()

		created, err := c.Create(ctx, rec)
		if err != nil {
			return err
		}
		return printJSON(w, created)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
