package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"device-analytics/internal/analytics"
	"device-analytics/internal/config"
	"device-analytics/internal/inspect"
	"device-analytics/internal/logger"
	"device-analytics/internal/metrics"
	"device-analytics/internal/model"
	"device-analytics/internal/sender"
	"device-analytics/internal/store"
	"device-analytics/internal/writer"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var rootDir string

	// config 는 환경 변수에서 읽고, --dir 만 플래그로 덮어쓴다.
	loadConfig := func() config.Config {
		cfg := config.Load()
		if rootDir != "" {
			cfg.RootDir = rootDir
		}
		return cfg
	}

	root := &cobra.Command{
		Use:          "analytics",
		Short:        "On-device analytics event log and batched delivery",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rootDir, "dir", "", "analytics root directory (default $ANALYTICS_DIR)")

	root.AddCommand(
		newServeCmd(loadConfig),
		newLogCmd(loadConfig),
		newSendCmd(loadConfig),
		newPendingCmd(loadConfig),
		newTailCmd(loadConfig),
		newDecodeCmd(),
	)
	return root
}

// ====================================================================
// 단발성 명령용 client
// ====================================================================
//
// serve 가 떠 있으면 루트 디렉토리 flock 을 이미 잡고 있으므로
// writer.ErrLocked 가 난다. 그 경우 로컬 HTTP 로 보내라고 안내한다.
func openClient(cfg config.Config) (*analytics.Client, io.Closer, error) {
	cfg.SendInterval = 0
	closer := logger.Init(cfg)

	c, err := analytics.New(analytics.Options{Config: cfg, Metrics: metrics.New()})
	if errors.Is(err, writer.ErrLocked) {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("%w (is `analytics serve` running? use http://%s instead)", err, cfg.HTTPAddr)
	}
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return c, closer, nil
}

func newLogCmd(loadConfig func() config.Config) *cobra.Command {
	var (
		category string
		attrs    []string
	)
	cmd := &cobra.Command{
		Use:   "log NAME",
		Short: "Record one event into the current log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := model.ParseCategory(category)
			if err != nil {
				return err
			}
			attributes, err := parseAttrs(attrs)
			if err != nil {
				return err
			}

			c, closer, err := openClient(loadConfig())
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := c.Log(args[0], cat, attributes); err != nil {
				_ = c.Close()
				return err
			}
			return c.Close()
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "user_action", "event category")
	cmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "attribute key=value (repeatable)")
	return cmd
}

// parseAttrs 는 key=value 목록을 만든다. 값은 int / float / bool 순으로 시도하고
// 모두 아니면 문자열.
func parseAttrs(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid attribute %q (want key=value)", kv)
		}
		switch {
		case isInt(v):
			n, _ := strconv.ParseInt(v, 10, 64)
			out[k] = n
		case isFloat(v):
			f, _ := strconv.ParseFloat(v, 64)
			out[k] = f
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			out[k] = v
		}
	}
	return out, nil
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func newSendCmd(loadConfig func() config.Config) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Rotate the current log and upload every pending batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := openClient(loadConfig())
			if err != nil {
				return err
			}
			defer closer.Close()
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rep, err := c.Send(ctx)
			printReport(cmd, rep)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop starting new batches after this long")
	return cmd
}

func printReport(cmd *cobra.Command, rep sender.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d sent=%d discarded=%d remaining=%d\n",
		rep.Attempted, rep.Sent, rep.Discarded, rep.Remaining)
}

// pending 은 writer 락 없이 읽기만 하므로 serve 와 동시에 써도 된다.
func newPendingCmd(loadConfig func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List batches waiting to be sent, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			st, err := store.New(filepath.Join(cfg.RootDir, writer.PendingDirName), nil)
			if err != nil {
				return err
			}
			batches, err := st.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var total int64
			for _, b := range batches {
				total += b.Size
				fmt.Fprintf(out, "%s\t%d\t%s\n", b.ID, b.Size, b.CreatedAt().UTC().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%d batches, %d bytes\n", len(batches), total)
			return nil
		},
	}
}

func newTailCmd(loadConfig func() config.Config) *cobra.Command {
	var fromStart, poll bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow events as they are appended to the current log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			path := filepath.Join(cfg.RootDir, writer.CurrentLogName)
			return inspect.Follow(ctx, path, inspect.FollowOptions{FromStart: fromStart, Poll: poll}, func(r model.Record) {
				_ = enc.Encode(r)
			})
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "print existing records first")
	cmd.Flags().BoolVar(&poll, "poll", false, "poll for changes instead of inotify")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode FILE...",
		Short: "Print the records of batch files (.jsonl or uploaded .jsonl.gz)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, p := range args {
				recs, err := inspect.ReadBatchFile(p)
				for _, r := range recs {
					_ = enc.Encode(r)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
			}
			return nil
		},
	}
}
