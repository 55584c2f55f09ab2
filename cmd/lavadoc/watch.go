package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/client"
	"github.com/xxxsen/lavadoc/internal/model"
	"github.com/xxxsen/lavadoc/internal/syncpoll"
)

type watchOptions struct {
	server      string
	nickname    string
	minInterval time.Duration
	maxInterval time.Duration
}

// newWatchCmd follows the live document from a terminal. Lines typed on stdin
// are sent as chat messages and count as activity.
func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "follow the document of a running lavadoc server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.server == "" {
				return fmt.Errorf("--server is required")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "base url of the lavadoc server")
	cmd.Flags().StringVar(&opts.nickname, "nickname", "", "nickname used for chat lines read from stdin")
	cmd.Flags().DurationVar(&opts.minInterval, "min-interval", syncpoll.DefaultMinInterval, "polling interval while active")
	cmd.Flags().DurationVar(&opts.maxInterval, "max-interval", syncpoll.DefaultMaxInterval, "polling interval when idle")
	return cmd
}

func runWatch(ctx context.Context, opts *watchOptions, in io.Reader, out io.Writer) error {
	c := client.New(opts.server)
	poller := syncpoll.New(c.GetDocument, func(doc *model.Document) {
		fmt.Fprintf(out, "--- v%d by %s: %s\n%s\n", doc.Version, doc.LastEditor, doc.ChangeSummary, doc.Content)
	}, syncpoll.Options{
		MinInterval: opts.minInterval,
		MaxInterval: opts.maxInterval,
		OnError: func(err error) {
			fmt.Fprintf(out, "!!! fetch failed: %v\n", err)
		},
	})

	if opts.nickname != "" {
		go readChat(ctx, c, poller, opts.nickname, in, out)
	}
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func readChat(ctx context.Context, c *client.Client, poller *syncpoll.Poller, nickname string, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		poller.RecordActivity()
		res, err := c.SendMessage(ctx, nickname, text)
		if err != nil {
			logutil.GetLogger(ctx).Warn("send message failed", zap.Error(err))
			fmt.Fprintf(out, "!!! send failed: %v\n", err)
			continue
		}
		if res.DocumentUpdated {
			poller.ForceRefresh()
		}
	}
}
