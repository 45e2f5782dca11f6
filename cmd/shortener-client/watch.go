package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
	"github.com/vadimbarashkov/url-shortener-client/internal/credential"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

var errSessionEnded = errors.New("session ended, sign in again")

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow your URLs and their click counters live",
		Long: `Load your URLs, connect to the backend event stream and print the collection
again whenever a click, a new URL or a deletion arrives. Stops on Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			return c.watch(cmd)
		},
	}
}

func (c *cli) watch(cmd *cobra.Command) error {
	ctx := cmd.Context()
	client := c.client

	var mu sync.Mutex
	out := cmd.OutOrStdout()
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	if err := client.Records.Load(ctx); err != nil {
		return describe(err)
	}

	stop := make(chan error, 1)
	fail := func(err error) {
		select {
		case stop <- err:
		default:
		}
	}

	detach := client.Records.Attach(client.Channel)
	defer detach()

	cancelChange := client.Records.OnChange(func(urls []entity.URL) {
		mu.Lock()
		defer mu.Unlock()
		printSummary(out, urls, time.Now())
	})
	defer cancelChange()

	unsubs := []func(){
		client.Channel.Subscribe(channel.EventConnect, func(channel.Event) {
			printf("connected\n")
			client.Channel.RequestUserStats()
		}),
		client.Channel.Subscribe(channel.EventDisconnect, func(ev channel.Event) {
			if s, ok := ev.(channel.ConnectionState); ok {
				printf("disconnected: %s\n", s.Reason)
			}
		}),
		client.Channel.Subscribe(channel.EventUserStats, func(ev channel.Event) {
			if s, ok := ev.(channel.UserStats); ok {
				printf("stats: %d urls, %d clicks\n", s.TotalURLs, s.TotalClicks)
			}
		}),
		client.Channel.Subscribe(channel.EventMaxReconnectAttempts, func(ev channel.Event) {
			if f, ok := ev.(channel.ReconnectFailed); ok {
				fail(fmt.Errorf("gave up reconnecting after %d attempts", f.Attempts))
			}
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	cancelSession := client.Store.Subscribe(func(change credential.Change) {
		if change.Kind == credential.ChangeLogout || change.Kind == credential.ChangeExpired {
			fail(errSessionEnded)
		}
	})
	defer cancelSession()

	mu.Lock()
	printSummary(out, client.Records.Snapshot(), time.Now())
	mu.Unlock()

	client.Channel.Connect()

	select {
	case <-ctx.Done():
		return nil
	case err := <-stop:
		return err
	}
}

func printSummary(w io.Writer, urls []entity.URL, now time.Time) {
	var total int64
	var active int
	for _, u := range urls {
		total += u.Clicks
		if !u.IsExpired(now) {
			active++
		}
	}

	fmt.Fprintf(w, "[%s] %d urls (%d active), %d clicks\n", now.Format(time.TimeOnly), len(urls), active, total)
	for _, u := range urls {
		fmt.Fprintf(w, "  %-20s %6d  %s\n", u.ShortCode, u.Clicks, u.OriginalURL)
	}
}
