package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"github.com/vadimbarashkov/url-shortener-client/internal/records"
)

func (c *cli) listCmd() *cobra.Command {
	var onlyActive, onlyExpired bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your short URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			if err := c.client.Records.Load(cmd.Context()); err != nil {
				return describe(err)
			}

			active, expired := c.client.Records.Partition(time.Now())
			out := cmd.OutOrStdout()

			if !onlyExpired {
				fmt.Fprintf(out, "Active (%d)\n", len(active))
				c.printURLs(out, active)
			}
			if !onlyActive {
				if !onlyExpired {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Expired (%d)\n", len(expired))
				c.printURLs(out, expired)
			}

			if !onlyActive && !onlyExpired {
				fmt.Fprintf(out, "\nTotal clicks: %d\n", c.client.Records.TotalClicks())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&onlyActive, "active", false, "show only active URLs")
	cmd.Flags().BoolVar(&onlyExpired, "expired", false, "show only expired URLs")
	cmd.MarkFlagsMutuallyExclusive("active", "expired")

	return cmd
}

func (c *cli) printURLs(w io.Writer, urls []entity.URL) {
	if len(urls) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tSHORT URL\tCLICKS\tEXPIRES\tORIGINAL")
	for _, u := range urls {
		expires := "never"
		if u.ExpirationDate != nil {
			expires = u.ExpirationDate.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%d\t%s\t%s\n", u.ID, c.shortURL(u.ShortCode), u.Clicks, expires, u.OriginalURL)
	}
	tw.Flush()
}

func (c *cli) shortURL(code string) string {
	return strings.TrimRight(c.client.Config.API.BaseURL, "/") + "/" + code
}

func (c *cli) createCmd() *cobra.Command {
	var (
		originalURL string
		customCode  string
		expires     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Shorten a URL",
		Example: `  shortener-client create --url https://example.com
  shortener-client create --url https://example.com --code promo --expires 72h
  shortener-client create --url https://example.com --expires 2027-01-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}

			input := records.CreateInput{
				OriginalURL: originalURL,
				CustomCode:  customCode,
			}
			if expires != "" {
				exp, err := parseExpiration(expires, time.Now())
				if err != nil {
					return err
				}
				input.ExpirationDate = &exp
			}

			url, err := c.client.Records.Create(cmd.Context(), input)
			if err != nil {
				return describe(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s -> %s (id %d)\n", c.shortURL(url.ShortCode), url.OriginalURL, url.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&originalURL, "url", "", "URL to shorten")
	cmd.Flags().StringVar(&customCode, "code", "", "custom short code")
	cmd.Flags().StringVar(&expires, "expires", "", "expiration as a duration from now or an RFC 3339 timestamp")
	cmd.MarkFlagRequired("url")

	return cmd
}

// parseExpiration accepts either a Go duration relative to now or an RFC 3339 timestamp.
func parseExpiration(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiration %q: use a duration like 24h or an RFC 3339 timestamp", s)
	}
	return t, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a short URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.requireSession(); err != nil {
				return err
			}

			if err := c.client.Records.Remove(cmd.Context(), id); err != nil {
				return describe(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", id)
			return nil
		},
	}
}

func (c *cli) analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics <id>",
		Short: "Show click analytics of a short URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.requireSession(); err != nil {
				return err
			}

			a, err := c.client.Gateway.Analytics(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", c.shortURL(a.ShortCode))
			fmt.Fprintf(out, "Total clicks: %d\n", a.TotalClicks)
			if a.LastClickedAt != nil {
				fmt.Fprintf(out, "Last click:   %s\n", a.LastClickedAt.Local().Format(time.DateTime))
			}

			if len(a.ClicksByDay) > 0 {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tCLICKS")
				for _, d := range a.ClicksByDay {
					fmt.Fprintf(tw, "%s\t%d\n", d.Date, d.Clicks)
				}
				tw.Flush()
			}
			return nil
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "check [code]",
		Short: "Check whether a custom short code is available",
		Long: `Check whether a custom short code is available.

With --interactive every line read from stdin is treated as the current value of the
code being typed; only the result for the latest settled value is printed.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return c.checkInteractive(cmd)
			}

			code := args[0]
			out := cmd.OutOrStdout()

			if !records.ValidShortCode(code) {
				fmt.Fprintf(out, "%s: invalid, use 3-20 letters, digits, '-' or '_'\n", code)
				return nil
			}
			if records.IsReserved(code) {
				fmt.Fprintf(out, "%s: reserved\n", code)
				return nil
			}

			available, err := c.client.Gateway.CheckAvailability(cmd.Context(), code)
			if err != nil {
				return describe(err)
			}
			printAvailability(out, records.AvailabilityResult{Code: code, Available: available})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read codes from stdin as they are typed")

	return cmd
}

func (c *cli) checkInteractive(cmd *cobra.Command) error {
	var mu sync.Mutex
	out := cmd.OutOrStdout()
	settled := make(chan struct{}, 1)

	checker := c.client.Availability(func(r records.AvailabilityResult) {
		mu.Lock()
		printAvailability(out, r)
		mu.Unlock()

		select {
		case settled <- struct{}{}:
		default:
		}
	})
	defer checker.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	var last string
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if last != "" {
					c.waitSettled(cmd, settled)
				}
				return nil
			}
			select {
			case <-settled:
			default:
			}
			last = line
			checker.Input(line)
		}
	}
}

// waitSettled waits for the result of the last input after stdin was closed.
func (c *cli) waitSettled(cmd *cobra.Command, settled <-chan struct{}) {
	timeout := c.client.Config.Availability.Debounce + c.client.Config.API.Timeout
	select {
	case <-settled:
	case <-time.After(timeout):
	case <-cmd.Context().Done():
	}
}

func printAvailability(w io.Writer, r records.AvailabilityResult) {
	switch {
	case r.Err != nil:
		fmt.Fprintf(w, "%s: check failed: %v\n", r.Code, r.Err)
	case r.Reason != "":
		fmt.Fprintf(w, "%s: %s\n", r.Code, r.Reason)
	case r.Available:
		fmt.Fprintf(w, "%s: available\n", r.Code)
	default:
		fmt.Fprintf(w, "%s: already in use\n", r.Code)
	}
}
