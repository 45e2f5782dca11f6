package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vadimbarashkov/url-shortener-client/internal/app"
	"github.com/vadimbarashkov/url-shortener-client/internal/config"
	"github.com/vadimbarashkov/url-shortener-client/internal/gateway"
	"github.com/vadimbarashkov/url-shortener-client/internal/logger"
	"github.com/vadimbarashkov/url-shortener-client/internal/records"
)

// cli carries the client built before each command runs.
type cli struct {
	configPath string
	client     *app.Client
}

// execute runs the command line in args and always releases the client afterwards.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	c := &cli{}
	defer func() {
		err = errors.Join(err, c.teardown())
	}()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shortener-client",
		Short: "Manage your short URLs from the terminal",
		Long: `shortener-client signs in to the URL shortener backend, manages your short URLs
and follows their click counters live.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.listCmd(),
		c.createCmd(),
		c.deleteCmd(),
		c.analyticsCmd(),
		c.checkCmd(),
		c.watchCmd(),
	)

	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	log := logger.New("shortener-client", cfg.Env, cfg.Log.Level, cmd.ErrOrStderr())

	client, err := app.New(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return err
	}

	c.client = client
	return nil
}

func (c *cli) teardown() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

var errNotSignedIn = errors.New("not signed in, run `shortener-client login` first")

func (c *cli) requireSession() error {
	if !c.client.Store.IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}

// describe turns client errors into the message shown to the user.
func describe(err error) error {
	var verr *records.ValidationError
	if errors.As(err, &verr) {
		return verr
	}

	var apiErr *gateway.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == 0 {
			return errors.New(apiErr.Message)
		}
		return fmt.Errorf("%s (%d)", apiErr.Message, apiErr.Status)
	}

	return err
}
