package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/halayachts/admin/auth"
	"github.com/halayachts/admin/client"
	"github.com/halayachts/admin/store"
	"github.com/halayachts/admin/view"
)

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	url      string
	email    string
	timezone string
	timeout  time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "url", envOr("HALA_ADMIN_URL", "http://localhost:8080"), "admin server base URL")
	cmd.PersistentFlags().StringVar(&f.email, "email", os.Getenv("HALA_ADMIN_EMAIL"), "admin email")
	cmd.PersistentFlags().StringVar(&f.timezone, "timezone", envOr("DISPLAY_TIMEZONE", "UTC"), "time zone for displayed dates")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 15*time.Second, "request timeout")
}

// connect signs in and returns the client with a function that signs out.
// The password comes from HALA_ADMIN_PASSWORD or a terminal prompt.
func (f *clientFlags) connect(cmd *cobra.Command) (*client.Client, func(), error) {
	if strings.TrimSpace(f.email) == "" {
		return nil, nil, errors.New("--email or HALA_ADMIN_EMAIL is required")
	}

	password := os.Getenv("HALA_ADMIN_PASSWORD")
	if password == "" {
		var err error
		password, err = readPassword(cmd.ErrOrStderr(), "Password: ")
		if err != nil {
			return nil, nil, err
		}
	}

	c, err := client.New(f.url, f.timeout)
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.Login(cmd.Context(), f.email, password); err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}

	logout := func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		_ = c.Logout(ctx)
	}
	return c, logout, nil
}

func newSubscribersCmd() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "List and delete newsletter subscribers",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(flags.timezone)
			if err != nil {
				return err
			}
			c, logout, err := flags.connect(cmd)
			if err != nil {
				return err
			}
			defer logout()

			return listSubscribers(cmd.Context(), cmd.OutOrStdout(), c, view.NewSubscriberList(loc))
		},
	})

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete every subscriber with the given email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			loc, err := time.LoadLocation(flags.timezone)
			if err != nil {
				return err
			}

			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Are you sure you want to delete %s?", email))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			c, logout, err := flags.connect(cmd)
			if err != nil {
				return err
			}
			defer logout()

			return deleteAndRefresh(cmd.Context(), cmd.OutOrStdout(), c, email, view.NewSubscriberList(loc))
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func newLocationsCmd() *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Inspect location documents",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every location as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, logout, err := flags.connect(cmd)
			if err != nil {
				return err
			}
			defer logout()

			locs, err := c.Locations(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch locations: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(locs)
		},
	})
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var password string
			if term.IsTerminal(int(os.Stdin.Fd())) {
				first, err := readPassword(cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				second, err := readPassword(cmd.ErrOrStderr(), "Repeat password: ")
				if err != nil {
					return err
				}
				if first != second {
					return errors.New("passwords do not match")
				}
				password = first
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

type subscriberSource interface {
	Subscribers(ctx context.Context) ([]store.Subscriber, error)
}

func listSubscribers(ctx context.Context, out io.Writer, src subscriberSource, list *view.SubscriberList) error {
	fmt.Fprintln(out, view.MessageLoading)
	snapshot := list.Load(ctx, src.Subscribers)
	renderSubscribers(out, snapshot)
	if snapshot.State == view.StateError {
		return errors.New(snapshot.Error)
	}
	return nil
}

func renderSubscribers(out io.Writer, snapshot view.Snapshot) {
	switch snapshot.State {
	case view.StateError:
		fmt.Fprintln(out, snapshot.Error)
		fmt.Fprintln(out, snapshot.EmptyDetail())
		return
	case view.StateEmpty:
		fmt.Fprintln(out, snapshot.CountText())
		fmt.Fprintln(out, snapshot.EmptyTitle())
		fmt.Fprintln(out, snapshot.EmptyDetail())
		return
	}

	fmt.Fprintln(out, snapshot.CountText())
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tSUBSCRIBED\tSTATUS")
	for _, row := range snapshot.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Email, row.SubscribedAt, row.Status)
	}
	_ = tw.Flush()
}

type subscriberDeleter interface {
	DeleteSubscriber(ctx context.Context, email string) (int64, error)
}

func deleteSubscriber(ctx context.Context, out io.Writer, c subscriberDeleter, email string) error {
	_, err := c.DeleteSubscriber(ctx, email)
	switch {
	case err == nil:
		fmt.Fprintln(out, view.MessageDeleted)
		return nil
	case errors.Is(err, client.ErrNotFound):
		fmt.Fprintln(out, view.MessageNotFound)
		return nil
	case errors.Is(err, client.ErrUnavailable), errors.Is(err, client.ErrForbidden):
		fmt.Fprintln(out, view.MessageDeleteFailed)
		return err
	default:
		fmt.Fprintln(out, view.MessageDeleteError)
		return err
	}
}

type subscriberAPI interface {
	subscriberSource
	subscriberDeleter
}

// deleteAndRefresh always reloads the list, even after a failed delete.
// A delete error takes precedence over a list error.
func deleteAndRefresh(ctx context.Context, out io.Writer, api subscriberAPI, email string, list *view.SubscriberList) error {
	delErr := deleteSubscriber(ctx, out, api, email)
	listErr := listSubscribers(ctx, out, api, list)
	if delErr != nil {
		return delErr
	}
	return listErr
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func readPassword(prompt io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for a password; set HALA_ADMIN_PASSWORD")
	}
	fmt.Fprint(prompt, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
