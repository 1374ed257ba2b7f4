package main

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"munportal/internal/api"
	"munportal/internal/fetch"
)

var (
	loginUser string
	loginPass string

	listFilter  api.Filter
	listRefresh bool

	screenshotOut string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "log in as an admin and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pass := loginPass
		if pass == "" {
			pass = os.Getenv("MUNPORTAL_ADMIN_PASSWORD")
		}
		if pass == "" {
			pass, err = readLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
		}

		me, err := a.Session.Login(ctx, api.Credentials{Username: loginUser, Password: pass})
		if err != nil {
			return fmt.Errorf("login failed: %s", api.Message(err, "Invalid credentials"))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", me.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "drop the stored admin session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Session.Logout(cmd.Context())
	},
}

var listCmd = &cobra.Command{
	Use:   "list <priority|first-round|past>",
	Short: "list registrations of a kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if listRefresh {
			a.Dashboard.RefreshLists(kind)
		}
		// The process exits after one answer; no revalidation is awaited.
		view := a.Dashboard.ListView(kind, nil)
		defer view.Close()
		st, err := view.Load(cmd.Context(), listFilter)
		if err != nil {
			return err
		}
		if err := checkState(st, a.Config.LoginURLPath()); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tINSTITUTION\tFIRST PREFERENCE")
		for _, r := range st.Data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.FullName, r.Email, r.Institution, r.FirstPreference())
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d registrations\n", len(st.Data))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <kind> <id>",
	Short: "show one registration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		view := a.Dashboard.DetailView(kind, nil)
		defer view.Close()
		st, err := view.Load(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if err := checkState(st, a.Config.LoginURLPath()); err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(st.Data)
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot <kind> <id>",
	Short: "fetch the payment screenshot of a registration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		view := a.Dashboard.ScreenshotView(kind, nil)
		defer view.Close()
		st, err := view.Load(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if err := checkState(st, a.Config.LoginURLPath()); err != nil {
			return err
		}

		if strings.HasPrefix(st.Data, "https://") || screenshotOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), st.Data)
			return nil
		}
		img, err := decodeDataURL(st.Data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(screenshotOut, img, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", screenshotOut, len(img))
		return nil
	},
}

// checkState turns a view state without data into a command error.
func checkState[T any](st fetch.State[T], loginPath string) error {
	switch {
	case st.Unauthorized:
		return fmt.Errorf("session expired, log in again (login page %s)", loginPath)
	case st.Error != "":
		return errors.New(st.Error)
	case !st.HasData:
		return errors.New("nothing to show")
	}
	return nil
}

func decodeDataURL(s string) ([]byte, error) {
	_, payload, ok := strings.Cut(s, ";base64,")
	if !ok {
		return nil, errors.New("screenshot is not a base64 data url")
	}
	return base64.StdEncoding.DecodeString(payload)
}

func readLine(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "admin username")
	loginCmd.Flags().StringVarP(&loginPass, "password", "p", "", "admin password (or MUNPORTAL_ADMIN_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("username")

	listCmd.Flags().StringVar(&listFilter.TargetAudience, "audience", "", "school or college")
	listCmd.Flags().StringVar(&listFilter.Committee, "committee", "", "any preference in this committee")
	listCmd.Flags().StringVar(&listFilter.FirstPreferenceCommittee, "first-preference", "", "first preference committee")
	listCmd.Flags().StringVar(&listFilter.Country, "country", "", "country in any preference")
	listCmd.Flags().StringVar(&listFilter.College, "college", "", "institution")
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "drop cached listings first")

	screenshotCmd.Flags().StringVarP(&screenshotOut, "out", "o", "", "write an uploaded image to this file")

	rootCmd.AddCommand(loginCmd, logoutCmd, listCmd, showCmd, screenshotCmd)
}
