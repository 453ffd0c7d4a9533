package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chemdata-visualizer/client/internal/models"
)

var (
	authUsername      string
	authPassword      string
	authPasswordStdin bool
	registerEmail     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session token",
	Long: `Exchange a username and password for a token. The token is stored in
the configured session backend and used by every other command until
"chemviz logout".

Examples:
  chemviz login -u alice
  echo "$PASSWORD" | chemviz login -u alice --password-stdin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Login(cmd.Context(), authUsername, password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", authUsername)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Create an account on the backend. When the backend answers with a
token the new account is logged in right away.

Examples:
  chemviz register -u alice --email alice@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		loggedIn, err := a.Register(cmd.Context(), models.Registration{
			Username:  authUsername,
			Email:     registerEmail,
			Password1: password,
			Password2: password,
		})
		if err != nil {
			return err
		}
		if loggedIn {
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", authUsername)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s, run \"chemviz login\" to continue\n", authUsername)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&authUsername, "username", "u", "", "account name")
		c.Flags().StringVar(&authPassword, "password", "", "password (visible in the process list, prefer --password-stdin)")
		c.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "read the password from stdin")
		_ = c.MarkFlagRequired("username")
	}
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "email address")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd)
}

// readPassword returns the --password value, or reads one line from in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if authPassword != "" {
		if authPasswordStdin {
			return "", errors.New("--password and --password-stdin are mutually exclusive")
		}
		return authPassword, nil
	}
	if !authPasswordStdin {
		if f, ok := in.(*os.File); ok {
			if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
				fmt.Fprint(prompt, "Password: ")
			}
		}
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
