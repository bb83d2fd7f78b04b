package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Log in to Polaris VPN",
	Long: `Log in to Polaris VPN.

The password is prompted for interactively. When the account has two-factor
authentication enabled, the one-time code is prompted for as well. The
session is stored in the system keyring, so logging in again is only needed
after an explicit logout.

Example:
  polarisctl login vpnuser`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		username := args[0]

		if err := login(username); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func login(username string) error {
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	client := controlClient()
	ctx := context.Background()

	twoFactorRequired, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if twoFactorRequired {
		code, err := promptLine("Two-factor code: ")
		if err != nil {
			return err
		}
		if err := client.SubmitSecondFactor(ctx, code); err != nil {
			return err
		}
	}

	fmt.Printf("Logged in as %s\n", username)
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
