package cli

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-backtester/internal/security"
	"strategy-backtester/internal/store"
)

// addAuthCommands adds Kite Connect session commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Kite Connect session used for data and instruments",
	}
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	rootCmd.AddCommand(cmd)
}

func newLoginCmd(app *App) *cobra.Command {
	var (
		token   string
		browser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Zerodha Kite Connect",
		Long: `Exchange a Kite request token for an access token and save the session
until 6 AM the next day. Without --token, the login page is opened and the
request_token from the redirect URL is read from stdin.`,
		Example: `  backtester auth login
  backtester auth login --token=<request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			kite, err := app.Kite(ctx)
			if err != nil {
				output.Error("Broker not configured. Please check your credentials.toml")
				return err
			}
			if kite.IsAuthenticated() && token == "" {
				output.Success("✓ Already logged in")
				return nil
			}

			if token == "" {
				loginURL := kite.LoginURL()
				output.Bold("Login URL:")
				output.Println(loginURL)
				output.Println()
				if browser {
					if err := openURL(loginURL); err != nil {
						output.Warning("Could not open browser automatically")
					}
				}
				output.Info("After logging in, you'll be redirected to a URL like:")
				output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
				output.Bold("Paste the request_token value here:")

				reader := bufio.NewReader(cmd.InOrStdin())
				output.Printf("> ")
				line, _ := reader.ReadString('\n')
				token = strings.TrimSpace(line)
				if token == "" {
					output.Error("No token provided")
					return fmt.Errorf("no token provided")
				}
			}

			output.Info("Completing login with token...")
			err = kite.CompleteLogin(ctx, token)
			app.audited(app.Audit().LogLogin(app.Config.Credentials.Zerodha.APIKey, err))
			if err != nil {
				output.Error("Login failed: %s", security.MaskSensitive(err.Error()))
				return err
			}
			output.Success("✓ Login successful!")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "request token from the redirect URL")
	cmd.Flags().BoolVar(&browser, "browser", true, "open the login page in a browser")
	return cmd
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved Kite session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			kite, err := app.Kite(cmd.Context())
			if err != nil {
				return err
			}
			if err := kite.Logout(); err != nil {
				return err
			}
			app.audited(app.Audit().LogLogout())
			if app.Config.Credentials.Zerodha.AccessToken != "" {
				output.Warning("An access_token is still set in credentials.toml or KITE_ACCESS_TOKEN")
			}
			output.Success("✓ Logged out")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and data freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			status := map[string]interface{}{
				"api_key_configured": app.Config.Credentials.Zerodha.APIKey != "",
				"authenticated":      false,
				"data_provider":      app.Config.Data.Provider,
			}
			if kite, err := app.Kite(cmd.Context()); err == nil {
				status["authenticated"] = kite.IsAuthenticated()
			}
			if st, err := app.Store(); err == nil {
				status["instruments_synced"] = st.GetLastSync(store.SyncTypeInstruments)
				status["candles_synced"] = st.GetLastSync(store.SyncTypeCandles)
			}

			if output.IsJSON() {
				return output.JSON(status)
			}

			output.Bold("Kite Connect")
			if status["api_key_configured"] == true {
				output.Printf("  API Key:       %s\n", output.Green("configured"))
			} else {
				output.Printf("  API Key:       %s\n", output.Red("missing"))
			}
			if status["authenticated"] == true {
				output.Printf("  Session:       %s\n", output.Green("active"))
			} else {
				output.Printf("  Session:       %s\n", output.Yellow("none"))
			}
			if key := app.Config.Credentials.Zerodha.APIKey; key != "" {
				output.Printf("  Key:           %s\n", security.MaskCredential(key))
			}
			output.Printf("  Data Provider: %s\n", app.Config.Data.Provider)
			if t, ok := status["instruments_synced"].(time.Time); ok {
				output.Printf("  Instruments:   %s\n", syncAge(t))
			}
			if t, ok := status["candles_synced"].(time.Time); ok {
				output.Printf("  Bars:          %s\n", syncAge(t))
			}
			return nil
		},
	}
}

func syncAge(t time.Time) string {
	if t.IsZero() {
		return "never synced"
	}
	return fmt.Sprintf("%s (%s ago)", FormatDateTime(t), FormatDuration(time.Since(t)))
}
