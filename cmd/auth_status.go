package cmd

import (
	"archivist/internal/app"
	"archivist/internal/formatting"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Status-specific flags
var (
	statusOutput string
)

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Long: `Show the current session: which server, who is signed in, when the
access token expires and where credentials are stored.

Examples:
  archivist auth status
  archivist auth status -o json`,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, appOptions{restore: true})
	if err != nil {
		return err
	}
	defer application.Close()

	rec := statusRecord(application, format)
	return formatting.New(formatting.Options{Format: format, Writer: cmd.OutOrStdout()}).FormatRecord(rec)
}

// statusRecord describes the session. Colours are applied only to table
// output so machine formats stay plain.
func statusRecord(application *app.Application, format formatting.OutputFormat) formatting.Record {
	sess := application.Session
	settings := application.Settings
	table := format == formatting.FormatTable

	state := sess.State().String()
	if table {
		if sess.IsAuthenticated() {
			state = text.FgGreen.Sprint(state)
		} else {
			state = text.FgYellow.Sprint(state)
		}
	}

	rec := formatting.Record{
		{Key: "server", Value: settings.Server.URL},
		{Key: "state", Value: state},
	}

	if user := sess.User(); user != nil {
		rec = append(rec,
			formatting.Field{Key: "user", Value: user.Email},
			formatting.Field{Key: "role", Value: user.Role},
			formatting.Field{Key: "privileged", Value: user.IsPrivileged()},
		)
	} else if cached, ok := sess.CachedProfile(); ok {
		rec = append(rec, formatting.Field{Key: "last_user", Value: cached.Email})
	}

	if exp, ok := sess.TokenExpiry(); ok {
		var value interface{} = exp.UTC()
		if table {
			value = formatExpiryWithDirection(exp)
		}
		rec = append(rec, formatting.Field{Key: "token_expires", Value: value})
	}

	rec = append(rec,
		formatting.Field{Key: "storage", Value: settings.Storage.Backend},
		formatting.Field{Key: "oidc_login_pending", Value: application.OIDC.HasPendingFlow()},
	)
	return rec
}
