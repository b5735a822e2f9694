package cmd

import (
	"errors"
	"time"

	"archivist/internal/backend"
	"archivist/internal/oidc"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Login-specific flags
var (
	loginEmail     string
	loginOIDC      bool
	loginNoBrowser bool

	registerEmail string
	registerName  string
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the archive",
	Long: `Sign in with an email and password, or with --oidc through the
server's single sign-on provider.

The password is read from the terminal without echo, or from the first
line of stdin when it is piped.

Examples:
  archivist auth login --email ada@example.com
  echo "$PASSWORD" | archivist auth login --email ada@example.com
  archivist auth login --oidc
  archivist auth login --oidc --no-browser     # Print the URL instead`,
	RunE: runAuthLogin,
}

// authRegisterCmd represents the auth register command
var authRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE:  runAuthRegister,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email for password login")
	authLoginCmd.Flags().BoolVar(&loginOIDC, "oidc", false, "Sign in through the OIDC provider")
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the OIDC URL instead of opening a browser")
	authLoginCmd.MarkFlagsMutuallyExclusive("email", "oidc")

	authRegisterCmd.Flags().StringVar(&registerEmail, "email", "", "Account email")
	authRegisterCmd.Flags().StringVar(&registerName, "name", "", "Full name")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	if loginOIDC {
		return runOIDCLogin(cmd)
	}
	if loginEmail == "" {
		return errors.New("--email is required for password login (or use --oidc)")
	}
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Session.Login(cmd.Context(), loginEmail, password); err != nil {
		return err
	}
	authPrint(cmd, "%s Logged in as %s\n", text.FgGreen.Sprint("✓"), application.Session.User().DisplayName())
	return nil
}

func runOIDCLogin(cmd *cobra.Command) error {
	var ua oidc.UserAgent = oidc.Fallback{
		Primary:   oidc.Browser{},
		Secondary: oidc.Printer{W: cmd.ErrOrStderr()},
	}
	if loginNoBrowser {
		ua = oidc.Printer{W: cmd.ErrOrStderr()}
	}

	application, err := openApplication(cmd, appOptions{userAgent: ua})
	if err != nil {
		return err
	}
	defer application.Close()

	stopSpinner := func() {}
	if !quiet && !loginNoBrowser {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Waiting for sign-in to complete in the browser..."
		s.Start()
		stopSpinner = s.Stop
	}

	err = application.OIDC.Login(cmd.Context())
	stopSpinner()
	if err != nil {
		return err
	}
	authPrint(cmd, "%s Logged in as %s\n", text.FgGreen.Sprint("✓"), application.Session.User().DisplayName())
	return nil
}

func runAuthRegister(cmd *cobra.Command, args []string) error {
	if registerEmail == "" {
		return errors.New("--email is required")
	}
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer application.Close()

	req := backend.RegisterRequest{Email: registerEmail, Password: password, FullName: registerName}
	if err := application.Session.Register(cmd.Context(), req); err != nil {
		return err
	}
	authPrint(cmd, "%s Registered and logged in as %s\n", text.FgGreen.Sprint("✓"), application.Session.User().DisplayName())
	return nil
}
