// Command brushmint is the terminal client for the Brushmint image service.
// It keeps a local wallet mirror through the reconciler and caches the
// session token and gallery in sqlite.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/brushmint/wallet/internal/apiclient"
	"github.com/brushmint/wallet/internal/imagegen"
	"github.com/brushmint/wallet/internal/store/gallerystore"
	"github.com/brushmint/wallet/pkg/session"
	"github.com/brushmint/wallet/pkg/wallet"
)

const (
	flagAPIURL    = "api-url"
	flagCachePath = "cache"
	flagVerbose   = "verbose"
	envPrefix     = "BRUSHMINT"

	defaultAPIURL    = "http://localhost:8080"
	defaultCacheFile = "brushmint.db"
)

var errSignedOut = errors.New("not signed in; run `brushmint login` first")

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "brushmint: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "brushmint",
		Short:         "Brushmint image generation client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagAPIURL, defaultAPIURL, "backend base URL")
	cmd.PersistentFlags().String(flagCachePath, defaultCachePath(), "local cache database path")
	cmd.PersistentFlags().Bool(flagVerbose, false, "log requests and wallet operations")

	cmd.AddCommand(
		newRegisterCommand(),
		newVerifyCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newSendCodeCommand(),
		newResetPasswordCommand(),
		newBalanceCommand(),
		newHistoryCommand(),
		newConsumeCommand(),
		newRechargeCommand(),
		newGenerateCommand(),
		newGalleryCommand(),
	)
	return cmd
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultCacheFile
	}
	return filepath.Join(home, ".brushmint", defaultCacheFile)
}

// app holds the wired client-side stack for one command invocation.
type app struct {
	client   *apiclient.Client
	cache    *gallerystore.Store
	accounts *session.Broadcaster
	ledger   *wallet.Reconciler
	logger   *zap.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range []string{flagAPIURL, flagCachePath, flagVerbose} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, err
		}
	}

	logger := zap.NewNop()
	if v.GetBool(flagVerbose) {
		built, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("logger init: %w", err)
		}
		logger = built
	}

	cachePath := v.GetString(flagCachePath)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	cache, err := gallerystore.Open(cachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	token, err := cache.LoadToken(cmd.Context())
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(v.GetString(flagAPIURL), apiclient.WithToken(token), apiclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ledger, err := wallet.NewReconciler(client)
	if err != nil {
		return nil, err
	}
	accounts := session.NewBroadcaster()
	accounts.Subscribe(ledger.SetPrincipal)

	return &app{
		client:   client,
		cache:    cache,
		accounts: accounts,
		ledger:   ledger,
		logger:   logger,
	}, nil
}

// restoreSession turns a cached token back into a signed-in wallet. An
// expired token is treated as signed out and dropped from the cache.
func (application *app) restoreSession(ctx context.Context) error {
	if application.client.Token() == "" {
		return errSignedOut
	}
	user, err := application.client.Profile(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			_ = application.cache.ClearToken(ctx)
			application.client.ClearToken()
			return errSignedOut
		}
		return err
	}
	return application.signIn(ctx, user, application.client.Token())
}

func (application *app) signIn(ctx context.Context, user apiclient.User, token string) error {
	principal, err := session.NewPrincipal(user.ID, user.Email, user.Name, user.AvatarURL)
	if err != nil {
		return err
	}
	if err := application.cache.SaveToken(ctx, token); err != nil {
		return err
	}
	application.accounts.SignIn(principal)
	application.ledger.Load(ctx)
	application.ledger.Settle()
	return nil
}

func newRegisterCommand() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and request an email verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := application.client.Register(ctx, email, password, name)
			if err != nil {
				return err
			}
			if err := application.client.SendVerification(ctx, email, apiclient.VerificationSignup, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s; check your email for a verification code, then run `brushmint verify`\n", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Redeem the email verification code and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			authSession, err := application.client.VerifyEmail(ctx, email, code, apiclient.VerificationSignup)
			if err != nil {
				return err
			}
			if err := application.signIn(ctx, authSession.User, authSession.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "email verified, signed in as %s (balance: %d credits)\n", authSession.User.Email, application.ledger.Balance())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "verification code")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newLoginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and load the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			authSession, err := application.client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := application.signIn(ctx, authSession.User, authSession.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (balance: %d credits)\n", authSession.User.Email, application.ledger.Balance())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.cache.ClearToken(cmd.Context()); err != nil {
				return err
			}
			application.client.ClearToken()
			application.accounts.SignOut()
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.restoreSession(cmd.Context()); err != nil {
				return err
			}
			principal := application.accounts.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", principal.DisplayName, principal.Email)
			return nil
		},
	}
}

func newSendCodeCommand() *cobra.Command {
	var email, kind string
	cmd := &cobra.Command{
		Use:   "send-code",
		Short: "Request a verification or password-reset code",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.client.SendVerification(cmd.Context(), email, apiclient.VerificationKind(kind), ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "code sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&kind, "type", string(apiclient.VerificationSignup), "code type (verification or password_reset)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newResetPasswordCommand() *cobra.Command {
	var email, code, newPassword string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using a reset code",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.client.ResetPassword(cmd.Context(), email, code, newPassword); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password updated; run `brushmint login`")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "reset code")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "new password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("new-password")
	return cmd
}

func newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the current credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.restoreSession(cmd.Context()); err != nil {
				return err
			}
			snapshot := application.ledger.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "%d credits\n", snapshot.Balance)
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List wallet transactions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			historyPage, err := application.client.FetchTransactions(ctx, page, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, transaction := range historyPage.Transactions {
				createdAt := time.Unix(transaction.CreatedUnixUTC, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s  %-8s  %+6d  %s\n", createdAt, transaction.Kind, transaction.Amount, transaction.Description)
			}
			fmt.Fprintf(out, "page %d of %d transactions\n", historyPage.Page, historyPage.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	return cmd
}

func newConsumeCommand() *cobra.Command {
	var amount int64
	var description string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Deduct credits manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := application.restoreSession(cmd.Context()); err != nil {
				return err
			}
			creditAmount, err := wallet.NewCreditAmount(amount)
			if err != nil {
				return err
			}
			if !application.ledger.Consume(creditAmount, description) {
				return wallet.ErrInsufficientCredits
			}
			application.ledger.Settle()
			fmt.Fprintf(cmd.OutOrStdout(), "consumed %d credits, %d remaining\n", amount, application.ledger.Balance())
			return nil
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "credits to deduct")
	cmd.Flags().StringVar(&description, "description", "Manual deduction", "transaction description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newRechargeCommand() *cobra.Command {
	var amount int64
	var method string
	cmd := &cobra.Command{
		Use:   "recharge",
		Short: "Start a credit purchase",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			if amount == 0 {
				packages, err := application.client.RechargePackages(ctx)
				if err != nil {
					return err
				}
				for _, item := range packages {
					fmt.Fprintf(cmd.OutOrStdout(), "$%d\t%d credits\n", item.PriceUSD, item.Credits)
				}
				return nil
			}
			purchaseAmount, err := wallet.NewCreditAmount(amount)
			if err != nil {
				return err
			}
			intent, err := application.ledger.Recharge(ctx, purchaseAmount, method)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "complete the purchase at: %s\n", intent.CheckoutURL)
			return nil
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "purchase amount in dollars (omit to list packages)")
	cmd.Flags().StringVar(&method, "method", "card", "payment method")
	return cmd
}

func newGenerateCommand() *cobra.Command {
	var prompt, style string
	var transparent bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an image batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			generator, err := imagegen.NewGenerator(application.ledger, application.client, application.cache,
				imagegen.WithLogger(application.logger))
			if err != nil {
				return err
			}
			generation, err := generator.Generate(ctx, prompt, style, transparent)
			if err != nil {
				return err
			}
			application.ledger.Settle()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "generated %d images for %d credits (%d remaining)\n",
				len(generation.Images), generation.CreditsUsed, application.ledger.Balance())
			for _, image := range generation.Images {
				fmt.Fprintf(out, "  %s\n", image.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "image prompt")
	cmd.Flags().StringVar(&style, "style", "realistic", "image style")
	cmd.Flags().BoolVar(&transparent, "transparent", false, "transparent background")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newGalleryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "List locally cached generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd)
			if err != nil {
				return err
			}
			generations, err := application.cache.ListGenerations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, generation := range generations {
				createdAt := time.Unix(generation.CreatedUnixUTC, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s  %q (%d images, %d credits)\n", createdAt, generation.Prompt, len(generation.Images), generation.CreditsUsed)
				for _, image := range generation.Images {
					fmt.Fprintf(out, "  %s\n", image.URL)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum batches to list")
	return cmd
}
