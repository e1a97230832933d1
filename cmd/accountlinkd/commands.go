package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/adapters/gocommand"
	linkcommand "github.com/goliatone/go-accountlink/command"
	"github.com/goliatone/go-accountlink/core"
	linkquery "github.com/goliatone/go-accountlink/query"
	gocmd "github.com/goliatone/go-command"
	"github.com/spf13/pflag"
)

func newCommandFlags(name string, env *environment) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(env.stderr)
	return flagSet
}

func parsePrincipal(name string, env *environment, args []string) (string, *pflag.FlagSet, error) {
	flagSet := newCommandFlags(name, env)
	principal := flagSet.StringP("principal", "p", "", "local principal id")
	if err := flagSet.Parse(args); err != nil {
		return "", flagSet, err
	}
	value := strings.TrimSpace(*principal)
	if value == "" && flagSet.NArg() > 0 {
		value = strings.TrimSpace(flagSet.Arg(0))
	}
	if value == "" {
		return "", flagSet, fmt.Errorf("%s: --principal is required", name)
	}
	return value, flagSet, nil
}

func runServe(ctx context.Context, env *environment, args []string) error {
	flagSet := newCommandFlags("serve", env)
	once := flagSet.Bool("once", false, "run a single refresh pass and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.service.VerifyKeyIntegrity(ctx); err != nil {
		return fmt.Errorf("key integrity: %w", err)
	}
	scheduler := rt.service.Scheduler()
	if *once {
		reports, err := scheduler.RunOnce(ctx)
		for _, report := range reports {
			fmt.Fprintf(env.stdout, "%s\t%s\n", report.Principal, report.Outcome)
		}
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info("accountlinkd serving",
		"refresh_enabled", rt.config.Refresh.Enabled,
		"refresh_interval", rt.config.Refresh.Interval.String(),
	)
	<-ctx.Done()
	scheduler.Stop()
	rt.logger.Info("accountlinkd stopped")
	return nil
}

func runLogin(ctx context.Context, env *environment, args []string) error {
	principal, _, err := parsePrincipal("login", env, args)
	if err != nil {
		return err
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	callbacks := core.LoginCallbacks{
		OnChallengeReady: func(session core.QRSession) {
			fmt.Fprintf(env.stdout, "scan this URL with the platform app before %s:\n%s\n",
				session.ExpiresAt().Local().Format(time.Kitchen), session.URL)
		},
		OnStatusChanged: func(state core.LoginState) {
			fmt.Fprintf(env.stderr, "login state: %s\n", state)
		},
	}
	collector := gocmd.NewResult[*core.LoginAttempt]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), linkcommand.StartLoginMessage{
		Principal: principal,
		Callbacks: callbacks,
	}); err != nil {
		return err
	}
	attempt, ok := collector.Load()
	if !ok || attempt == nil {
		return fmt.Errorf("login: no attempt was started")
	}

	outcome, err := attempt.Wait(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		_ = gocommand.Dispatch(context.Background(), linkcommand.CancelLoginMessage{Principal: principal})
		return fmt.Errorf("login cancelled")
	}
	if err != nil {
		return err
	}
	account := outcome.Binding.Account
	fmt.Fprintf(env.stdout, "bound %s to %s (uid %d)\n", principal, account.DisplayName, account.ExternalID)
	return nil
}

func runStatus(ctx context.Context, env *environment, args []string) error {
	flagSet := newCommandFlags("status", env)
	principal := flagSet.StringP("principal", "p", "", "local principal id")
	probe := flagSet.Bool("probe", false, "check the stored session against the platform")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*principal) == "" {
		return fmt.Errorf("status: --principal is required")
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	status, err := gocommand.Ask[linkquery.CheckBindingStatusMessage, core.BindingStatus](ctx, linkquery.CheckBindingStatusMessage{Principal: *principal})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "status:\t%s\n", status)
	if status != core.BindingStatusBound {
		return nil
	}

	summary, err := gocommand.Ask[linkquery.GetBindingMessage, linkquery.BindingSummary](ctx, linkquery.GetBindingMessage{Principal: *principal})
	if err != nil {
		return err
	}
	printSummary(env, summary)
	if rt.service.Scheduler().Disabled(ctx, *principal) {
		fmt.Fprintln(env.stdout, "refresh:\tdisabled until next login")
	}

	if !*probe {
		return nil
	}
	result, err := gocommand.Ask[linkquery.RefreshStatusMessage, core.RefreshStatusResult](ctx, linkquery.RefreshStatusMessage{Principal: *principal})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "session:\t%s\n", result.Status)
	if result.Err != nil {
		fmt.Fprintf(env.stdout, "detail:\t%s\n", core.RedactString(result.Err.Error()))
	}
	return nil
}

func runList(ctx context.Context, env *environment, args []string) error {
	flagSet := newCommandFlags("list", env)
	limit := flagSet.Int("limit", 0, "maximum number of bindings to print")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	summaries, err := gocommand.Ask[linkquery.ListBindingsMessage, []linkquery.BindingSummary](ctx, linkquery.ListBindingsMessage{Limit: *limit})
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		fmt.Fprintf(env.stdout, "%s\t%d\t%s\t%s\n",
			summary.Principal,
			summary.Account.ExternalID,
			summary.Account.DisplayName,
			summary.LastLoginAt.Format(time.RFC3339),
		)
	}
	return nil
}

func runUnbind(ctx context.Context, env *environment, args []string) error {
	principal, _, err := parsePrincipal("unbind", env, args)
	if err != nil {
		return err
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := gocommand.Dispatch(ctx, linkcommand.UnbindMessage{Principal: principal}); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "unbound %s\n", principal)
	return nil
}

func runVerifyKey(ctx context.Context, env *environment, args []string) error {
	if err := newCommandFlags("verify-key", env).Parse(args); err != nil {
		return err
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := gocommand.Dispatch(ctx, linkcommand.VerifyKeyMessage{}); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "key ok\t%s\n", rt.keys.Fingerprint())
	return nil
}

func runConfig(ctx context.Context, env *environment, args []string) error {
	if err := newCommandFlags("config", env).Parse(args); err != nil {
		return err
	}
	file, err := env.load(ctx)
	if err != nil {
		return err
	}
	return writeEffectiveConfig(env.stdout, file)
}

func runRegenerateKey(ctx context.Context, env *environment, args []string) error {
	flagSet := newCommandFlags("regenerate-key", env)
	yes := flagSet.BoolP("yes", "y", false, "skip the confirmation prompt")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if !*yes {
		confirmed, err := confirm(env, "Regenerating the key makes every stored credential unreadable. Type 'regenerate' to continue: ", "regenerate")
		if err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("regenerate-key: aborted")
		}
	}
	rt, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	collector := gocmd.NewResult[core.KeyRotation]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), linkcommand.RegenerateKeyMessage{Confirm: true}); err != nil {
		return err
	}
	rotation, _ := collector.Load()
	fmt.Fprintf(env.stdout, "key regenerated\t%s -> %s\n", rotation.PreviousFingerprint, rotation.CurrentFingerprint)
	return nil
}

func printSummary(env *environment, summary linkquery.BindingSummary) {
	fmt.Fprintf(env.stdout, "binding:\t%s\n", summary.ID)
	fmt.Fprintf(env.stdout, "account:\t%d %s (level %d)\n", summary.Account.ExternalID, summary.Account.DisplayName, summary.Account.Level)
	fmt.Fprintf(env.stdout, "last login:\t%s\n", summary.LastLoginAt.Format(time.RFC3339))
	if summary.LastRefreshAt != nil {
		fmt.Fprintf(env.stdout, "last refresh:\t%s\n", summary.LastRefreshAt.Format(time.RFC3339))
	}
}
