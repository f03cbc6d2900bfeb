package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/account/postgres"
	"github.com/spf13/cobra"
)

func migrateCmd(load func() (*runtime, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending account database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load()
			if err != nil {
				return err
			}
			defer rt.Close()

			pg, err := rt.openPostgres(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := postgres.Migrate(cmd.Context(), pg.Pool())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func accountCmds(load func() (*runtime, error)) []*cobra.Command {
	var (
		email, username, password string
		roles                     []string
	)
	create := &cobra.Command{
		Use:   "create-account",
		Short: "Register an active account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			return withEngine(cmd.Context(), load, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.CreateAccount(ctx, authsession.CreateAccountRequest{
					Email:    email,
					Username: username,
					Password: password,
					Roles:    roles,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s <%s>\n", info.ID, info.Email)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&username, "username", "", "optional username")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")

	var deactivateEmail string
	deactivate := &cobra.Command{
		Use:   "deactivate-account [account-id]",
		Short: "Disable login and end every session of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), load, func(ctx context.Context, rt *runtime) error {
				id, err := resolveAccount(ctx, rt, args, deactivateEmail)
				if err != nil {
					return err
				}
				if err := rt.engine.DeactivateAccount(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", id)
				return nil
			})
		},
	}
	deactivate.Flags().StringVar(&deactivateEmail, "email", "", "look the account up by email")

	var unlockEmail string
	unlock := &cobra.Command{
		Use:   "unlock-account [account-id]",
		Short: "Clear a login lock and the failed-attempt counter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), load, func(ctx context.Context, rt *runtime) error {
				id, err := resolveAccount(ctx, rt, args, unlockEmail)
				if err != nil {
					return err
				}
				if err := rt.engine.UnlockAccount(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", id)
				return nil
			})
		},
	}
	unlock.Flags().StringVar(&unlockEmail, "email", "", "look the account up by email")

	return []*cobra.Command{create, deactivate, unlock}
}

// withEngine builds the engine against the shared stores. Operator commands
// refuse to run on in-process stores since their writes would be lost.
func withEngine(ctx context.Context, load func() (*runtime, error), fn func(context.Context, *runtime) error) error {
	rt, err := load()
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Postgres.DSN == "" || rt.cfg.Redis.Addr == "" {
		return errors.New("postgres.dsn and redis.addr must be configured for account commands")
	}
	if _, err := rt.buildEngine(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}

func resolveAccount(ctx context.Context, rt *runtime, args []string, email string) (string, error) {
	switch {
	case len(args) == 1 && email != "":
		return "", errors.New("pass either an account id or --email")
	case len(args) == 1:
		return args[0], nil
	case email != "":
		a, err := rt.accounts.FindByEmail(ctx, account.NormalizeEmail(email))
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", email, err)
		}
		return a.ID, nil
	default:
		return "", errors.New("account id or --email required")
	}
}
