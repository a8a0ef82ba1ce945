package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/provider"
	"github.com/rediwo/redi-migrate/types"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "redi-migrate",
		Short:         "Schema migrations for document databases",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.bindGlobal(root)
	root.AddCommand(
		newMakeMigrationsCmd(a),
		newApplyCmd(a, "migrate [target]", "Move the database to target, forward or backward (all unapplied migrations by default)",
			func(m *migration.Manager, ctx context.Context, target string) (*migration.Report, error) {
				return m.Migrate(ctx, target)
			}),
		newApplyCmd(a, "upgrade [target]", "Apply unapplied migrations up to target",
			func(m *migration.Manager, ctx context.Context, target string) (*migration.Report, error) {
				return m.Upgrade(ctx, target)
			}),
		newApplyCmd(a, "downgrade [target]", "Unapply migrations down to target (the last applied one by default)",
			func(m *migration.Manager, ctx context.Context, target string) (*migration.Report, error) {
				return m.Downgrade(ctx, target)
			}),
		newStatusCmd(a),
		newShowCmd(a),
	)
	return root
}

func newMakeMigrationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "makemigrations [label]",
		Short: "Compare the models with the migrations and write a new migration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			desired, err := provider.LoadPath(a.cfg.Models)
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			label := ""
			if len(args) == 1 {
				label = args[0]
			}
			mig, err := s.manager.MakeMigrations(desired, label)
			if err != nil {
				return err
			}
			if mig != nil {
				fmt.Fprintln(cmd.OutOrStdout(), mig.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.flags.Models, "models", "", "model file or directory")
	cmd.Flags().StringVar(&a.policy, "policy", "", "strict or relaxed, recorded in the new migration")
	return cmd
}

type applyFunc func(m *migration.Manager, ctx context.Context, target string) (*migration.Report, error)

func newApplyCmd(a *app, use, short string, apply applyFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.open(ctx, true, true)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx), a.log)

			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			report, err := apply(s.manager, ctx, target)
			if report != nil {
				printReport(cmd.OutOrStdout(), report, a.dryRun)
			}
			return err
		},
	}
	bindApply(cmd, a)
	return cmd
}

func printReport(w io.Writer, r *migration.Report, dryRun bool) {
	for _, step := range r.Steps {
		fmt.Fprintf(w, "%s %s: %s, %d action(s)", step.Direction, step.Migration, step.State, step.Applied)
		if step.Resumed > 0 {
			fmt.Fprintf(w, " after resuming at %d", step.Resumed)
		}
		fmt.Fprintln(w)
	}
	if dryRun {
		for _, c := range r.Commands {
			fmt.Fprintln(w, c.String())
		}
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.open(ctx, true, false)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx), a.log)

			entries, progress, err := s.manager.Status(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MIGRATION\tAPPLIED\tAT")
			for _, e := range entries {
				mark, at := "[ ]", ""
				if e.Applied {
					mark, at = "[X]", e.AppliedAt.Format("2006-01-02 15:04:05")
				}
				if e.Missing {
					mark = "[?]"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, mark, at)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if progress != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "interrupted: %s (%s) after %d action(s)\n",
					progress.Migration, progress.Direction, progress.Completed)
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var backward bool
	cmd := &cobra.Command{
		Use:   "show <migration>",
		Short: "Print the actions of a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			s, err := a.open(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			dir := types.Forward
			if backward {
				dir = types.Backward
			}
			res, err := s.manager.Show(args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&backward, "backward", false, "show the chain that unapplies the migration")
	return cmd
}
