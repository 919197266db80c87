package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/config"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rule definitions",
	}

	importCmd := &cobra.Command{
		Use:   "import [bundle.yaml]",
		Short: "Import a YAML rule bundle (the built-in baseline when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			activate, _ := cmd.Flags().GetBool("activate")
			reason, _ := cmd.Flags().GetString("reason")
			actor, _ := cmd.Flags().GetString("actor")

			data := rules.DefaultBundle
			if len(args) == 1 {
				var err error
				if data, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			emitter, closeEmitter, err := newEmitter(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeEmitter()

			svc := rules.NewService(rules.NewRepoPG(pool), logger)
			svc.SetEmitter(emitter)
			res, err := svc.ImportBundle(ctx, data, activate, reason, actor)
			if err != nil {
				return err
			}
			printImport(cmd.OutOrStdout(), res)
			return nil
		},
	}
	importCmd.Flags().Bool("activate", false, "Activate every imported draft")
	importCmd.Flags().String("reason", "", "Change reason recorded on each version (required)")
	importCmd.Flags().String("actor", defaultActor(), "Actor recorded as author and activator")
	_ = importCmd.MarkFlagRequired("reason")
	cmd.AddCommand(importCmd)

	return cmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func printImport(w io.Writer, res []rules.ImportedRule) {
	fmt.Fprintf(w, "%-40s %-8s %-10s %s\n", "KEY", "VERSION", "STATUS", "NEW RULE")
	for _, r := range res {
		created := ""
		if r.Created {
			created = "yes"
		}
		fmt.Fprintf(w, "%-40s %-8d %-10s %s\n", r.Key, r.Version, r.Status, created)
	}
	fmt.Fprintf(w, "Imported %d rule(s).\n", len(res))
}
