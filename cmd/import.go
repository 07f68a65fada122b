package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/company"
	"github.com/sells-group/dataland/internal/config"
	"github.com/sells-group/dataland/internal/spec"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage the company directory",
}

var companiesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert companies and their identifiers from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		companies, err := company.LoadImportFile(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeImport)
		if err != nil {
			return err
		}
		defer env.Close()

		dir := company.NewPostgresDirectory(env.Pool)
		if err := dir.Migrate(ctx); err != nil {
			return err
		}
		n, err := dir.Import(ctx, companies)
		if err != nil {
			return eris.Wrap(err, "import companies")
		}

		zap.L().Info("company import complete",
			zap.Int64("companies", n),
			zap.String("file", args[0]),
		)
		return nil
	},
}

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Manage framework specifications",
}

var specsImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Load specification files into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bundle, err := spec.LoadBundle(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeImport)
		if err != nil {
			return err
		}
		defer env.Close()

		src := spec.NewPostgresSource(env.Pool)
		if err := src.Migrate(ctx); err != nil {
			return err
		}
		n, err := src.Import(ctx, bundle)
		if err != nil {
			return eris.Wrap(err, "import specs")
		}

		zap.L().Info("spec import complete",
			zap.Int("rows", n),
			zap.String("dir", args[0]),
		)
		return nil
	},
}

func init() {
	companiesCmd.AddCommand(companiesImportCmd)
	specsCmd.AddCommand(specsImportCmd)
	rootCmd.AddCommand(companiesCmd, specsCmd)
}
