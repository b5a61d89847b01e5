package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/config"
	"github.com/cordon-io/cordon/internal/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and compile the local policies",
	Long: `Loads the resolved configuration, checks the policy authority settings
are present, and compiles the embedded threshold policies and content
classifiers. Exits non-zero when the process would refuse to start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, span := tracer.Start(ctx, "validate")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			log.Error().Err(err).Msg("configuration invalid")
			fmt.Fprintln(os.Stderr, "✗ Configuration invalid")
			return err
		}

		// Building the engine compiles every embedded Rego policy.
		if _, err := policy.NewEngine(ctx, &policy.Thresholds{
			QueryLimits:       cfg.QueryLimits,
			ActionValueLimits: cfg.ActionValueLimits,
		}); err != nil {
			fmt.Fprintln(os.Stderr, "✗ Policy compilation failed")
			return fmt.Errorf("policy engine initialization failed: %w", err)
		}

		if _, err := classifier.NewScanner(); err != nil {
			fmt.Fprintln(os.Stderr, "✗ Classifier patterns failed to compile")
			return fmt.Errorf("classifier initialization failed: %w", err)
		}

		fmt.Println("✓ Configuration valid")
		fmt.Printf("  Policy authority: %s\n", cfg.PDPEndpoint)
		fmt.Printf("  Data dir:         %s\n", cfg.DataDir)
		fmt.Printf("  Decision cache:   %v\n", cfg.RedisAddr != "")
		if cfg.UsingDefaultSigningKey() {
			fmt.Println("  Warning: audit signing key is derived, set CORDON_SIGNING_KEY")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
