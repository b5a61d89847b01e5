package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/config"
)

var (
	adviseUser       string
	adviseTier       string
	adviseOptIn      bool
	adviseCert       string
	advisePortfolios []string
	adviseJSON       bool
)

var adviseCmd = &cobra.Command{
	Use:   "advise [query]",
	Short: "Run one advice request through the full perimeter pipeline",
	Long: `Runs a single query through query validation, knowledge filtering, agent
invocation, action authorization and response enforcement, then prints the
final response or the denial. The run is audited exactly like an API call.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdvise,
}

func init() {
	adviseCmd.Flags().StringVar(&adviseUser, "user", "", "user ID the request is made for (required)")
	adviseCmd.Flags().StringVar(&adviseTier, "tier", string(advice.TierRestricted), "subscription tier (restricted, premium)")
	adviseCmd.Flags().BoolVar(&adviseOptIn, "opt-in", false, "user has opted in to AI-generated advice")
	adviseCmd.Flags().StringVar(&adviseCert, "certification", string(advice.CertGeneral), "certification level (general, professional, expert)")
	adviseCmd.Flags().StringSliceVar(&advisePortfolios, "portfolio", nil, "portfolio IDs owned by the user (repeatable)")
	adviseCmd.Flags().BoolVar(&adviseJSON, "json", false, "print the full result as JSON")
	_ = adviseCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(adviseCmd)
}

func runAdvise(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "advise")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.close()

	id := advice.Identity{
		ID:            adviseUser,
		Tier:          advice.Tier(adviseTier),
		OptIn:         adviseOptIn,
		Certification: advice.Certification(adviseCert),
		Portfolios:    advisePortfolios,
	}

	result, err := comps.orch.Run(ctx, id, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("advice run: %w", err)
	}

	if adviseJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Denial != nil {
		fmt.Printf("✗ Denied (%s): %s\n", result.Denial.Decision.Reason, result.Denial.Message())
		fmt.Printf("  Run:   %s\n", result.RunID)
		fmt.Printf("  Audit: %s\n", result.AuditID)
		return nil
	}

	fmt.Println(result.Final.Body)
	fmt.Printf("\n  Run:   %s\n", result.RunID)
	fmt.Printf("  Audit: %s\n", result.AuditID)
	if len(result.ExecutedActions) > 0 {
		fmt.Printf("  Actions authorized: %d\n", len(result.ExecutedActions))
	}
	return nil
}
