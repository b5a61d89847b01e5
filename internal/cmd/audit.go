package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordon-io/cordon/internal/audit"
	"github.com/cordon-io/cordon/internal/config"
)

var (
	auditUser  string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the pipeline audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	RunE:  auditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [audit-id]",
	Short: "Print one audit record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  auditShow,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [audit-id]",
	Short: "Verify the HMAC signature of an audit record",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user ID")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, auditUser, time.Time{}, time.Time{}, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No audit records found.")
		return nil
	}
	renderAuditList(os.Stdout, records)
	return nil
}

func auditShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	rec, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading audit record: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	auditID := args[0]

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	valid, err := store.Verify(ctx, auditID)
	if err != nil {
		return fmt.Errorf("verifying audit record: %w", err)
	}
	renderVerifyResult(os.Stdout, auditID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", auditID)
	}
	return nil
}

// renderAuditList writes audit summary lines to w (testable).
func renderAuditList(w io.Writer, records []audit.Record) {
	fmt.Fprintf(w, "Audit Records (showing %d):\n\n", len(records))
	for i := range records {
		rec := &records[i]
		status := "✓"
		if rec.Outcome != audit.OutcomeCompleted {
			status = "✗"
		}
		detail := string(rec.Outcome)
		if rec.Outcome == audit.OutcomeDenied {
			detail = fmt.Sprintf("%s (%s)", rec.Outcome, rec.DenyReason)
		}
		fmt.Fprintf(w, "%s %s  %s  user=%s tier=%s  %s  %dms\n",
			status,
			rec.ID,
			rec.Timestamp.Format(time.RFC3339),
			rec.UserID,
			rec.Tier,
			detail,
			rec.DurationMS,
		)
	}
}

// renderVerifyResult writes the verification verdict to w (testable).
func renderVerifyResult(w io.Writer, auditID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Signature valid: %s\n", auditID)
	} else {
		fmt.Fprintf(w, "✗ Signature INVALID: %s\n", auditID)
	}
}
