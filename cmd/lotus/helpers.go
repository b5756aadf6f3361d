package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/calmwaters/lotus/internal/billing"
	"github.com/calmwaters/lotus/internal/ledger"
	"github.com/calmwaters/lotus/internal/model"
	"github.com/calmwaters/lotus/internal/sheets"
)

// initBilling wires the full stack: sheets client, ledger store, bill number
// allocator, and the state machine on top.
func initBilling(ctx context.Context) (*billing.Service, error) {
	logger := slog.Default()

	cfg := sheets.Config{
		ClientID:           viper.GetString("sheets.client_id"),
		ClientSecret:       viper.GetString("sheets.client_secret"),
		RefreshToken:       viper.GetString("sheets.refresh_token"),
		ServiceAccountPath: viper.GetString("sheets.service_account_path"),
		SpreadsheetID:      viper.GetString("sheets.spreadsheet_id"),
	}
	if cfg.SpreadsheetID == "" {
		// Fall back to the conventional environment variables.
		if err := cfg.LoadFromEnv(); err != nil {
			return nil, err
		}
	}

	client, err := sheets.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spreadsheet: %w", err)
	}

	storeCfg := ledger.DefaultConfig()
	if viper.IsSet("ledger.verify_resolves") {
		storeCfg.VerifyResolves = viper.GetBool("ledger.verify_resolves")
	}

	store := ledger.NewStore(client, storeCfg, logger)
	alloc := ledger.NewSequenceAllocator(client, "Meta", "INV-", logger)

	return billing.NewService(store, alloc, logger), nil
}

// loadLines reads bill lines from a JSON file: an array of objects with
// itemId, name, variant, qty, and rate.
func loadLines(path string) ([]model.BillLine, error) {
	raw, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read lines file: %w", err)
	}
	var lines []model.BillLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("failed to parse lines file: %w", err)
	}
	return lines, nil
}

// loadPatch reads an update patch from a JSON file.
func loadPatch(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read patch file: %w", err)
	}
	var patch map[string]any
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("failed to parse patch file: %w", err)
	}
	return patch, nil
}
