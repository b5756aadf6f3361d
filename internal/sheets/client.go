package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/calmwaters/lotus/internal/common"
)

// Client implements the RangeStore interface over the Google Sheets API.
// One Client serves one spreadsheet, which holds every table the ledger uses.
type Client struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewClient creates a Google Sheets client for the configured spreadsheet.
func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	service, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		config:   config,
		service:  service,
		logger:   logger,
		sheetIDs: make(map[string]int64),
	}, nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		// Use service account authentication
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		// Use OAuth2 authentication
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = oauthConfig.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// remoteErr wraps an API failure so callers can classify it with errors.Is.
func remoteErr(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return fmt.Errorf("%s: %w: http %d: %v", op, common.ErrRemoteUnavailable, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrRemoteUnavailable, err)
}

// ReadRange implements RangeStore.
func (c *Client) ReadRange(ctx context.Context, rng string) ([][]any, error) {
	resp, err := c.service.Spreadsheets.Values.Get(c.config.SpreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, remoteErr(fmt.Sprintf("read %s", rng), err)
	}
	return resp.Values, nil
}

// UpdateRange implements RangeStore. RAW input keeps serialized snapshots
// from being reinterpreted by the spreadsheet.
func (c *Client) UpdateRange(ctx context.Context, rng string, values [][]any) error {
	_, err := c.service.Spreadsheets.Values.Update(c.config.SpreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return remoteErr(fmt.Sprintf("update %s", rng), err)
	}
	return nil
}

// AppendRows implements RangeStore.
func (c *Client) AppendRows(ctx context.Context, rng string, values [][]any) (string, error) {
	resp, err := c.service.Spreadsheets.Values.Append(c.config.SpreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", remoteErr(fmt.Sprintf("append %s", rng), err)
	}
	if resp.Updates == nil || resp.Updates.UpdatedRange == "" {
		return "", fmt.Errorf("append %s: %w: store did not report the written range", rng, common.ErrRemoteUnavailable)
	}
	return resp.Updates.UpdatedRange, nil
}

// ClearRange implements RangeStore.
func (c *Client) ClearRange(ctx context.Context, rng string) error {
	_, err := c.service.Spreadsheets.Values.Clear(c.config.SpreadsheetID, rng, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return remoteErr(fmt.Sprintf("clear %s", rng), err)
	}
	return nil
}

// EnsureTable implements RangeStore.
func (c *Client) EnsureTable(ctx context.Context, title string) error {
	c.mu.Lock()
	_, known := c.sheetIDs[title]
	c.mu.Unlock()
	if known {
		return nil
	}

	if err := c.refreshSheetIDs(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	_, known = c.sheetIDs[title]
	c.mu.Unlock()
	if known {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}
	resp, err := c.service.Spreadsheets.BatchUpdate(c.config.SpreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return remoteErr(fmt.Sprintf("add table %s", title), err)
	}

	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			c.mu.Lock()
			c.sheetIDs[title] = r.AddSheet.Properties.SheetId
			c.mu.Unlock()
		}
	}

	c.logger.Info("created table", "table", title)
	return nil
}

// DeleteRow implements RangeStore. Subsequent rows shift up by one; keeping
// the index consistent afterwards is the caller's job.
func (c *Client) DeleteRow(ctx context.Context, table string, row int) error {
	sheetID, err := c.sheetID(ctx, table)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	if _, err := c.service.Spreadsheets.BatchUpdate(c.config.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return remoteErr(fmt.Sprintf("delete row %d of %s", row, table), err)
	}
	return nil
}

func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := c.refreshSheetIDs(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok = c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("table %s: %w", title, common.ErrNotFound)
	}
	return id, nil
}

func (c *Client) refreshSheetIDs(ctx context.Context) error {
	spreadsheet, err := c.service.Spreadsheets.Get(c.config.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return remoteErr("get spreadsheet", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			c.sheetIDs[sheet.Properties.Title] = sheet.Properties.SheetId
		}
	}
	return nil
}
