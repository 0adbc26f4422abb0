// Package google writes ledger reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"rhledger/internal/log"
	"rhledger/internal/sheets"
)

var _ sheets.ReportWriter = (*Client)(nil)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	reportSheet   string
	logger        *log.Logger
}

// New creates a client authenticated with service account credentials
// from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, reportSheet string, logger *log.Logger) (*Client, error) {
	logger = logger.WithComponent(log.ComponentSheets)
	creds, err := serviceAccountCredentials(logger)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, reportSheet, logger)
}

// NewWithService wraps an existing service, e.g. one pointed at a test
// endpoint.
func NewWithService(svc *gsheet.Service, spreadsheetID, reportSheet string, logger *log.Logger) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	reportSheet = strings.TrimSpace(reportSheet)
	if reportSheet == "" {
		reportSheet = "Report"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		reportSheet:   reportSheet,
		logger:        logger.WithComponent(log.ComponentSheets),
	}, nil
}

func serviceAccountCredentials(logger *log.Logger) ([]byte, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		logger.Info("Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		logger.Info("Reading service account credentials", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// WriteReport clears the report sheet and writes r from A1.
func (c *Client) WriteReport(ctx context.Context, r sheets.Report) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	clearRange := fmt.Sprintf("%s!A:Z", c.reportSheet)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", c.reportSheet, err)
	}

	rows := r.Rows()
	vr := &gsheet.ValueRange{Values: rows}
	dataRange := fmt.Sprintf("%s!A1", c.reportSheet)
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update sheet %s: %w", c.reportSheet, err)
	}

	c.logger.InfoContext(ctx, "Report exported",
		log.FieldOperation, log.OpExport,
		"sheet", c.reportSheet,
		"rows", len(rows))
	return nil
}
