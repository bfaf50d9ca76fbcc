package sheet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	logx "sheetwatch/pkg/logx"
)

// GoogleConfig configures the Sheets API client.
type GoogleConfig struct {
	SpreadsheetID   string
	Range           string // A1 notation, e.g. "Sheet1!A:Z"
	CredentialsFile string // service-account key (JSON)
	FetchTimeout    time.Duration
}

// GoogleFetcher reads rows via the Google Sheets values API with a read-only
// service-account scope.
type GoogleFetcher struct {
	cfg GoogleConfig
	svc *sheets.Service
	log logx.Logger
}

func NewGoogleFetcher(ctx context.Context, cfg GoogleConfig, log logx.Logger) (*GoogleFetcher, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is empty")
	}
	if strings.TrimSpace(cfg.Range) == "" {
		return nil, fmt.Errorf("sheet range is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	log.Info("sheets connection established",
		logx.String("spreadsheet", cfg.SpreadsheetID),
		logx.String("range", cfg.Range),
	)
	return &GoogleFetcher{cfg: cfg, svc: svc, log: log}, nil
}

func (g *GoogleFetcher) Fetch(ctx context.Context) ([]Row, error) {
	if g.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.FetchTimeout)
		defer cancel()
	}

	resp, err := g.svc.Spreadsheets.Values.Get(g.cfg.SpreadsheetID, g.cfg.Range).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: values.get %s %s: %v", ErrFetch, g.cfg.SpreadsheetID, g.cfg.Range, err)
	}

	rows := make([]Row, 0, len(resp.Values))
	for i, raw := range resp.Values {
		cells := make([]string, 0, len(raw))
		for _, v := range raw {
			cells = append(cells, cellString(v))
		}
		rows = append(rows, Row{Index: int64(i) + 1, Cells: cells})
	}
	return rows, nil
}

// cellString renders one API cell value as text.
// The values API returns strings for FORMATTED_VALUE (the default), but be
// tolerant of other JSON scalars.
func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
