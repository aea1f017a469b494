package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Client is a row-oriented view over a single worksheet of a spreadsheet.
// Products, users, promo settings and orders each get their own Client.
type Client struct {
	service       *gsheets.Service
	spreadsheetID string
	worksheet     string
}

func NewClient(ctx context.Context, credentialsFile, spreadsheetID, worksheet string) (*Client, error) {
	service, err := gsheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return &Client{
		service:       service,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
	}, nil
}

// ForWorksheet returns a client bound to another worksheet of the same
// spreadsheet, reusing the underlying service.
func (c *Client) ForWorksheet(worksheet string) *Client {
	return &Client{
		service:       c.service,
		spreadsheetID: c.spreadsheetID,
		worksheet:     worksheet,
	}
}

// FetchRawRows returns all rows of the worksheet in sheet order. Cell values
// are coerced to strings regardless of how the sheet typed them.
func (c *Client) FetchRawRows(ctx context.Context, skipHeader bool) ([][]string, error) {
	resp, err := c.service.Spreadsheets.Values.
		Get(c.spreadsheetID, c.worksheet).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("fetch rows from %q: %w", c.worksheet, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, cast.ToString(cell))
		}
		rows = append(rows, row)
	}

	if skipHeader && len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

// AppendRow appends a row after the worksheet's last data row.
func (c *Client) AppendRow(ctx context.Context, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}

	_, err := c.service.Spreadsheets.Values.
		Append(c.spreadsheetID, c.worksheet, &gsheets.ValueRange{
			Values: [][]interface{}{cells},
		}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to %q: %w", c.worksheet, err)
	}
	return nil
}

// UpdateCell writes a single cell. Row and column are 1-based.
func (c *Client) UpdateCell(ctx context.Context, row, col int, value string) error {
	rng := fmt.Sprintf("%s!%s%d", c.worksheet, columnLetter(col), row)

	_, err := c.service.Spreadsheets.Values.
		Update(c.spreadsheetID, rng, &gsheets.ValueRange{
			Values: [][]interface{}{{value}},
		}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update cell %s: %w", rng, err)
	}
	return nil
}

// FindRowIndex scans the given 1-based column for an exact value and returns
// the 1-based row number, or 0 when no data row matches. The header row is
// never matched.
func (c *Client) FindRowIndex(ctx context.Context, col int, value string) (int, error) {
	rows, err := c.FetchRawRows(ctx, false)
	if err != nil {
		return 0, err
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) >= col && strings.TrimSpace(row[col-1]) == value {
			return i + 1, nil
		}
	}
	return 0, nil
}

// columnLetter converts a 1-based column number to its A1 letter form.
func columnLetter(col int) string {
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}
