// Package sheets is a small client for the Google Sheets v4 REST endpoints the
// lead store needs: read a range, append a row, overwrite a range, delete rows.
//
// Every method issues exactly one HTTP request so callers can wrap each call in
// their own retry policy.
package sheets

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public Sheets API endpoint.
const DefaultBaseURL = "https://sheets.googleapis.com"

// Client talks to one spreadsheet.
type Client struct {
	baseURL       *url.URL
	spreadsheetID string
	tokens        TokenSource
	http          *http.Client
}

// NewClient constructs a client for spreadsheetID.
//
// baseURL may be empty for the public endpoint; tests point it at a fake server.
// caPath is optional and, when provided, replaces the TLS trust store.
func NewClient(baseURL, spreadsheetID string, tokens TokenSource, caPath string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	hc, err := newHTTPClient(caPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:       base,
		spreadsheetID: spreadsheetID,
		tokens:        tokens,
		http:          hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sheets base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sheets base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// A1 builds a quoted A1 range such as 'LEADS'!A1:F.
func A1(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}

// ColumnLetter converts a 1-based column index to its letter form (1 -> A, 27 -> AA).
func ColumnLetter(col int) string {
	if col <= 0 {
		return ""
	}
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}

type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// GetValues returns the cells of rng as strings, one slice per row. Trailing empty
// cells and rows are omitted by the API.
func (c *Client) GetValues(ctx context.Context, rng string) ([][]string, error) {
	u := c.resolve("v4/spreadsheets/" + c.spreadsheetID + "/values/" + rng)
	q := url.Values{}
	q.Set("majorDimension", "ROWS")
	q.Set("valueRenderOption", "FORMATTED_VALUE")
	u.RawQuery = q.Encode()

	b, err := c.do(ctx, "getValues", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out valueRange
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse getValues response: %w", err)
	}
	rows := make([][]string, len(out.Values))
	for i, r := range out.Values {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = cellString(v)
		}
		rows[i] = cells
	}
	return rows, nil
}

// AppendRow appends one row after the last non-empty row of rng's table.
func (c *Client) AppendRow(ctx context.Context, rng string, row []string) error {
	return c.appendRows(ctx, "appendRow", rng, [][]string{row})
}

// AppendRows appends rows in a single request.
func (c *Client) AppendRows(ctx context.Context, rng string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	return c.appendRows(ctx, "appendRows", rng, rows)
}

func (c *Client) appendRows(ctx context.Context, op, rng string, rows [][]string) error {
	u := c.resolve("v4/spreadsheets/" + c.spreadsheetID + "/values/" + rng + ":append")
	q := url.Values{}
	q.Set("valueInputOption", "RAW")
	q.Set("insertDataOption", "INSERT_ROWS")
	u.RawQuery = q.Encode()

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = toAny(r)
	}
	_, err := c.do(ctx, op, http.MethodPost, u, valueRange{
		MajorDimension: "ROWS",
		Values:         values,
	})
	return err
}

// UpdateValues overwrites rng with rows.
func (c *Client) UpdateValues(ctx context.Context, rng string, rows [][]string) error {
	u := c.resolve("v4/spreadsheets/" + c.spreadsheetID + "/values/" + rng)
	q := url.Values{}
	q.Set("valueInputOption", "RAW")
	u.RawQuery = q.Encode()

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = toAny(r)
	}
	_, err := c.do(ctx, "updateValues", http.MethodPut, u, valueRange{
		Range:          rng,
		MajorDimension: "ROWS",
		Values:         values,
	})
	return err
}

// SheetProperties identifies one tab of the spreadsheet.
type SheetProperties struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
	Index   int    `json:"index"`
}

// Sheets lists the tabs of the spreadsheet.
func (c *Client) Sheets(ctx context.Context) ([]SheetProperties, error) {
	u := c.resolve("v4/spreadsheets/" + c.spreadsheetID)
	q := url.Values{}
	q.Set("fields", "sheets.properties")
	u.RawQuery = q.Encode()

	b, err := c.do(ctx, "getSpreadsheet", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Sheets []struct {
			Properties SheetProperties `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse getSpreadsheet response: %w", err)
	}
	props := make([]SheetProperties, 0, len(out.Sheets))
	for _, s := range out.Sheets {
		props = append(props, s.Properties)
	}
	return props, nil
}

type dimensionRange struct {
	SheetID    int64  `json:"sheetId"`
	Dimension  string `json:"dimension"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

type batchRequest struct {
	DeleteDimension *struct {
		Range dimensionRange `json:"range"`
	} `json:"deleteDimension,omitempty"`
}

// DeleteRows removes the given 1-based rows from the tab in a single batchUpdate.
// Rows are deleted bottom-up so earlier deletions do not shift later ones.
func (c *Client) DeleteRows(ctx context.Context, sheetID int64, rows []int) error {
	if len(rows) == 0 {
		return nil
	}
	sorted := append([]int(nil), rows...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	reqs := make([]batchRequest, 0, len(sorted))
	prev := 0
	for _, r := range sorted {
		if r <= 0 {
			return fmt.Errorf("invalid row %d", r)
		}
		if r == prev {
			continue
		}
		prev = r
		br := batchRequest{DeleteDimension: &struct {
			Range dimensionRange `json:"range"`
		}{Range: dimensionRange{SheetID: sheetID, Dimension: "ROWS", StartIndex: r - 1, EndIndex: r}}}
		reqs = append(reqs, br)
	}

	u := c.resolve("v4/spreadsheets/" + c.spreadsheetID + ":batchUpdate")
	_, err := c.do(ctx, "deleteRows", http.MethodPost, u, map[string]any{"requests": reqs})
	return err
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: obtain access token: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(op, resp, b)
	}
	return b, nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}

func toAny(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
