// Package tablesensectl is the operator and end-user client for the
// tablesense API.
package tablesensectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tablesense/tablesense/internal/sqlguard"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}
	root := NewRootCommand(&defaults)
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(defaults.Stderr, pterm.Error.Sprint(err.Error()))
		return 1
	}
	return 0
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRootCommand(opts *Options) *cobra.Command {
	baseURL := firstNonEmpty(opts.BaseURL, "http://localhost:8080")
	timeout := durationOr(opts.Timeout, 10*time.Second)

	root := &cobra.Command{
		Use:           "tablesensectl",
		Short:         "Ask questions of a tablesense server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "tablesense API base URL")
	root.PersistentFlags().StringVar(&opts.APIKey, "api-key", opts.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "HTTP timeout (e.g. 10s)")

	newClient := func() *client {
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: timeout}
		}
		return &client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: strings.TrimSpace(opts.APIKey), http: httpClient}
	}

	var rawJSON bool
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural-language question (POST /v1/query)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			payload, err := json.Marshal(map[string]string{"query": question})
			if err != nil {
				return err
			}
			code, body, err := newClient().do(cmd.Context(), http.MethodPost, "/v1/query", payload)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if rawJSON {
				return printJSON(opts.Stdout, code, body)
			}
			return printAnswer(opts.Stdout, code, body)
		},
	}
	ask.Flags().BoolVar(&rawJSON, "json", false, "print the raw response envelope")

	root.AddCommand(
		ask,
		passthrough("health", "Service liveness (GET /v1/health)", http.MethodGet, "/v1/health", opts, newClient),
		passthrough("ready", "Index and database readiness (GET /v1/ready)", http.MethodGet, "/v1/ready", opts, newClient),
		passthrough("index", "Describe the live schema index (GET /v1/index)", http.MethodGet, "/v1/index", opts, newClient),
		passthrough("reload-index", "Swap in the latest index snapshot (POST /v1/index/reload)", http.MethodPost, "/v1/index/reload", opts, newClient),
		validateCommand(opts),
	)
	return root
}

func passthrough(use, short, method, path string, opts *Options, newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, body, err := newClient().do(cmd.Context(), method, path, nil)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			return printJSON(opts.Stdout, code, body)
		},
	}
}

func validateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check locally whether a statement would be accepted for execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			verdict := sqlguard.Validate(strings.Join(args, " "))
			if !verdict.Valid {
				return fmt.Errorf("rejected (%s): %s", verdict.Reason, verdict.Detail)
			}
			_, _ = fmt.Fprintln(opts.Stdout, pterm.Success.Sprint("accepted"))
			printBox(opts.Stdout, "Normalized", verdict.Normalized)
			return nil
		},
	}
}

type answerEnvelope struct {
	Response    string   `json:"response"`
	SQLQuery    string   `json:"sql_query"`
	Columns     []string `json:"columns"`
	QueryResult [][]any  `json:"query_result"`
	Truncated   bool     `json:"truncated"`
	Degraded    bool     `json:"degraded"`
}

func printAnswer(w io.Writer, code int, body []byte) error {
	var env answerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))
	}
	if code >= 400 {
		if env.SQLQuery != "" {
			printBox(w, "SQL", env.SQLQuery)
		}
		return fmt.Errorf("http %d: %s", code, env.Response)
	}

	if env.Degraded {
		_, _ = fmt.Fprintln(w, pterm.Warning.Sprint(env.Response))
	} else {
		printBox(w, "Answer", env.Response)
	}
	if env.SQLQuery == "" {
		return nil
	}
	printBox(w, "SQL", env.SQLQuery)
	if len(env.Columns) == 0 {
		return nil
	}
	data := pterm.TableData{env.Columns}
	for _, row := range env.QueryResult {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = formatCell(cell)
		}
		data = append(data, cells)
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, table)
	if env.Truncated {
		_, _ = fmt.Fprintln(w, pterm.Info.Sprint("result truncated at the server row limit"))
	}
	return nil
}

func printBox(w io.Writer, title, body string) {
	_, _ = fmt.Fprintln(w, pterm.DefaultBox.WithTitle(title).WithPadding(1).Sprint(body))
}

func formatCell(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(raw)
	}
}

func printJSON(w io.Writer, code int, body []byte) error {
	if code >= 400 {
		return fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(w, string(body))
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
