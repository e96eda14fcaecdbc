// Package ledger reads wofi objects from an Arweave-compatible gateway.
//
// Objects are stored as ledger transactions tagged with wofi:type and
// wofi:content_id. The client lists transactions by type through the
// gateway's GraphQL endpoint, resolves content ids to transaction ids, and
// fetches raw transaction data.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultGatewayURL is used when no gateway is configured.
const DefaultGatewayURL = "https://arweave.net"

// Tag names carried by every wofi transaction.
const (
	TagType      = "wofi:type"
	TagContentID = "wofi:content_id"
)

// ErrNotFound is returned when the gateway has no matching transaction.
var ErrNotFound = errors.New("ledger: not found")

// Transaction is one entry of a paginated transaction listing.
type Transaction struct {
	ID     string
	Cursor string
}

// Client talks to a ledger gateway over HTTP.
type Client struct {
	gatewayURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for gatewayURL. An empty URL selects DefaultGatewayURL.
func New(gatewayURL string, opts ...Option) *Client {
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	c := &Client{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GatewayURL returns the normalized gateway base URL.
func (c *Client) GatewayURL() string {
	return c.gatewayURL
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Transactions struct {
			Edges []struct {
				Cursor string `json:"cursor"`
				Node   struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const listTransactionsQuery = `query($type: [String!]!, $after: String, $first: Int!) {
  transactions(tags: [{ name: "wofi:type", values: $type }], after: $after, first: $first, sort: HEIGHT_ASC) {
    edges { cursor node { id } }
  }
}`

const lookupContentIDQuery = `query($cid: [String!]!) {
  transactions(tags: [{ name: "wofi:content_id", values: $cid }], first: 1) {
    edges { node { id } }
  }
}`

// ListTransactions returns up to first transactions of wofiType in ledger
// order, starting after the opaque cursor (empty for the beginning).
// Entries without an id or cursor are dropped.
func (c *Client) ListTransactions(ctx context.Context, wofiType, after string, first int) ([]Transaction, error) {
	var afterVar any
	if after != "" {
		afterVar = after
	}
	resp, err := c.graphql(ctx, listTransactionsQuery, map[string]any{
		"type":  []string{wofiType},
		"after": afterVar,
		"first": first,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", wofiType, err)
	}

	var out []Transaction
	for _, edge := range resp.Data.Transactions.Edges {
		if edge.Node.ID == "" || edge.Cursor == "" {
			continue
		}
		out = append(out, Transaction{ID: edge.Node.ID, Cursor: edge.Cursor})
	}
	c.logger.Debug("ledger list transactions",
		"wofi_type", wofiType,
		"after", after,
		"count", len(out),
	)
	return out, nil
}

// LookupTxIDByContentID resolves the transaction carrying contentID.
// Returns ErrNotFound when no transaction is tagged with it.
func (c *Client) LookupTxIDByContentID(ctx context.Context, contentID string) (string, error) {
	resp, err := c.graphql(ctx, lookupContentIDQuery, map[string]any{
		"cid": []string{contentID},
	})
	if err != nil {
		return "", fmt.Errorf("lookup tx id %s: %w", contentID, err)
	}
	edges := resp.Data.Transactions.Edges
	if len(edges) == 0 || edges[0].Node.ID == "" {
		return "", ErrNotFound
	}
	return edges[0].Node.ID, nil
}

// GetTransactionData fetches the raw payload of txID.
// Returns ErrNotFound for a 404 from the gateway.
func (c *Client) GetTransactionData(ctx context.Context, txID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+txID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("get transaction %s: unexpected status %d", txID, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read transaction %s: %w", txID, err)
	}
	return data, nil
}

func (c *Client) graphql(ctx context.Context, query string, variables map[string]any) (*graphqlResponse, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("graphql request: unexpected status %d", res.StatusCode)
	}

	var out graphqlResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", out.Errors[0].Message)
	}
	return &out, nil
}
