// Package client provides a Go client for the reportchain API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a reportchain API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new client. Ledger writes wait for a receipt, so the
// default timeout is generous.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Receipt is a mined transaction.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
	Fee         string `json:"fee,omitempty"`
}

// Bans is the ban status of a wallet and domain. Nil flags were not checked.
type Bans struct {
	Wallet       string `json:"wallet,omitempty"`
	WalletBanned *bool  `json:"walletBanned,omitempty"`
	Domain       string `json:"domain,omitempty"`
	DomainBanned *bool  `json:"domainBanned,omitempty"`
}

// Accusation is the result of an accusation.
type Accusation struct {
	Message              string                     `json:"message"`
	Prediction           string                     `json:"prediction"`
	Metadata             map[string]json.RawMessage `json:"metadata,omitempty"`
	BlockchainSubmission bool                       `json:"blockchainSubmission"`
	EvidenceHash         string                     `json:"evidenceHash,omitempty"`
	*Receipt
	Bans         *Bans  `json:"bans,omitempty"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// SelfReport is the result of a self-report or a reward retry.
type SelfReport struct {
	Message      string `json:"message"`
	EvidenceHash string `json:"evidenceHash"`
	Scheme       string `json:"scheme,omitempty"`
	*Receipt
	Reward       *Receipt `json:"reward"`
	SubmissionID string   `json:"submissionId,omitempty"`
}

// Report is a ledger entry.
type Report struct {
	ID            uint64 `json:"id"`
	Domain        string `json:"domain"`
	AccusedWallet string `json:"accusedWallet"`
	Reporter      string `json:"reporter"`
	EvidenceHash  string `json:"evidenceHash"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
}

// ReportList is a page of reports.
type ReportList struct {
	TotalReports string   `json:"totalReports"`
	Offset       uint64   `json:"offset"`
	Reports      []Report `json:"reports"`
}

// StatusChange is the result of verify or reject.
type StatusChange struct {
	Message        string `json:"message"`
	ReportID       uint64 `json:"reportId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	*Receipt
}

// Submission is a journal entry returned with a duplicate submission.
type Submission struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	EvidenceHash string `json:"evidenceHash"`
	Wallet       string `json:"wallet"`
	LedgerTxHash string `json:"ledgerTxHash,omitempty"`
	RewardTxHash string `json:"rewardTxHash,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Identity describes the API key the server authenticated.
type Identity struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Auth string `json:"auth"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PartialFailure is returned when a self-report reached the ledger but the
// reward registration failed. It can be retried with RetryReward.
type PartialFailure struct {
	APIError
	Ledger       *Receipt `json:"ledger"`
	EvidenceHash string   `json:"evidenceHash"`
	Reporter     string   `json:"reporter"`
	RewardTxHash string   `json:"rewardTxHash,omitempty"`
}

// Pending is returned when a transaction was sent but its receipt did not
// arrive in time.
type Pending struct {
	APIError
	TxHash string `json:"txHash"`
}

// Duplicate is returned when the same report was already submitted.
type Duplicate struct {
	APIError
	Submission *Submission `json:"submission"`
}

// SubmitAccusation classifies url and records it against accused.
func (c *Client) SubmitAccusation(ctx context.Context, reportURL, accused string) (*Accusation, error) {
	var resp Accusation
	body := map[string]string{"url": reportURL, "accusedWallet": accused}
	if err := c.post(ctx, "/api/v1/reports", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitSelfReport records url on behalf of reporter and registers the reward.
func (c *Client) SubmitSelfReport(ctx context.Context, reportURL, reporter string) (*SelfReport, error) {
	var resp SelfReport
	body := map[string]string{"url": reportURL, "reporterWallet": reporter}
	if err := c.post(ctx, "/api/v1/reports/self", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryReward re-registers the reward of a partially failed self-report.
func (c *Client) RetryReward(ctx context.Context, evidenceHash, reporter string) (*SelfReport, error) {
	var resp SelfReport
	body := map[string]string{"evidenceHash": evidenceHash, "reporterWallet": reporter}
	if err := c.post(ctx, "/api/v1/reports/self/reward", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReports returns reports [offset, offset+limit).
func (c *Client) ListReports(ctx context.Context, offset, limit uint64) (*ReportList, error) {
	var resp ReportList
	if err := c.get(ctx, "/api/v1/reports?"+pageQuery(offset, limit), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamReports reads a listing as newline-delimited JSON, yielding each
// report as it arrives. The total is reported through total when non-nil.
func (c *Client) StreamReports(ctx context.Context, offset, limit uint64, total *uint64) iter.Seq2[Report, error] {
	return func(yield func(Report, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/reports?"+pageQuery(offset, limit), nil)
		if err != nil {
			yield(Report{}, err)
			return
		}
		c.setHeaders(req)
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield(Report{}, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			yield(Report{}, c.parseError(resp))
			return
		}
		if total != nil {
			*total, _ = strconv.ParseUint(resp.Header.Get("X-Total-Reports"), 10, 64)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var probe struct {
				Error *APIError `json:"error"`
			}
			if json.Unmarshal(line, &probe) == nil && probe.Error != nil {
				probe.Error.Status = resp.StatusCode
				yield(Report{}, probe.Error)
				return
			}
			var r Report
			if err := json.Unmarshal(line, &r); err != nil {
				yield(Report{}, fmt.Errorf("decoding report: %w", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Report{}, err)
		}
	}
}

func pageQuery(offset, limit uint64) string {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	if limit > 0 {
		q.Set("limit", strconv.FormatUint(limit, 10))
	}
	return q.Encode()
}

// GetReport fetches a single report.
func (c *Client) GetReport(ctx context.Context, id uint64) (*Report, error) {
	var resp Report
	if err := c.get(ctx, "/api/v1/reports/"+strconv.FormatUint(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyReport marks a report verified.
func (c *Client) VerifyReport(ctx context.Context, id uint64) (*StatusChange, error) {
	return c.changeStatus(ctx, id, "verify")
}

// RejectReport marks a report rejected.
func (c *Client) RejectReport(ctx context.Context, id uint64) (*StatusChange, error) {
	return c.changeStatus(ctx, id, "reject")
}

func (c *Client) changeStatus(ctx context.Context, id uint64, action string) (*StatusChange, error) {
	var resp StatusChange
	path := fmt.Sprintf("/api/v1/reports/%d/%s", id, action)
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BanStatus looks up whether a wallet or domain is banned.
func (c *Client) BanStatus(ctx context.Context, wallet, domain string) (*Bans, error) {
	q := url.Values{}
	if wallet != "" {
		q.Set("wallet", wallet)
	}
	if domain != "" {
		q.Set("domain", domain)
	}
	var resp Bans
	if err := c.get(ctx, "/api/v1/bans?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/version", &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// WhoAmI returns the identity of the configured API key.
func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var resp Identity
	if err := c.get(ctx, "/api/v1/auth/whoami", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 202 and 207 carry an error envelope alongside a success status
	if resp.StatusCode >= 400 || resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusMultiStatus {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
	}

	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	envelope.Error.Status = resp.StatusCode

	switch resp.StatusCode {
	case http.StatusMultiStatus:
		pf := &PartialFailure{APIError: envelope.Error}
		if err := json.Unmarshal(data, pf); err != nil {
			return &envelope.Error
		}
		pf.APIError = envelope.Error
		return pf
	case http.StatusAccepted:
		p := &Pending{APIError: envelope.Error}
		_ = json.Unmarshal(data, p)
		p.APIError = envelope.Error
		return p
	case http.StatusConflict:
		if envelope.Error.Code == "DUPLICATE_SUBMISSION" {
			d := &Duplicate{APIError: envelope.Error}
			_ = json.Unmarshal(data, d)
			d.APIError = envelope.Error
			return d
		}
	}
	return &envelope.Error
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
