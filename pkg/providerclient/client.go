/**
 * @description
 * This package provides a client for the external payment provider's
 * disbursement API. It encapsulates the logic for making authenticated HTTP
 * requests, building request bodies, and parsing responses. Approved payouts
 * are handed to the provider through this client; the provider later reports
 * the terminal status asynchronously over RabbitMQ.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the provider disbursement API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new provider API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DisbursementRequest is the payload submitted to the provider for one payout.
type DisbursementRequest struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Channel       string `json:"channel"`
	Narration     string `json:"narration"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// DisbursementResponse is the provider's synchronous acknowledgement.
type DisbursementResponse struct {
	Data struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Fee       int64  `json:"fee"`
	} `json:"data"`
}

// ErrorResponse represents an error from the provider API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("provider api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown provider api error"
}

// SubmitDisbursement hands a payout to the provider for disbursement.
func (c *Client) SubmitDisbursement(ctx context.Context, payload DisbursementRequest) (*DisbursementResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal disbursement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/disbursements", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create disbursement request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-provider-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute disbursement request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read disbursement response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=provider_client op=disburse reference=%s status=%d msg=\"non-2xx response (unparsable error body)\"", payload.Reference, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=provider_client op=disburse reference=%s status=%d title=%q detail=%q", payload.Reference, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp DisbursementResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// GetDisbursement fetches the current provider-side state of a disbursement,
// used by reconciliation when an async status event never arrives.
func (c *Client) GetDisbursement(ctx context.Context, reference string) (*DisbursementResponse, error) {
	url := c.BaseURL + "/api/v1/disbursements/" + reference

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create disbursement lookup request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-provider-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute disbursement lookup: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read disbursement lookup response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=provider_client op=get_disbursement reference=%s status=%d msg=\"non-2xx response (unparsable error body)\"", reference, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=provider_client op=get_disbursement reference=%s status=%d title=%q detail=%q", reference, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var lookupResp DisbursementResponse
	if err := json.Unmarshal(bodyBytes, &lookupResp); err != nil {
		return nil, fmt.Errorf("failed to decode disbursement lookup response: %w", err)
	}

	return &lookupResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
