package recoveryhandler

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vitalform/survey-key-escrow/api"
	"github.com/vitalform/survey-key-escrow/httpserver"
)

// Client is a typed client for the recovery API.
//
// Submit, Cancel, and Status need no credentials beyond what the calls
// themselves carry. Approve and Execute sign each request with the
// configured admin key.
type Client struct {
	// BaseURL is the server address, for example "http://localhost:8080".
	BaseURL string

	// HTTPClient is the client used for requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// AdminID and PrivateKey are the admin credentials for signed calls.
	AdminID    string
	PrivateKey *ecdsa.PrivateKey
}

// Submit opens a recovery request and returns the request ID together
// with the single-use cancel token.
func (c *Client) Submit(userID, surveyID, requestedBy string) (*api.SubmitResponse, error) {
	reqBody, err := json.Marshal(api.SubmitRequest{
		UserID:      userID,
		SurveyID:    surveyID,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/recovery", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp api.SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve records the calling admin's approval on a request.
func (c *Client) Approve(requestID string) (*api.ApproveResponse, error) {
	if c.PrivateKey == nil {
		return nil, errors.New("admin credentials required for approve")
	}

	url := fmt.Sprintf("%s/api/recovery/%s/approve", c.BaseURL, requestID)
	req, err := httpserver.CreateSignedAdminRequest(http.MethodPost, url, nil, c.AdminID, c.PrivateKey)
	if err != nil {
		return nil, err
	}

	var resp api.ApproveResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a request using the token issued at submission.
func (c *Client) Cancel(requestID, cancelToken, cancelledBy string) (*api.CancelResponse, error) {
	reqBody, err := json.Marshal(api.CancelRequest{
		CancelToken: cancelToken,
		CancelledBy: cancelledBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/recovery/%s/cancel", c.BaseURL, requestID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp api.CancelResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Execute releases the escrowed key for an executable request. The
// custodian component is sent base64 encoded in the signed body.
func (c *Client) Execute(requestID string, custodianComponent []byte) (*api.ExecuteResponse, error) {
	if c.PrivateKey == nil {
		return nil, errors.New("admin credentials required for execute")
	}

	reqBody, err := json.Marshal(api.ExecuteRequest{
		CustodianComponent: base64.StdEncoding.EncodeToString(custodianComponent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/recovery/%s/execute", c.BaseURL, requestID)
	req, err := httpserver.CreateSignedAdminRequest(http.MethodPost, url, reqBody, c.AdminID, c.PrivateKey)
	if err != nil {
		return nil, err
	}

	var resp api.ExecuteResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the requester's coarse view of a request.
func (c *Client) Status(requestID, userID string) (*api.StatusResponse, error) {
	url := fmt.Sprintf("%s/api/recovery/%s/status?user_id=%s", c.BaseURL, requestID, userID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	var resp api.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request recovery API: %w", err)
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read recovery API response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("recovery API returned %d (%s): %s", resp.StatusCode, apiErr.Category, apiErr.Error)
		}
		return fmt.Errorf("recovery API returned %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("could not parse recovery API response: %w", err)
		}
	}

	return nil
}
