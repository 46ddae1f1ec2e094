package api

import "time"

// SubmitRequest is the body of POST /api/recovery.
type SubmitRequest struct {
	// UserID identifies the account whose survey key is being recovered.
	UserID string `json:"user_id"`

	// SurveyID identifies the survey the escrowed key belongs to.
	SurveyID string `json:"survey_id"`

	// RequestedBy identifies the operator submitting on the account
	// owner's behalf.
	RequestedBy string `json:"requested_by"`
}

// SubmitResponse returns the new request's identity and the single-use
// cancel token. The token is visible here exactly once; the service keeps
// only its hash.
type SubmitResponse struct {
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	CancelToken string    `json:"cancel_token"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApproveResponse reports the request state after an approval lands.
// DelayUntil is set once dual control is complete and the mandatory delay
// has started.
type ApproveResponse struct {
	RequestID  string    `json:"request_id"`
	Status     string    `json:"status"`
	DelayUntil time.Time `json:"delay_until,omitzero"`
}

// CancelRequest is the body of POST /api/recovery/{id}/cancel. The token
// is the credential; CancelledBy only names the actor for the audit trail.
type CancelRequest struct {
	CancelToken string `json:"cancel_token"`
	CancelledBy string `json:"cancelled_by"`
}

// CancelResponse confirms the cancellation.
type CancelResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// ExecuteRequest is the body of POST /api/recovery/{id}/execute. The
// custodian's master key component authorizes the release and is wiped
// server-side after use.
type ExecuteRequest struct {
	// CustodianComponent is the custodian key component, base64 encoded.
	CustodianComponent string `json:"custodian_component"`
}

// ExecuteResponse carries the recovered key-encrypting-key, base64
// encoded. This is the only API response containing key material.
type ExecuteResponse struct {
	RequestID string `json:"request_id"`
	KEK       string `json:"kek"`
}

// StatusResponse is the requester's coarse view of their own request.
// Administrator identities and exact delay deadlines are not disclosed.
type StatusResponse struct {
	RequestID   string    `json:"request_id"`
	SurveyID    string    `json:"survey_id"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrorResponse is the JSON body of non-2xx responses.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}
