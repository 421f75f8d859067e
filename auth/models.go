package auth

import (
	"encoding/json"
	"net/http"
	"time"
)

const maxRequestBody = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string `json:"status"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Authenticated bool   `json:"authenticated"`
	Method        string `json:"method"`
}

type sessionInfoResponse struct {
	Authenticated bool      `json:"authenticated"`
	Subject       string    `json:"subject"`
	Admin         bool      `json:"admin,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type totpSetupResponse struct {
	ProvisioningURL string `json:"provisioning_url"`
}

type guestbookSignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type guestbookLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type guestbookAuthResponse struct {
	ThreadID string `json:"thread_id"`
	Username string `json:"username"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// decodeJSON parses a bounded request body into dst, rejecting unknown
// fields and trailing garbage.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid request body")
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid request body")
		return false
	}
	return true
}
