package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknight/gatehouse/internal/config"
	"github.com/mknight/gatehouse/internal/util"
	"github.com/mknight/gatehouse/otp"
	"github.com/mknight/gatehouse/storage/memory"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "correct horse battery staple"
	testTOTPSecret    = "JBSWY3DPEHPK3PXP"
	testRecoveryCode  = "AB12-CD34-EF56"
)

func newTestAPI(t *testing.T, opts ...Option) (*API, *httptest.Server) {
	t.Helper()

	hash, err := util.HashArgon2id(testAdminPassword, util.DefaultArgon2idParams())
	require.NoError(t, err)

	t.Setenv("GATEHOUSE_ADMIN_USERNAME", testAdminUser)
	t.Setenv("GATEHOUSE_ADMIN_PASSWORD_HASH", hash)
	t.Setenv("GATEHOUSE_TOTP_SECRET", testTOTPSecret)
	t.Setenv("GATEHOUSE_SESSION_SECRET", "session-secret-for-tests-only")
	t.Setenv("GATEHOUSE_CSRF_SECRET", "csrf-secret-for-tests-only")
	t.Setenv("GATEHOUSE_RECOVERY_CODES", testRecoveryCode)

	cfg, err := config.Load()
	require.NoError(t, err)

	store := memory.New()
	a := New(cfg, Stores{
		AdminSessions:     store.AdminSessions(),
		GuestbookSessions: store.GuestbookSessions(),
		Threads:           store.Threads(),
		RecoveryCodes:     store.RecoveryCodes(),
	}, opts...)

	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return a, ts
}

func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, rawURL string, body any, header http.Header) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, rawURL, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func cookieValue(t *testing.T, client *http.Client, rawURL, name string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// loginAndVerify walks the full two-step flow with a current TOTP code
// and returns the CSRF token for subsequent mutations.
func loginAndVerify(t *testing.T, ts *httptest.Server, client *http.Client, now time.Time) string {
	t.Helper()

	resp := postJSON(t, client, ts.URL+"/api/v1/admin/login",
		loginRequest{Username: testAdminUser, Password: testAdminPassword}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	code, err := otp.CodeAt(testTOTPSecret, now)
	require.NoError(t, err)

	resp = postJSON(t, client, ts.URL+"/api/v1/admin/verify", verifyRequest{Code: code}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[verifyResponse](t, resp)
	require.True(t, out.Authenticated)
	require.Equal(t, string(MethodTOTP), out.Method)

	token := cookieValue(t, client, ts.URL, csrfCookieName)
	require.NotEmpty(t, token)
	return token
}

func TestAdminFlow_LoginVerifySessionLogout(t *testing.T) {
	now := time.Now()
	_, ts := newTestAPI(t, WithClock(func() time.Time { return now }))
	client := newTestClient(t)

	csrfToken := loginAndVerify(t, ts, client, now)

	// Session info works with the cookie alone.
	resp, err := client.Get(ts.URL + "/api/v1/admin/session")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[sessionInfoResponse](t, resp)
	assert.Equal(t, testAdminUser, info.Subject)
	assert.True(t, info.Admin)

	// Logout is a mutation and needs the CSRF header.
	header := http.Header{CSRFHeaderName: []string{csrfToken}}
	resp = postJSON(t, client, ts.URL+"/api/v1/admin/logout", struct{}{}, header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get(ts.URL + "/api/v1/admin/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "session must be gone after logout")
}

func TestAdminLogin_UniformFailure(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	for _, req := range []loginRequest{
		{Username: testAdminUser, Password: "wrong password!"},
		{Username: "not-the-admin", Password: testAdminPassword},
	} {
		resp := postJSON(t, client, ts.URL+"/api/v1/admin/login", req, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		out := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, CodeUnauthorized, out.Code)
		assert.Equal(t, "authentication failed", out.Error, "failure message must not vary by cause")
	}
}

func TestAdminVerify_WithoutChallenge(t *testing.T) {
	now := time.Now()
	_, ts := newTestAPI(t, WithClock(func() time.Time { return now }))
	client := newTestClient(t)

	code, err := otp.CodeAt(testTOTPSecret, now)
	require.NoError(t, err)

	resp := postJSON(t, client, ts.URL+"/api/v1/admin/verify", verifyRequest{Code: code}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
		"a valid code without a prior login must not create a session")
}

func TestAdminVerify_WrongCode(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	resp := postJSON(t, client, ts.URL+"/api/v1/admin/login",
		loginRequest{Username: testAdminUser, Password: testAdminPassword}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, client, ts.URL+"/api/v1/admin/verify", verifyRequest{Code: "000000"}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The challenge is cleared on the failed attempt, so even a correct
	// code now requires a fresh login.
	code, err := otp.CodeAt(testTOTPSecret, time.Now())
	require.NoError(t, err)
	resp = postJSON(t, client, ts.URL+"/api/v1/admin/verify", verifyRequest{Code: code}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMutation_MissingCSRFHeader(t *testing.T) {
	now := time.Now()
	_, ts := newTestAPI(t, WithClock(func() time.Time { return now }))
	client := newTestClient(t)

	loginAndVerify(t, ts, client, now)

	resp := postJSON(t, client, ts.URL+"/api/v1/admin/logout", struct{}{}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	out := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, CodeCSRFFailed, out.Code)
}

func TestMutation_StaleCSRFToken(t *testing.T) {
	now := time.Now()
	_, ts := newTestAPI(t, WithClock(func() time.Time { return now }))
	client := newTestClient(t)

	oldToken := loginAndVerify(t, ts, client, now)

	header := http.Header{CSRFHeaderName: []string{oldToken}}
	resp := postJSON(t, client, ts.URL+"/api/v1/admin/logout", struct{}{}, header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// New session, new CSRF binding. Wait out the TOTP reuse window is not
	// needed since the code is still within the same step.
	loginAndVerify(t, ts, client, now)

	resp = postJSON(t, client, ts.URL+"/api/v1/admin/logout", struct{}{}, header)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode,
		"a token bound to a dead session must not work for the new one")
}

func TestAdminLogin_RateLimited(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	// Defaults allow 10 attempts per minute per client.
	for i := 0; i < 10; i++ {
		resp := postJSON(t, client, ts.URL+"/api/v1/admin/login",
			loginRequest{Username: testAdminUser, Password: "wrong"}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
		resp.Body.Close()
	}

	resp := postJSON(t, client, ts.URL+"/api/v1/admin/login",
		loginRequest{Username: testAdminUser, Password: "wrong"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "11th attempt must be limited")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	out := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, CodeRateLimited, out.Code)
	assert.Positive(t, out.RetryAfter)
}

func TestRecoveryCode_SingleUse(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	login := func() {
		resp := postJSON(t, client, ts.URL+"/api/v1/admin/login",
			loginRequest{Username: testAdminUser, Password: testAdminPassword}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	login()
	// Normalization applies: lowercase without hyphens is the same code.
	resp := postJSON(t, client, ts.URL+"/api/v1/admin/verify",
		verifyRequest{Code: "ab12cd34ef56"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[verifyResponse](t, resp)
	assert.Equal(t, string(MethodRecovery), out.Method)

	login()
	resp = postJSON(t, client, ts.URL+"/api/v1/admin/verify",
		verifyRequest{Code: testRecoveryCode}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a consumed code must not verify again")
}

func TestGuestbookFlow(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	resp := postJSON(t, client, ts.URL+"/api/v1/guestbook/signup",
		guestbookSignupRequest{Username: "Visitor-One", Password: "hunter2hunter2"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[guestbookAuthResponse](t, resp)
	assert.Equal(t, "visitor-one", created.Username, "usernames are normalized to lowercase")
	require.NotEmpty(t, created.ThreadID)

	resp, err := client.Get(ts.URL + "/api/v1/guestbook/session")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[sessionInfoResponse](t, resp)
	assert.Equal(t, created.ThreadID, info.Subject)
	assert.False(t, info.Admin)

	// Duplicate username is rejected regardless of the caller's casing.
	other := newTestClient(t)
	resp = postJSON(t, other, ts.URL+"/api/v1/guestbook/signup",
		guestbookSignupRequest{Username: "VISITOR-ONE", Password: "hunter2hunter2"}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, client, ts.URL+"/api/v1/guestbook/logout", struct{}{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, client, ts.URL+"/api/v1/guestbook/login",
		guestbookLoginRequest{Username: "visitor-one", Password: "hunter2hunter2"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reopened := decodeBody[guestbookAuthResponse](t, resp)
	assert.Equal(t, created.ThreadID, reopened.ThreadID)
}

func TestGuestbookLogin_UniformFailure(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	resp := postJSON(t, client, ts.URL+"/api/v1/guestbook/signup",
		guestbookSignupRequest{Username: "visitor", Password: "hunter2hunter2"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	for _, req := range []guestbookLoginRequest{
		{Username: "visitor", Password: "wrong password"},
		{Username: "nobody-here", Password: "hunter2hunter2"},
	} {
		resp := postJSON(t, newTestClient(t), ts.URL+"/api/v1/guestbook/login", req, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		out := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, CodeUnauthorized, out.Code)
	}
}

func TestAdminDeleteThread_CascadesSessions(t *testing.T) {
	now := time.Now()
	_, ts := newTestAPI(t, WithClock(func() time.Time { return now }))

	visitor := newTestClient(t)
	resp := postJSON(t, visitor, ts.URL+"/api/v1/guestbook/signup",
		guestbookSignupRequest{Username: "doomed", Password: "hunter2hunter2"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[guestbookAuthResponse](t, resp)

	admin := newTestClient(t)
	csrfToken := loginAndVerify(t, ts, admin, now)

	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/v1/admin/guestbook/threads/%s", ts.URL, created.ThreadID), nil)
	require.NoError(t, err)
	req.Header.Set(CSRFHeaderName, csrfToken)
	resp, err = admin.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = visitor.Get(ts.URL + "/api/v1/guestbook/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
		"deleting a thread must invalidate its sessions")

	// Deleting again reports not found.
	req, err = http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/v1/admin/guestbook/threads/%s", ts.URL, created.ThreadID), nil)
	require.NoError(t, err)
	req.Header.Set(CSRFHeaderName, csrfToken)
	resp, err = admin.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGuestbookSignup_Validation(t *testing.T) {
	_, ts := newTestAPI(t)
	client := newTestClient(t)

	cases := []struct {
		name string
		req  guestbookSignupRequest
	}{
		{"short username", guestbookSignupRequest{Username: "ab", Password: "hunter2hunter2"}},
		{"bad characters", guestbookSignupRequest{Username: "<script>", Password: "hunter2hunter2"}},
		{"short password", guestbookSignupRequest{Username: "visitor", Password: "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, client, ts.URL+"/api/v1/guestbook/signup", tc.req, nil)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
