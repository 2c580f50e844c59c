package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newAuthorizeServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/v1/authorize", NewHandler(f.evaluator).Mount)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, f
}

func postAuthorize(t *testing.T, srv *httptest.Server, body map[string]any) (*http.Response, authorizeResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/authorize", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var out authorizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv, f := newAuthorizeServer(t)

	resp, out := postAuthorize(t, srv, map[string]any{
		"principal": f.user.String(),
		"resource":  "data-lake/reports/q1.csv",
		"action":    "Read",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Allow", out.Decision)
	require.Equal(t, []string{f.allowID.String()}, uuidsToStrings(out.MatchedPolicyIDs))
	require.NotZero(t, out.SnapshotVersion)
}

func TestAuthorizeEndpointDenyHasEmptyArray(t *testing.T) {
	srv, f := newAuthorizeServer(t)

	resp, out := postAuthorize(t, srv, map[string]any{
		"principal": f.user.String(),
		"resource":  "unrelated/path",
		"action":    "Read",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Deny", out.Decision)
	require.Equal(t, "NoMatchingPolicy", out.Reason)
	require.NotNil(t, out.MatchedPolicyIDs)
	require.Empty(t, out.MatchedPolicyIDs)
}

func TestAuthorizeEndpointRejectsMalformedBody(t *testing.T) {
	srv, _ := newAuthorizeServer(t)

	resp, err := http.Post(srv.URL+"/v1/authorize", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorizeEndpointRequiresPrincipal(t *testing.T) {
	srv, _ := newAuthorizeServer(t)

	resp, _ := postAuthorize(t, srv, map[string]any{"resource": "x", "action": "Read"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorizeEndpointRecordsSourceIP(t *testing.T) {
	srv, f := newAuthorizeServer(t)

	_, _ = postAuthorize(t, srv, map[string]any{
		"principal": f.user.String(),
		"resource":  "data-lake/reports/q1.csv",
		"action":    "Read",
	})
	entries := f.auditor.all()
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].SourceIP)
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
