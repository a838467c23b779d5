package marketapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/metrics"
	"github.com/and161185/agromarket/internal/model"
)

type captured struct {
	mu   sync.Mutex
	reqs []*http.Request
	body []map[string]any
}

func (c *captured) add(r *http.Request) {
	var m map[string]any
	_ = json.NewDecoder(r.Body).Decode(&m)
	c.mu.Lock()
	c.reqs = append(c.reqs, r)
	c.body = append(c.body, m)
	c.mu.Unlock()
}

func (c *captured) last() (*http.Request, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1], c.body[len(c.body)-1]
}

func newServer(t *testing.T, seen *captured, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.add(r)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, base string, opts ...Option) *Client {
	t.Helper()
	c, err := New(base, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	seen := &captured{}
	srv := newServer(t, seen, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AuthResponse{UserID: "u1", Token: "tok", Email: "b@example.com", UserType: model.RoleBuyer})
	})
	c := newClient(t, srv.URL+"/api/")

	got, err := c.Login(context.Background(), LoginRequest{Email: "b@example.com", Password: "pw", UserType: model.RoleBuyer})
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, model.Identity{UserID: "u1", Token: "tok", Email: "b@example.com", Role: model.RoleBuyer}, got.Identity())

	req, body := seen.last()
	require.Equal(t, "/api/auth/login", req.URL.Path)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Empty(t, req.Header.Get("Authorization"))
	_, err = uuid.FromString(req.Header.Get(RequestIDHeader))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"email": "b@example.com", "password": "pw", "userType": "buyer"}, body)
}

func TestLogin_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		body any
		want error
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]string{"message": "bad credentials"}, errs.ErrUnauthorized},
		{"server error", http.StatusBadGateway, nil, errs.ErrUnavailable},
		{"incomplete", http.StatusOK, map[string]string{"userId": "u"}, errIncompleteAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, &captured{}, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tc.code, tc.body)
			})
			_, err := newClient(t, srv.URL).Login(context.Background(), LoginRequest{Email: "e", Password: "p", UserType: model.RoleFarmer})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &captured{}, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
	})
	_, err := newClient(t, srv.URL).Signup(context.Background(), SignupRequest{Name: "n", Email: "e", Password: "p", UserType: model.RoleFarmer})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusConflict, se.Code)
	require.Equal(t, "email already registered", se.Message)
	require.NotErrorIs(t, err, errs.ErrUnauthorized)
}

func TestSignup_FillsMissingFields(t *testing.T) {
	t.Parallel()
	seen := &captured{}
	srv := newServer(t, seen, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"userId": "f1", "token": "tok"})
	})

	got, err := newClient(t, srv.URL).Signup(context.Background(), SignupRequest{
		Name: "Ravi", Email: "f@example.com", Phone: "+91 90000 00000", Password: "pw", UserType: model.RoleFarmer,
	})
	require.NoError(t, err)
	require.Equal(t, model.RoleFarmer, got.UserType)
	require.Equal(t, "+91 90000 00000", got.Phone)

	req, body := seen.last()
	require.Equal(t, "/auth/signup", req.URL.Path)
	require.Equal(t, "Ravi", body["name"])
}

func TestValidateToken(t *testing.T) {
	t.Parallel()
	seen := &captured{}
	srv := newServer(t, seen, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	reg := prometheus.NewPedanticRegistry()
	c := newClient(t, srv.URL, WithRecorder(metrics.New(reg)))
	ctx := context.Background()

	require.NoError(t, c.ValidateToken(ctx, model.Identity{UserID: "u1", Token: "good", Role: model.RoleBuyer}))
	req, body := seen.last()
	require.Equal(t, "/auth/validate-token", req.URL.Path)
	require.Equal(t, map[string]any{"userId": "u1", "userType": "buyer"}, body)

	err := c.ValidateToken(ctx, model.Identity{UserID: "u1", Token: "stale", Role: model.RoleBuyer})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	require.ErrorIs(t, c.ValidateToken(ctx, model.Identity{UserID: "u1"}), errs.ErrUnauthorized)

	n, err := testutil.GatherAndCount(reg, "agm_api_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n, "one series per status code")
}

func TestValidateToken_Forbidden(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &captured{}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := newClient(t, srv.URL).ValidateToken(context.Background(), model.Identity{UserID: "u", Token: "t", Role: model.RoleFarmer})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestValidateToken_OnlyOKIsValid(t *testing.T) {
	t.Parallel()
	for _, code := range []int{http.StatusCreated, http.StatusAccepted, http.StatusNoContent} {
		srv := newServer(t, &captured{}, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		})
		err := newClient(t, srv.URL).ValidateToken(context.Background(), model.Identity{UserID: "u", Token: "t", Role: model.RoleBuyer})
		require.ErrorIs(t, err, errs.ErrUnauthorized, "status %d", code)
	}
}

func TestClient_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newClient(t, url, WithTimeout(time.Second)).ValidateToken(context.Background(), model.Identity{UserID: "u", Token: "t"})
	require.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestClient_ContextCanceled(t *testing.T) {
	t.Parallel()
	srv := newServer(t, &captured{}, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newClient(t, srv.URL).ValidateToken(ctx, model.Identity{UserID: "u", Token: "t"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := New("ftp://example.com")
	require.Error(t, err)
	_, err = New("://")
	require.Error(t, err)
}
