package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONHelpers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			var in map[string]any
			if r.Method == http.MethodPost {
				_ = json.NewDecoder(r.Body).Decode(&in)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"method": r.Method, "echo": in["pose"]})
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid pose"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	var out struct {
		Method string    `json:"method"`
		Echo   []float64 `json:"echo"`
	}
	require.NoError(t, GetJSON(ctx, srv.URL+"/ok", &out))
	assert.Equal(t, http.MethodGet, out.Method)

	require.NoError(t, PostJSON(ctx, srv.URL+"/ok", map[string]any{"pose": []float64{1, 2}}, &out))
	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, []float64{1, 2}, out.Echo)

	require.NoError(t, PostJSON(ctx, srv.URL+"/ok", nil, nil))

	err := PostJSON(ctx, srv.URL+"/bad", map[string]any{}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "http 400: invalid pose", se.Error())

	err = GetJSON(ctx, srv.URL+"/missing", nil)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "http 404", se.Error())
}
