package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/pkg/client"
)

func TestStatusRoundTrip(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"paused": true,
			"slaves": 3,
		})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c, err := client.New(server.URL)
	require.NoError(t, err)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.Paused)
	require.Equal(t, 3, status.Slaves)
}

func TestSkipVersionPostsReason(t *testing.T) {
	var got map[string]string
	router := mux.NewRouter()
	router.HandleFunc("/control/packages/{package}/versions/{version}/skip", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "foo", mux.Vars(r)["package"])
		require.Equal(t, "1.0", mux.Vars(r)["version"])
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodPost)
	server := httptest.NewServer(router)
	defer server.Close()

	c, err := client.New(server.URL)
	require.NoError(t, err)

	require.NoError(t, c.SkipVersion(context.Background(), "foo", "1.0", "bad-build"))
	require.Equal(t, "bad-build", got["reason"])
}

func TestErrorSurfacesMasterReason(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/control/slaves/{id}/kill", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no such slave"})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c, err := client.New(server.URL)
	require.NoError(t, err)

	err = c.KillSlave(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no such slave")
}
