package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/shipper/shippy/network"
	"github.com/stretchr/testify/require"
)

type putRecord struct {
	Path        string
	Start       int64
	End         int64
	Total       int64
	Filename    string
	ContentType string
	Data        []byte
}

type finalizeRecord struct {
	Path string
	Form url.Values
}

// fakeIntake is an in-memory shipper server for the chunked upload endpoints.
type fakeIntake struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	algorithm string
	sessions  []network.ChunkedUpload
	sessionID string

	// rateLimits is the number of 429s sent before the next PUT is accepted.
	rateLimits     int
	putStatus      int
	putBody        string
	putLocation    string
	finalizeStatus int
	finalizeBody   string

	// dropPut is the 1-based PUT attempt whose connection is closed without a response.
	dropPut      int
	dropFinalize bool
	putAttempts  int

	puts      []putRecord
	finalizes []finalizeRecord
	disabled  []url.Values
	lists     int
}

func newFakeIntake(t *testing.T) *fakeIntake {
	f := &fakeIntake{
		t:         t,
		algorithm: "sha256",
		sessionID: "session-1",
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIntake) client() *network.Client {
	config := network.DefaultConfig(f.server.URL, "test-token")
	config.ReadRetryMax = 0
	return network.NewClient(config, log.NewLogger())
}

func (f *fakeIntake) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Token test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, network.APIPrefix)
	switch {
	case r.Method == http.MethodGet && path == "/system/info":
		f.writeJSON(w, http.StatusOK, network.SystemInfo{
			Version:                  "1.4.0",
			ShippyCompatVersion:      "0.3.0",
			ShippyUploadChecksumType: f.algorithm,
		})
	case r.Method == http.MethodGet && path == "/maintainers/chunked_upload/":
		f.lists++
		sessions := f.sessions
		if sessions == nil {
			sessions = []network.ChunkedUpload{}
		}
		f.writeJSON(w, http.StatusOK, sessions)
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/maintainers/chunked_upload/"):
		f.handlePut(w, r, path)
	case r.Method == http.MethodPost && path == "/maintainers/build/enabled_status_modify/":
		require.NoError(f.t, r.ParseForm())
		f.disabled = append(f.disabled, r.PostForm)
		f.writeJSON(w, http.StatusOK, map[string]string{})
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/maintainers/chunked_upload/"):
		require.NoError(f.t, r.ParseForm())
		if f.dropFinalize {
			f.dropConnection(w)
			return
		}
		f.finalizes = append(f.finalizes, finalizeRecord{Path: path, Form: r.PostForm})
		if f.finalizeStatus != 0 {
			w.WriteHeader(f.finalizeStatus)
			_, _ = io.WriteString(w, f.finalizeBody)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]int{"build_id": 42})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeIntake) handlePut(w http.ResponseWriter, r *http.Request, path string) {
	var record putRecord
	record.Path = path
	_, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &record.Start, &record.End, &record.Total)
	require.NoError(f.t, err)

	require.NoError(f.t, r.ParseMultipartForm(64<<20))
	record.Filename = r.MultipartForm.Value["filename"][0]
	file, header, err := r.FormFile("file")
	require.NoError(f.t, err)
	defer file.Close()
	record.ContentType = header.Header.Get("Content-Type")
	record.Data, err = io.ReadAll(file)
	require.NoError(f.t, err)

	f.putAttempts++
	if f.putAttempts == f.dropPut {
		f.dropConnection(w)
		return
	}

	f.puts = append(f.puts, record)

	if f.rateLimits > 0 {
		f.rateLimits--
		f.writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Request was throttled. Expected available in 5 seconds."})
		return
	}
	if f.putStatus != 0 {
		if f.putLocation != "" {
			w.Header().Set("Location", f.putLocation)
		}
		w.WriteHeader(f.putStatus)
		_, _ = io.WriteString(w, f.putBody)
		return
	}

	f.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     f.sessionID,
		"offset": record.End + 1,
	})
}

func (f *fakeIntake) dropConnection(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	require.True(f.t, ok)
	conn, _, err := hijacker.Hijack()
	require.NoError(f.t, err)
	require.NoError(f.t, conn.Close())
}

func (f *fakeIntake) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeIntake) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var data []byte
	for _, put := range f.puts {
		data = append(data, put.Data...)
	}
	return data
}
