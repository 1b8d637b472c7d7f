package firmware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		installed, latest string
		want              types.FirmwareStatus
	}{
		{"3.6.1", "3.6.1", types.FirmwareStatus{State: types.FirmwareUpToDate}},
		{"3.5.0", "3.6.1", types.FirmwareStatus{State: types.FirmwareUpdateAvailable, Latest: "3.6.1"}},
		{"3.6.1", "", types.FirmwareStatus{State: types.FirmwareUnknown}},
		{"3.10.0", "3.9.9", types.FirmwareStatus{State: types.FirmwareUpToDate}},
		{"3.9.0", "3.10.0", types.FirmwareStatus{State: types.FirmwareUpdateAvailable, Latest: "3.10.0"}},
		{"3.6.0b1", "3.6.0", types.FirmwareStatus{State: types.FirmwareUpToDate}},
		{"v3.5.0", "3.5.1", types.FirmwareStatus{State: types.FirmwareUpdateAvailable, Latest: "3.5.1"}},
		{"3.6.1", "latest", types.FirmwareStatus{State: types.FirmwareUnknown}},
		{"unknown", "3.6.1", types.FirmwareStatus{State: types.FirmwareUnknown}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.installed, tt.latest), func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.installed, tt.latest))
		})
	}
}

func TestParseVersion(t *testing.T) {
	v, ok := ParseVersion("3.6.0rc2")
	require.True(t, ok)
	assert.Equal(t, Version{3, 6, 0}, v)

	v, ok = ParseVersion("4")
	require.True(t, ok)
	assert.Equal(t, Version{4, 0, 0}, v)

	_, ok = ParseVersion("3.x.1")
	assert.False(t, ok)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "pybricks-primehub-v3.6.1.zip", Filename(types.HubTypeInventor, "3.6.1"))
	assert.Equal(t, "pybricks-technichub-v3.6.1.zip", Filename(types.HubTypeTechnic, "v3.6.1"))
	assert.Empty(t, Filename(types.HubTypeUnknown, "3.6.1"))
}

func releaseServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/releases/latest":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{
				"tag_name": "v3.6.1",
				"html_url": "https://example.test/releases/v3.6.1",
				"published_at": "2025-01-02T03:04:05Z",
				"assets": [
					{"name": "pybricks-technichub-v3.6.1.zip", "browser_download_url": "%s/dl/technichub.zip", "size": 4}
				]
			}`, srv.URL)
		case "/dl/technichub.zip":
			w.Write([]byte("ZIP!"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newChecker(url string) *ReleaseChecker {
	return NewReleaseChecker(config.FirmwareConfig{ReleaseURL: url, HTTPTimeout: 5 * time.Second}, zap.NewNop())
}

func TestLatest(t *testing.T) {
	srv := releaseServer(t)

	release, err := newChecker(srv.URL + "/releases/latest").Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.6.1", release.Version)
	assert.Equal(t, srv.URL+"/dl/technichub.zip", release.AssetURL(types.HubTypeTechnic))
	assert.Empty(t, release.AssetURL(types.HubTypeCity))
}

func TestCheckUpdateAvailable(t *testing.T) {
	srv := releaseServer(t)

	report := newChecker(srv.URL+"/releases/latest").Check(context.Background(), "3.5.0", types.HubTypeTechnic)
	assert.Equal(t, types.FirmwareUpdateAvailable, report.Status.State)
	assert.Equal(t, "3.6.1", report.Latest)
	assert.Equal(t, srv.URL+"/dl/technichub.zip", report.DownloadURL)
	assert.Empty(t, report.Error)
}

func TestCheckLookupFailure(t *testing.T) {
	srv := releaseServer(t)

	report := newChecker(srv.URL+"/missing").Check(context.Background(), "3.5.0", types.HubTypeTechnic)
	assert.Equal(t, types.FirmwareUnknown, report.Status.State)
	assert.NotEmpty(t, report.Error)
}

func TestDownload(t *testing.T) {
	srv := releaseServer(t)
	dest := filepath.Join(t.TempDir(), "fw.zip")

	n, err := newChecker(srv.URL).Download(context.Background(), srv.URL+"/dl/technichub.zip", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ZIP!", string(data))
}
