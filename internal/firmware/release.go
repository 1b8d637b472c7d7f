package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/config"
	"github.com/llll-robotics/llll/internal/types"
)

var hubSlugs = map[types.HubType]string{
	types.HubTypeInventor:  "primehub",
	types.HubTypePrime:     "primehub",
	types.HubTypeTechnic:   "technichub",
	types.HubTypeCity:      "cityhub",
	types.HubTypeEssential: "essentialhub",
	types.HubTypeMove:      "movehub",
}

// Filename is the release asset name for a hub type, or "" when the type
// has no published firmware.
func Filename(hubType types.HubType, version string) string {
	slug, ok := hubSlugs[hubType]
	if !ok {
		return ""
	}
	return fmt.Sprintf("pybricks-%s-v%s.zip", slug, strings.TrimPrefix(version, "v"))
}

type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

type Release struct {
	Version     string    `json:"version"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// AssetURL returns the download URL of the firmware for hubType.
func (r *Release) AssetURL(hubType types.HubType) string {
	name := Filename(hubType, r.Version)
	if name == "" {
		return ""
	}
	for _, a := range r.Assets {
		if a.Name == name {
			return a.DownloadURL
		}
	}
	return ""
}

// Report is the answer to "is there newer firmware for this hub".
type Report struct {
	Status      types.FirmwareStatus `json:"status"`
	HubType     types.HubType        `json:"hub_type,omitempty"`
	Current     string               `json:"current"`
	Latest      string               `json:"latest,omitempty"`
	ReleaseURL  string               `json:"release_url,omitempty"`
	DownloadURL string               `json:"download_url,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type ReleaseChecker struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewReleaseChecker(cfg config.FirmwareConfig, logger *zap.Logger) *ReleaseChecker {
	return &ReleaseChecker{
		url:    cfg.ReleaseURL,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Latest fetches the most recent published release.
func (c *ReleaseChecker) Latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup returned %s", resp.Status)
	}

	var gr githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	if gr.TagName == "" {
		return nil, fmt.Errorf("release has no tag")
	}

	return &Release{
		Version:     strings.TrimPrefix(gr.TagName, "v"),
		URL:         gr.HTMLURL,
		PublishedAt: gr.PublishedAt,
		Assets:      gr.Assets,
	}, nil
}

// Check compares installed with the latest release. A failed lookup is
// reported in the Report with status Unknown rather than as an error.
func (c *ReleaseChecker) Check(ctx context.Context, installed string, hubType types.HubType) *Report {
	report := &Report{
		Current: installed,
		HubType: hubType,
	}

	release, err := c.Latest(ctx)
	if err != nil {
		c.logger.Warn("Firmware release lookup failed", zap.Error(err))
		report.Status = Compare(installed, "")
		report.Error = err.Error()
		return report
	}

	report.Status = Compare(installed, release.Version)
	report.Latest = release.Version
	report.ReleaseURL = release.URL
	if report.Status.State == types.FirmwareUpdateAvailable {
		report.DownloadURL = release.AssetURL(hubType)
	}
	return report
}

// Download saves the file at url to dest. It only fetches the image;
// installing it is a manual step.
func (c *ReleaseChecker) Download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	client := *c.client
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download returned %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("download interrupted: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to save firmware: %w", err)
	}

	c.logger.Info("Firmware downloaded", zap.String("path", dest), zap.Int64("bytes", n))
	return n, nil
}
