package protect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// VideoFetcher retrieves the video for one trigger to a local temporary file
// and returns its path. The caller owns deletion of the returned file.
type VideoFetcher interface {
	Fetch(ctx context.Context, trigger types.Trigger, eventPath string, timestampMillis int64) (string, error)
}

// exportWindow pads the export range around the event timestamp so the clip
// covers the full detection, matching the controller's own event playback.
const exportWindow = 10 * time.Second

// Fetcher downloads event video exports from the Protect controller.
type Fetcher struct {
	client *Client
	creds  CredentialsSource
	cfg    config.VideoConfig
	logger *slog.Logger
}

// CredentialsSource yields the controller credentials. Satisfied by
// credentials.Provider.
type CredentialsSource interface {
	Get(ctx context.Context) (types.Credentials, error)
}

// NewFetcher creates a Fetcher writing temp files under cfg.ScratchDir.
func NewFetcher(client *Client, creds CredentialsSource, cfg config.VideoConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		creds:  creds,
		cfg:    cfg,
		logger: logger,
	}
}

// Fetch downloads the export for (trigger, eventPath, timestamp) into a temp
// file under the scratch directory and returns the file's path.
//
// The call is bounded by the configured fetch timeout in addition to any
// deadline already on ctx. All failures map to video_fetch_failed; callers
// treat them as recoverable.
func (f *Fetcher) Fetch(ctx context.Context, trigger types.Trigger, eventPath string, timestampMillis int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	creds, err := f.creds.Get(ctx)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeVideoFetch,
			"controller credentials unavailable for video fetch",
			err,
		)
	}

	req, err := f.buildExportRequest(ctx, creds, trigger, eventPath, timestampMillis)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeVideoFetch,
			fmt.Sprintf("video export request failed for event %s", trigger.EventID),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeVideoFetch,
			fmt.Sprintf("controller returned %d for video export of event %s", resp.StatusCode, trigger.EventID),
			nil,
			map[string]any{"status": resp.StatusCode, "event_id": trigger.EventID},
		)
	}

	path, err := f.writeTempFile(resp.Body, trigger)
	if err != nil {
		return "", err
	}

	f.logger.InfoContext(ctx, "video export downloaded",
		"event_id", trigger.EventID,
		"device", trigger.Device,
		"path", path,
	)
	return path, nil
}

// buildExportRequest constructs the authenticated video export request.
// When an API key is present it is preferred over basic credentials; the
// controller accepts either.
func (f *Fetcher) buildExportRequest(ctx context.Context, creds types.Credentials, trigger types.Trigger, eventPath string, timestampMillis int64) (*http.Request, error) {
	start := timestampMillis - exportWindow.Milliseconds()
	end := timestampMillis + exportWindow.Milliseconds()

	exportURL := fmt.Sprintf("https://%s/proxy/protect/api/video/export", creds.Hostname)
	q := url.Values{}
	q.Set("camera", trigger.Device)
	q.Set("start", fmt.Sprintf("%d", start))
	q.Set("end", fmt.Sprintf("%d", end))
	if eventPath != "" {
		q.Set("eventPath", eventPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeVideoFetch,
			"failed to build video export request",
			err,
		)
	}

	if key := creds.APIKey.Unmask(); key != "" {
		req.Header.Set("X-API-KEY", key)
	} else {
		req.SetBasicAuth(creds.Username, creds.Password.Unmask())
	}
	req.Header.Set("Accept", "video/mp4")

	return req, nil
}

// writeTempFile streams the response body into a scratch-dir temp file.
func (f *Fetcher) writeTempFile(body io.Reader, trigger types.Trigger) (string, error) {
	tmp, err := os.CreateTemp(f.cfg.ScratchDir, fmt.Sprintf("%s_*.mp4", trigger.EventID))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeVideoFetch,
			fmt.Sprintf("failed to create temp file in %s", f.cfg.ScratchDir),
			err,
		)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", types.NewAppError(
			types.ErrCodeVideoFetch,
			"failed to write video export to temp file",
			err,
		)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", types.NewAppError(
			types.ErrCodeVideoFetch,
			"failed to finalize video temp file",
			err,
		)
	}

	return tmp.Name(), nil
}
