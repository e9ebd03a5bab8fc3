package weights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yanqian/polyglot-score/internal/infra/modelhub"
)

const defaultHubURL = "https://huggingface.co"

// HubSource downloads snapshots from a Hugging Face compatible model hub.
type HubSource struct {
	baseURL    string
	token      string
	revision   string
	httpClient *http.Client
}

// NewHubSource constructs a hub client. The token is optional for public models.
func NewHubSource(baseURL, token string) *HubSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultHubURL
	}
	return &HubSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    strings.TrimSpace(token),
		revision: "main",
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

type hubModelInfo struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size"`
	} `json:"siblings"`
}

// Files lists the repository files through the hub model API. Sibling sizes
// are only reported with blobs=true.
func (h *HubSource) Files(ctx context.Context, modelID string) ([]modelhub.RemoteFile, error) {
	resp, err := h.get(ctx, fmt.Sprintf("%s/api/models/%s?blobs=true", h.baseURL, escapeModelID(modelID)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info hubModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	files := make([]modelhub.RemoteFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.RFilename == "" || strings.HasPrefix(s.RFilename, ".") {
			continue
		}
		files = append(files, modelhub.RemoteFile{Name: s.RFilename, Size: s.Size})
	}
	return files, nil
}

// Open streams a single file at the configured revision.
func (h *HubSource) Open(ctx context.Context, modelID, name string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/%s/resolve/%s/%s", h.baseURL, escapeModelID(modelID), h.revision, escapePath(name))
	resp, err := h.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (h *HubSource) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build hub request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request hub: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("hub request failed: status=%d body=%s", resp.StatusCode, string(snippet))
	}
	return resp, nil
}

func escapeModelID(modelID string) string {
	return escapePath(strings.Trim(modelID, "/"))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var _ modelhub.Source = (*HubSource)(nil)
