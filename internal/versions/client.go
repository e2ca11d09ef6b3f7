// Package versions is the remote-backed version store: an HTTP client
// over the version API. The remote store is the single source of truth
// for version numbering; nothing here caches or guesses numbers locally.
package versions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	BaseURL string
	HTTP    *http.Client

	tokens oauth2.TokenSource
}

// NewClient builds a store client against the version API base URL
// (everything up to and including "/projects"). tokens supplies the
// bearer credential; pass nil for anonymous dev setups.
func NewClient(baseURL string, tokens oauth2.TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		tokens:  tokens,
	}
}

// createVersionBody is deliberately a closed struct: the version API
// accepts exactly these four fields. A description never travels with a
// create call; it is attached through AttachDescription afterwards.
type createVersionBody struct {
	SourceContent  string `json:"source_content"`
	Note           string `json:"note"`
	SourceLanguage string `json:"source_language"`
	Author         string `json:"author"`
}

// NextVersionNumber asks the authoritative store what number the next
// version would get. Always re-fetched, never derived from local state:
// another session may have created versions in the meantime.
func (c *Client) NextVersionNumber(ctx context.Context, projectID, diagramID string) (int, error) {
	var out struct {
		Next int `json:"next_version"`
	}
	path := c.versionPath(projectID, diagramID, "/next")
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Next, nil
}

// ListVersions returns the full history. The API happens to return it
// newest first, but callers must not rely on that ordering; use Current
// to locate the maximum.
func (c *Client) ListVersions(ctx context.Context, projectID, diagramID string) ([]domain.DiagramVersion, error) {
	var out struct {
		Versions []domain.DiagramVersion `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, c.versionPath(projectID, diagramID, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// Current finds the version with the highest number, regardless of the
// order the store returned them in.
func Current(list []domain.DiagramVersion) (*domain.DiagramVersion, bool) {
	var cur *domain.DiagramVersion
	for i := range list {
		if cur == nil || list[i].VersionNumber > cur.VersionNumber {
			cur = &list[i]
		}
	}
	return cur, cur != nil
}

func (c *Client) GetVersion(ctx context.Context, projectID, diagramID string, number int) (*domain.DiagramVersion, error) {
	var out struct {
		Version *domain.DiagramVersion `json:"version"`
	}
	path := c.versionPath(projectID, diagramID, fmt.Sprintf("/%d", number))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

// CreateVersion appends a new version. Content emptiness is checked
// before the request goes out so the store never sees a blank save.
func (c *Client) CreateVersion(ctx context.Context, projectID, diagramID string, in domain.CreateVersionInput) (*domain.DiagramVersion, error) {
	if strings.TrimSpace(in.SourceContent) == "" {
		return nil, domain.ErrEmptyContent
	}

	body := createVersionBody{
		SourceContent:  in.SourceContent,
		Note:           in.Note,
		SourceLanguage: in.SourceLanguage,
		Author:         in.Author,
	}
	var out struct {
		Version *domain.DiagramVersion `json:"version"`
	}
	if err := c.do(ctx, http.MethodPost, c.versionPath(projectID, diagramID, ""), body, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) AttachDescription(ctx context.Context, projectID, diagramID string, number int, description string) (*domain.DiagramVersion, error) {
	body := map[string]string{"description": description}
	var out struct {
		Version *domain.DiagramVersion `json:"version"`
	}
	path := c.versionPath(projectID, diagramID, fmt.Sprintf("/%d/description", number))
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

// RestoreVersion copies an older version's content forward as a brand
// new version. History is never rewound: the target version stays
// untouched and the copy gets max+1.
func (c *Client) RestoreVersion(ctx context.Context, projectID, diagramID string, number int, author string) (*domain.DiagramVersion, error) {
	target, err := c.GetVersion(ctx, projectID, diagramID, number)
	if err != nil {
		return nil, err
	}

	return c.CreateVersion(ctx, projectID, diagramID, domain.CreateVersionInput{
		SourceContent:  target.SourceContent,
		SourceLanguage: target.SourceLanguage,
		Note:           fmt.Sprintf("Restored from version %d", number),
		Author:         author,
	})
}

func (c *Client) versionPath(projectID, diagramID, suffix string) string {
	return fmt.Sprintf("/projects/%s/diagrams/%s/versions%s", projectID, diagramID, suffix)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("fetch credential: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("version store request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError maps the store's failure statuses onto the domain sentinels
// callers branch on.
func apiError(status int, raw []byte) error {
	var env struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &env)

	switch status {
	case http.StatusNotFound:
		if strings.Contains(env.Error, "version") {
			return domain.ErrVersionNotFound
		}
		return domain.ErrNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrEmptyContent
	default:
		if env.Error != "" {
			return fmt.Errorf("version store: %s (status %d)", env.Error, status)
		}
		return fmt.Errorf("version store: status %d", status)
	}
}
