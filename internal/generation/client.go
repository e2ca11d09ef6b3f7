package generation

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
	"golang.org/x/time/rate"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

const DefaultTimeout = 60 * time.Second

// Request carries everything the generation service needs to turn source
// code into a diagram description.
type Request struct {
	ProjectID      string
	SourceCode     string
	SourceLanguage string
	Kind           domain.Kind
}

// wireRequest is the service's expected body. Field names are fixed by
// the service contract.
type wireRequest struct {
	ProjectID string   `json:"project_id"`
	Codigo    string   `json:"codigo"`
	Lenguaje  string   `json:"lenguaje"`
	Diagramas []string `json:"diagramas"`
}

// wireDiagram is the per-diagram object inside any of the response shapes.
type wireDiagram struct {
	TipoDiagrama      string `json:"tipo_diagrama"`
	ContenidoPlantuml string `json:"contenido_plantuml"`
}

// Client talks to the remote generation service. It holds no mutable
// state beyond the HTTP client, so calling Generate twice with the same
// input never mutates anything persisted.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	tokens  oauth2.TokenSource
	limiter *rate.Limiter
}

// NewClient builds a client for the given service base URL. tokens
// supplies the bearer credential on every call; pass nil for services
// that accept anonymous requests (dev only).
func NewClient(baseURL string, tokens oauth2.TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Generate asks the service for the description of the requested diagram
// kind. The service's response shape is not uniform; all known shapes are
// normalized to "entry matching the requested kind, else first available
// entry, else KindNoUsableDescription".
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindTransport, Message: "rate limiter wait", Cause: err}
	}

	body, _ := json.Marshal(wireRequest{
		ProjectID: req.ProjectID,
		Codigo:    req.SourceCode,
		Lenguaje:  req.SourceLanguage,
		Diagramas: []string{string(req.Kind)},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return "", &Error{Kind: KindTransport, Message: "fetch credential", Cause: err}
		}
		tok.SetAuthHeader(httpReq)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "generation request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "read response", Cause: err}
	}

	if resp.StatusCode >= 400 {
		return "", &Error{
			Kind:    KindServerRejected,
			Status:  resp.StatusCode,
			Message: serverMessage(raw, resp.StatusCode),
		}
	}

	entries, err := normalize(raw)
	if err != nil {
		return "", err
	}
	return pick(entries, req.Kind)
}

// serverMessage digs a human-readable message out of a structured error
// body, falling back to the bare status.
func serverMessage(raw []byte, status int) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return fmt.Sprintf("status %d", status)
}

// normalize accepts the three response shapes the service is known to
// produce, tried in a fixed priority order:
//  1. tagged envelope: {"success": true, "data": [diagram, ...]}
//  2. bare list: [diagram, ...]
//  3. single diagram object
func normalize(raw []byte) ([]wireDiagram, error) {
	var env struct {
		Success *bool             `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Success != nil {
		if !*env.Success {
			return nil, &Error{Kind: KindNoUsableDescription, Message: "service reported success=false"}
		}
		out := make([]wireDiagram, 0, len(env.Data))
		for _, item := range env.Data {
			var d wireDiagram
			if err := json.Unmarshal(item, &d); err == nil {
				out = append(out, d)
			}
		}
		return out, nil
	}

	var list []wireDiagram
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var single wireDiagram
	if err := json.Unmarshal(raw, &single); err == nil && single.ContenidoPlantuml != "" {
		return []wireDiagram{single}, nil
	}

	return nil, &Error{Kind: KindNoUsableDescription, Message: "unrecognized response shape"}
}

// pick selects the entry matching the requested kind, falling back to the
// first entry that carries any description at all.
func pick(entries []wireDiagram, kind domain.Kind) (string, error) {
	for _, e := range entries {
		if e.TipoDiagrama == string(kind) && strings.TrimSpace(e.ContenidoPlantuml) != "" {
			return e.ContenidoPlantuml, nil
		}
	}
	for _, e := range entries {
		if strings.TrimSpace(e.ContenidoPlantuml) != "" {
			return e.ContenidoPlantuml, nil
		}
	}
	return "", &Error{
		Kind:    KindNoUsableDescription,
		Message: fmt.Sprintf("no description for kind %q and no fallback", kind),
	}
}
