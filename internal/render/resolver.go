package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/umlcraft/umlcraft-backend/internal/plantuml"
)

// ErrExhausted means every configured render server failed for the
// token. It is terminal: automatic retries stop until the caller invokes
// Retry explicitly.
var ErrExhausted = errors.New("all render servers exhausted")

// ErrNoServers means the resolver was built without any server.
var ErrNoServers = errors.New("no render servers configured")

const probeTimeout = 15 * time.Second

// State tracks a rendering attempt for one token.
type State string

const (
	StateIdle      State = "idle"
	StateRequested State = "requested"
	StateLoaded    State = "loaded"
	StateExhausted State = "exhausted"
)

// attempt is the sticky per-token outcome. Tokens are independent: one
// token exhausting the servers says nothing about another.
type attempt struct {
	index int
	state State
	url   string
}

// Resolver turns render tokens into usable image URLs against a
// prioritized server list, advancing to the next server only when the
// previous one fails to serve the image. One resolver is shared by all
// sessions; outcomes are kept per token.
type Resolver struct {
	HTTP *http.Client

	servers []string

	mu     sync.Mutex
	tokens map[string]*attempt
}

func NewResolver(servers []string) *Resolver {
	return &Resolver{
		HTTP:    &http.Client{Timeout: probeTimeout},
		servers: servers,
		tokens:  make(map[string]*attempt),
	}
}

// Resolve produces an image URL for the token. Results are sticky: a
// token already loaded returns its cached URL, and a token that already
// exhausted every server keeps failing with ErrExhausted until Retry.
func (r *Resolver) Resolve(ctx context.Context, token string, format plantuml.Format) (string, error) {
	if len(r.servers) == 0 {
		return "", ErrNoServers
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.tokens[token]
	if !ok {
		a = &attempt{state: StateIdle}
		r.tokens[token] = a
	}

	switch a.state {
	case StateLoaded:
		return a.url, nil
	case StateExhausted:
		return "", fmt.Errorf("token %q: %w", token, ErrExhausted)
	}

	return r.walk(ctx, a, token, format)
}

// Retry restarts the attempt from the first server for the token. It is
// the only way out of StateExhausted.
func (r *Resolver) Retry(ctx context.Context, token string, format plantuml.Format) (string, error) {
	if len(r.servers) == 0 {
		return "", ErrNoServers
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a := &attempt{state: StateIdle}
	r.tokens[token] = a

	return r.walk(ctx, a, token, format)
}

// State reports the state of the token's attempt.
func (r *Resolver) State(token string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.tokens[token]; ok {
		return a.state
	}
	return StateIdle
}

// walk tries servers from the attempt's current index. Caller holds r.mu.
func (r *Resolver) walk(ctx context.Context, a *attempt, token string, format plantuml.Format) (string, error) {
	a.state = StateRequested

	for ; a.index < len(r.servers); a.index++ {
		url := plantuml.URLFor(r.servers[a.index], token, format)
		if err := r.probe(ctx, url); err != nil {
			continue
		}
		a.state = StateLoaded
		a.url = url
		return url, nil
	}

	a.state = StateExhausted
	return "", fmt.Errorf("token %q: %w", token, ErrExhausted)
}

// probe checks that the server actually serves the image. PlantUML
// servers do not support HEAD for all formats, so this is a GET with a
// discarded body.
func (r *Resolver) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("render server returned status %d", resp.StatusCode)
	}
	return nil
}
