// Package preview drives the edit/generate/save pipeline for one diagram
// view: it holds the draft, asks the generation service for a PlantUML
// description, encodes it into a render token, resolves an image URL and
// persists accepted drafts as new immutable versions.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
	"github.com/umlcraft/umlcraft-backend/internal/generation"
	"github.com/umlcraft/umlcraft-backend/internal/plantuml"
	"github.com/umlcraft/umlcraft-backend/internal/render"
)

var (
	// ErrSuperseded marks a generation result that arrived after a newer
	// request was issued. The session state is untouched in that case.
	ErrSuperseded = errors.New("generation result superseded by a newer request")

	// ErrIllegalTransition is returned when an operation is invoked in a
	// phase that does not allow it.
	ErrIllegalTransition = errors.New("operation not allowed in current session phase")

	// ErrNoVersions means the diagram has no history at all, which the
	// store should never let happen.
	ErrNoVersions = errors.New("diagram has no versions")
)

// Phase is the session's position in the pipeline state machine.
type Phase string

const (
	PhaseViewing      Phase = "viewing"
	PhaseEditing      Phase = "editing"
	PhaseGenerating   Phase = "generating"
	PhasePreviewReady Phase = "preview_ready"
	PhaseSaving       Phase = "saving"
)

// Generator produces a diagram description from source code.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

// Store is the remote-backed version store the session persists through.
type Store interface {
	ListVersions(ctx context.Context, projectID, diagramID string) ([]domain.DiagramVersion, error)
	CreateVersion(ctx context.Context, projectID, diagramID string, in domain.CreateVersionInput) (*domain.DiagramVersion, error)
	AttachDescription(ctx context.Context, projectID, diagramID string, number int, description string) (*domain.DiagramVersion, error)
	RestoreVersion(ctx context.Context, projectID, diagramID string, number int, author string) (*domain.DiagramVersion, error)
}

// Renderer resolves a token into an image URL.
type Renderer interface {
	Resolve(ctx context.Context, token string, format plantuml.Format) (string, error)
	Retry(ctx context.Context, token string, format plantuml.Format) (string, error)
}

// Preview is the cached outcome of a successful generate. The unexported
// fields remember the generation input, so a preview is never mistaken
// for one belonging to a different draft.
type Preview struct {
	Description string `json:"description"`
	Token       string `json:"token"`
	URL         string `json:"url"`

	forContent  string
	forLanguage string
}

// Draft is the editable state of the session.
type Draft struct {
	Content  string `json:"content"`
	Note     string `json:"note"`
	Language string `json:"language"`
}

// Session is the per-diagram-view state machine. All operations are safe
// for concurrent use; network calls run outside the lock so overlapping
// generate requests can race, with latest-wins applied at resolution.
type Session struct {
	ID string

	projectID string
	diagramID string
	kind      domain.Kind
	author    string

	gen      Generator
	store    Store
	renderer Renderer
	cache    DescriptionCache // optional, nil disables caching

	mu         sync.Mutex
	phase      Phase
	current    *domain.DiagramVersion
	draft      Draft
	preview    *Preview
	reqSeq     int64
	latestReq  int64 // zero means no outstanding request
	lastActive time.Time
}

// Deps bundles the session's collaborators. Credentials live inside the
// injected clients, never in ambient globals.
type Deps struct {
	Generator Generator
	Store     Store
	Renderer  Renderer
	Cache     DescriptionCache
}

// NewSession builds a session for one diagram and loads its current
// version from the store.
func NewSession(ctx context.Context, deps Deps, projectID, diagramID string, kind domain.Kind, author string) (*Session, error) {
	s := &Session{
		ID:        uuid.New().String(),
		projectID: projectID,
		diagramID: diagramID,
		kind:      kind,
		author:    author,
		gen:       deps.Generator,
		store:     deps.Store,
		renderer:  deps.Renderer,
		cache:     deps.Cache,
		phase:     PhaseViewing,
	}
	s.lastActive = time.Now()
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reload fetches the history and points the session at the maximum
// version. Callers must not hold s.mu.
func (s *Session) reload(ctx context.Context) error {
	list, err := s.store.ListVersions(ctx, s.projectID, s.diagramID)
	if err != nil {
		return fmt.Errorf("load versions: %w", err)
	}

	var cur *domain.DiagramVersion
	for i := range list {
		if cur == nil || list[i].VersionNumber > cur.VersionNumber {
			cur = &list[i]
		}
	}
	if cur == nil {
		return ErrNoVersions
	}

	s.mu.Lock()
	s.current = cur
	s.mu.Unlock()
	return nil
}

func (s *Session) touch() { s.lastActive = time.Now() }

// Phase reports the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Current returns the version the session is viewing.
func (s *Session) Current() *domain.DiagramVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Draft returns the editable state.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Preview returns the latest generated preview, or nil.
func (s *Session) Preview() *Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// IdleSince reports the time of the last operation, for pruning.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// StartEdit moves Viewing -> Editing, initializing the draft from the
// current version's content.
func (s *Session) StartEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase != PhaseViewing {
		return fmt.Errorf("%w: start edit in %s", ErrIllegalTransition, s.phase)
	}
	s.draft = Draft{
		Content:  s.current.SourceContent,
		Language: s.current.SourceLanguage,
	}
	s.preview = nil
	s.phase = PhaseEditing
	return nil
}

// SetDraft replaces the draft. Changing the content or language drops
// any held preview, since it no longer matches what would be generated.
// That includes the partial token a failed render left behind.
func (s *Session) SetDraft(d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.phase != PhaseEditing && s.phase != PhasePreviewReady {
		return fmt.Errorf("%w: set draft in %s", ErrIllegalTransition, s.phase)
	}
	if d.Content != s.draft.Content || d.Language != s.draft.Language {
		s.preview = nil
		if s.phase == PhasePreviewReady {
			s.phase = PhaseEditing
		}
	}
	s.draft = d
	return nil
}

// CancelEdit discards the draft with no persisted change. Any in-flight
// generation keeps running and its result is dropped harmlessly by the
// latest-wins check.
func (s *Session) CancelEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	switch s.phase {
	case PhaseEditing, PhasePreviewReady, PhaseGenerating:
	default:
		return fmt.Errorf("%w: cancel edit in %s", ErrIllegalTransition, s.phase)
	}
	s.latestReq = 0
	s.draft = Draft{}
	s.preview = nil
	s.phase = PhaseViewing
	return nil
}

// Generate runs the draft through the generation service and, on
// success, through the codec and the render resolver. Each call gets a
// monotonically increasing request id; when a result arrives it is
// applied only if its id is still the latest outstanding one, so a slow
// earlier request can never overwrite a faster later one.
func (s *Session) Generate(ctx context.Context) (*Preview, error) {
	s.mu.Lock()
	switch s.phase {
	case PhaseEditing, PhasePreviewReady, PhaseGenerating:
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: generate in %s", ErrIllegalTransition, s.phase)
	}
	s.touch()
	s.reqSeq++
	reqID := s.reqSeq
	s.latestReq = reqID
	s.phase = PhaseGenerating
	req := generation.Request{
		ProjectID:      s.projectID,
		SourceCode:     s.draft.Content,
		SourceLanguage: s.draft.Language,
		Kind:           s.kind,
	}
	s.mu.Unlock()

	pv, genErr := s.buildPreview(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if reqID != s.latestReq {
		// A newer request (or a cancel) owns the session now.
		return nil, ErrSuperseded
	}
	s.latestReq = 0

	if genErr != nil {
		// Draft preserved verbatim, session back to a stable phase.
		s.phase = PhaseEditing
		if pv != nil {
			// Description generated but the render step failed; keep the
			// token so RetryRender can pick it up.
			s.preview = pv
		}
		return nil, genErr
	}

	s.preview = pv
	s.phase = PhasePreviewReady
	return pv, nil
}

// buildPreview performs the suspendable part of generate: service call
// (through the cache), encode, resolve. Runs without holding s.mu. On a
// render failure the partially built preview is returned alongside the
// error so the caller can keep the token for an explicit retry.
func (s *Session) buildPreview(ctx context.Context, req generation.Request) (*Preview, error) {
	description, err := s.lookupOrGenerate(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := plantuml.Encode(description)
	if err != nil {
		return nil, err
	}

	pv := &Preview{
		Description: description,
		Token:       token,
		forContent:  req.SourceCode,
		forLanguage: req.SourceLanguage,
	}

	url, err := s.renderer.Resolve(ctx, token, plantuml.FormatVector)
	if err != nil {
		return pv, err
	}
	pv.URL = url
	return pv, nil
}

func (s *Session) lookupOrGenerate(ctx context.Context, req generation.Request) (string, error) {
	key := CacheKey(req.Kind, req.SourceLanguage, req.SourceCode)
	if s.cache != nil {
		if description, ok := s.cache.Get(ctx, key); ok {
			return description, nil
		}
	}

	description, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, description)
	}
	return description, nil
}

// RetryRender restarts the render attempt from the first server for the
// current preview token. Only meaningful after a render failure left the
// session in Editing with a token but no URL.
func (s *Session) RetryRender(ctx context.Context) (*Preview, error) {
	s.mu.Lock()
	if s.preview == nil || s.preview.Token == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no render token to retry", ErrIllegalTransition)
	}
	pv := *s.preview
	s.mu.Unlock()

	url, err := s.renderer.Retry(ctx, pv.Token, plantuml.FormatVector)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if err != nil {
		return nil, err
	}
	pv.URL = url
	s.preview = &pv
	s.phase = PhasePreviewReady
	return &pv, nil
}

// Save persists the draft as a new version, then best-effort attaches a
// freshly generated description to it. The version is the durable unit:
// a failed attach is logged and swallowed, never rolled back.
func (s *Session) Save(ctx context.Context) (*domain.DiagramVersion, error) {
	s.mu.Lock()
	if s.phase != PhaseEditing && s.phase != PhasePreviewReady {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: save in %s", ErrIllegalTransition, s.phase)
	}
	s.touch()
	prev := s.phase
	draft := s.draft
	s.phase = PhaseSaving
	s.mu.Unlock()

	ver, err := s.store.CreateVersion(ctx, s.projectID, s.diagramID, domain.CreateVersionInput{
		SourceContent:  draft.Content,
		Note:           draft.Note,
		SourceLanguage: draft.Language,
		Author:         s.author,
	})
	if err != nil {
		s.mu.Lock()
		s.phase = prev
		s.mu.Unlock()
		return nil, err
	}

	if description := s.descriptionFor(ctx, draft); description != "" {
		attached, attachErr := s.store.AttachDescription(ctx, s.projectID, s.diagramID, ver.VersionNumber, description)
		if attachErr != nil {
			log.Printf("[warn] operation=attach_description diagram=%s version=%d error=%v",
				s.diagramID, ver.VersionNumber, attachErr)
		} else {
			ver = attached
		}
	}

	s.mu.Lock()
	s.current = ver
	s.draft = Draft{}
	s.preview = nil
	s.latestReq = 0
	s.phase = PhaseViewing
	s.mu.Unlock()
	return ver, nil
}

// descriptionFor supplies the description to attach after a save:
// the current preview if it was generated from exactly the saved draft,
// otherwise a fresh generation. Failures here are not the caller's
// problem.
func (s *Session) descriptionFor(ctx context.Context, draft Draft) string {
	s.mu.Lock()
	pv := s.preview
	s.mu.Unlock()

	if pv != nil && pv.Description != "" &&
		pv.forContent == draft.Content && pv.forLanguage == draft.Language {
		return pv.Description
	}

	description, err := s.lookupOrGenerate(ctx, generation.Request{
		ProjectID:      s.projectID,
		SourceCode:     draft.Content,
		SourceLanguage: draft.Language,
		Kind:           s.kind,
	})
	if err != nil {
		log.Printf("[warn] operation=post_save_generate diagram=%s error=%v", s.diagramID, err)
		return ""
	}
	return description
}

// Restore copies an older version forward as a new one and reloads the
// session from the new current.
func (s *Session) Restore(ctx context.Context, number int) (*domain.DiagramVersion, error) {
	s.mu.Lock()
	if s.phase != PhaseViewing {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: restore in %s", ErrIllegalTransition, s.phase)
	}
	s.touch()
	s.mu.Unlock()

	ver, err := s.store.RestoreVersion(ctx, s.projectID, s.diagramID, number, s.author)
	if err != nil {
		return nil, err
	}

	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return ver, nil
}

// RenderExhausted reports whether err is the resolver's terminal failure,
// the one that warrants offering an explicit retry.
func RenderExhausted(err error) bool {
	return errors.Is(err, render.ErrExhausted)
}
