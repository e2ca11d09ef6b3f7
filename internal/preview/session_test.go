package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
	"github.com/umlcraft/umlcraft-backend/internal/generation"
	"github.com/umlcraft/umlcraft-backend/internal/plantuml"
	"github.com/umlcraft/umlcraft-backend/internal/render"
)

// memStore is an in-memory Store with the same numbering rules as the
// real one.
type memStore struct {
	mu        sync.Mutex
	versions  []domain.DiagramVersion
	failNext  error // next CreateVersion fails with this
	attachErr error // AttachDescription always fails with this
}

func (s *memStore) ListVersions(ctx context.Context, projectID, diagramID string) ([]domain.DiagramVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DiagramVersion(nil), s.versions...), nil
}

func (s *memStore) CreateVersion(ctx context.Context, projectID, diagramID string, in domain.CreateVersionInput) (*domain.DiagramVersion, error) {
	if strings.TrimSpace(in.SourceContent) == "" {
		return nil, domain.ErrEmptyContent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	next := 1
	for _, v := range s.versions {
		if v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	ver := domain.DiagramVersion{
		ID:             fmt.Sprintf("dver-%d", next),
		DiagramID:      diagramID,
		VersionNumber:  next,
		SourceContent:  in.SourceContent,
		SourceLanguage: in.SourceLanguage,
		Note:           in.Note,
		Author:         in.Author,
		CreatedAt:      time.Now(),
	}
	s.versions = append(s.versions, ver)
	return &ver, nil
}

func (s *memStore) AttachDescription(ctx context.Context, projectID, diagramID string, number int, description string) (*domain.DiagramVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return nil, s.attachErr
	}
	for i := range s.versions {
		if s.versions[i].VersionNumber == number {
			s.versions[i].Description = description
			v := s.versions[i]
			return &v, nil
		}
	}
	return nil, domain.ErrVersionNotFound
}

func (s *memStore) RestoreVersion(ctx context.Context, projectID, diagramID string, number int, author string) (*domain.DiagramVersion, error) {
	s.mu.Lock()
	var target *domain.DiagramVersion
	for i := range s.versions {
		if s.versions[i].VersionNumber == number {
			target = &s.versions[i]
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return nil, domain.ErrVersionNotFound
	}
	return s.CreateVersion(ctx, projectID, diagramID, domain.CreateVersionInput{
		SourceContent:  target.SourceContent,
		SourceLanguage: target.SourceLanguage,
		Note:           fmt.Sprintf("Restored from version %d", number),
		Author:         author,
	})
}

// gateGen is a Generator whose completions the test releases by hand,
// so overlapping requests can be resolved in any order.
type gateGen struct {
	mu    sync.Mutex
	calls []chan string
	err   error
}

func (g *gateGen) Generate(ctx context.Context, req generation.Request) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.mu.Lock()
	gate := make(chan string)
	g.calls = append(g.calls, gate)
	g.mu.Unlock()
	return <-gate, nil
}

func (g *gateGen) release(call int, description string) {
	g.mu.Lock()
	gate := g.calls[call]
	g.mu.Unlock()
	gate <- description
}

// instantGen returns a fixed description immediately.
type instantGen struct {
	description string
	err         error
	calls       int
	mu          sync.Mutex
}

func (g *instantGen) Generate(ctx context.Context, req generation.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.description, nil
}

// stubRenderer resolves to a deterministic URL or fails.
type stubRenderer struct {
	exhausted   bool
	retryWorks  bool
	lastToken   string
	resolveHits int
	retryHits   int
	mu          sync.Mutex
}

func (r *stubRenderer) Resolve(ctx context.Context, token string, format plantuml.Format) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveHits++
	r.lastToken = token
	if r.exhausted {
		return "", fmt.Errorf("token %q: %w", token, render.ErrExhausted)
	}
	return "https://uml.example.com/" + string(format) + "/" + token, nil
}

func (r *stubRenderer) Retry(ctx context.Context, token string, format plantuml.Format) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryHits++
	if !r.retryWorks {
		return "", fmt.Errorf("token %q: %w", token, render.ErrExhausted)
	}
	return "https://uml.example.com/" + string(format) + "/" + token, nil
}

func seededStore(n int) *memStore {
	s := &memStore{}
	for i := 1; i <= n; i++ {
		s.versions = append(s.versions, domain.DiagramVersion{
			ID:             fmt.Sprintf("dver-%d", i),
			DiagramID:      "dgm-1",
			VersionNumber:  i,
			SourceContent:  fmt.Sprintf("class V%d {}", i),
			SourceLanguage: "java",
			Author:         "user-1",
		})
	}
	return s
}

func newTestSession(t *testing.T, store Store, gen Generator, renderer Renderer) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Deps{
		Generator: gen,
		Store:     store,
		Renderer:  renderer,
	}, "proj-1", "dgm-1", domain.KindClass, "user-1")
	require.NoError(t, err)
	return s
}

const wellFormed = "@startuml\nclass A\n@enduml"

func TestSession_LoadsCurrentVersion(t *testing.T) {
	s := newTestSession(t, seededStore(3), &instantGen{description: wellFormed}, &stubRenderer{})
	assert.Equal(t, PhaseViewing, s.Phase())
	assert.Equal(t, 3, s.Current().VersionNumber)
}

func TestSession_StartEditInitializesDraftFromCurrent(t *testing.T) {
	s := newTestSession(t, seededStore(2), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Equal(t, "class V2 {}", s.Draft().Content)
	assert.Equal(t, "java", s.Draft().Language)
}

func TestSession_StartEditTwiceIsIllegal(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	assert.ErrorIs(t, s.StartEdit(), ErrIllegalTransition)
}

func TestGenerate_Success(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())

	pv, err := s.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wellFormed, pv.Description)
	assert.NotEmpty(t, pv.Token)
	assert.Contains(t, pv.URL, pv.Token)
	assert.Equal(t, PhasePreviewReady, s.Phase())
}

func TestGenerate_LatestWinsUnderRace(t *testing.T) {
	gen := &gateGen{}
	s := newTestSession(t, seededStore(1), gen, &stubRenderer{})
	require.NoError(t, s.StartEdit())

	var wg sync.WaitGroup
	results := make([]error, 2)
	previews := make([]*Preview, 2)

	start := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			previews[i], results[i] = s.Generate(context.Background())
		}()
	}

	start(0) // request A
	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.calls) == 1
	}, time.Second, time.Millisecond)

	start(1) // request B, issued second
	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.calls) == 2
	}, time.Second, time.Millisecond)

	// B resolves first, then the slow A.
	gen.release(1, "@startuml\nclass Fast\n@enduml")
	gen.release(0, "@startuml\nclass Slow\n@enduml")
	wg.Wait()

	require.NoError(t, results[1])
	assert.Equal(t, "@startuml\nclass Fast\n@enduml", previews[1].Description)

	assert.ErrorIs(t, results[0], ErrSuperseded)
	assert.Nil(t, previews[0])

	// the session's preview reflects B, never A
	assert.Equal(t, "@startuml\nclass Fast\n@enduml", s.Preview().Description)
	assert.Equal(t, PhasePreviewReady, s.Phase())
}

func TestGenerate_FailurePreservesDraft(t *testing.T) {
	gen := &instantGen{err: &generation.Error{Kind: generation.KindTransport, Message: "boom"}}
	s := newTestSession(t, seededStore(1), gen, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class Draft {}", Note: "wip", Language: "java"}))

	_, err := s.Generate(context.Background())
	require.Error(t, err)
	assert.Equal(t, generation.KindTransport, generation.KindOf(err))

	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Equal(t, Draft{Content: "class Draft {}", Note: "wip", Language: "java"}, s.Draft())
}

func TestGenerate_InvalidDescriptionLeavesDraftUntouched(t *testing.T) {
	gen := &instantGen{description: "no-markers-here"}
	s := newTestSession(t, seededStore(1), gen, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class Draft {}", Language: "java"}))

	_, err := s.Generate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, plantuml.ErrInvalidDescription)

	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Equal(t, "class Draft {}", s.Draft().Content)
	assert.Nil(t, s.Preview())
}

func TestGenerate_RenderExhaustedKeepsTokenForRetry(t *testing.T) {
	renderer := &stubRenderer{exhausted: true, retryWorks: true}
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, renderer)
	require.NoError(t, s.StartEdit())

	_, err := s.Generate(context.Background())
	require.Error(t, err)
	assert.True(t, RenderExhausted(err))
	assert.Equal(t, PhaseEditing, s.Phase())

	pv := s.Preview()
	require.NotNil(t, pv)
	assert.NotEmpty(t, pv.Token)
	assert.Empty(t, pv.URL)

	retried, err := s.RetryRender(context.Background())
	require.NoError(t, err)
	assert.Contains(t, retried.URL, pv.Token)
	assert.Equal(t, PhasePreviewReady, s.Phase())
	assert.Equal(t, 1, renderer.retryHits)
}

func TestSave_CreatesVersionAndAttachesDescription(t *testing.T) {
	store := seededStore(1)
	s := newTestSession(t, store, &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class B {}", Note: "add B", Language: "java"}))

	ver, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ver.VersionNumber)
	assert.Equal(t, "class B {}", ver.SourceContent)
	assert.Equal(t, wellFormed, ver.Description)

	assert.Equal(t, PhaseViewing, s.Phase())
	assert.Equal(t, 2, s.Current().VersionNumber)
}

func TestSave_AttachFailureDoesNotRollBackVersion(t *testing.T) {
	store := seededStore(1)
	store.attachErr = errors.New("attach exploded")
	s := newTestSession(t, store, &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class B {}", Language: "java"}))

	ver, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ver.VersionNumber)
	assert.Empty(t, ver.Description)

	list, err := store.ListVersions(context.Background(), "proj-1", "dgm-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "class B {}", list[1].SourceContent)
	assert.Empty(t, list[1].Description)
}

func TestSave_EmptyDraftBlocked(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "   \n", Language: "java"}))

	_, err := s.Save(context.Background())
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
	assert.Equal(t, PhaseEditing, s.Phase())
}

func TestSave_CreateFailureReturnsToEditing(t *testing.T) {
	store := seededStore(1)
	store.failNext = errors.New("store down")
	s := newTestSession(t, store, &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class B {}", Language: "java"}))

	_, err := s.Save(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Equal(t, "class B {}", s.Draft().Content)
}

func TestRestore_AppendsCopyAndReloads(t *testing.T) {
	store := seededStore(3)
	s := newTestSession(t, store, &instantGen{description: wellFormed}, &stubRenderer{})
	require.Equal(t, 3, s.Current().VersionNumber)

	ver, err := s.Restore(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, ver.VersionNumber)
	assert.Equal(t, "class V1 {}", ver.SourceContent)
	assert.Equal(t, "Restored from version 1", ver.Note)

	list, err := store.ListVersions(context.Background(), "proj-1", "dgm-1")
	require.NoError(t, err)
	assert.Len(t, list, 4)

	assert.Equal(t, PhaseViewing, s.Phase())
	assert.Equal(t, 4, s.Current().VersionNumber)
}

func TestRestore_MissingTargetIsSurfaced(t *testing.T) {
	s := newTestSession(t, seededStore(2), &instantGen{description: wellFormed}, &stubRenderer{})
	_, err := s.Restore(context.Background(), 9)
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	assert.Equal(t, 2, s.Current().VersionNumber)
}

func TestCancelEdit_DropsInFlightResult(t *testing.T) {
	gen := &gateGen{}
	s := newTestSession(t, seededStore(1), gen, &stubRenderer{})
	require.NoError(t, s.StartEdit())

	var wg sync.WaitGroup
	var genErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, genErr = s.Generate(context.Background())
	}()
	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.calls) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.CancelEdit())
	assert.Equal(t, PhaseViewing, s.Phase())

	gen.release(0, wellFormed)
	wg.Wait()

	assert.ErrorIs(t, genErr, ErrSuperseded)
	assert.Equal(t, PhaseViewing, s.Phase())
	assert.Nil(t, s.Preview())
	assert.Empty(t, s.Draft().Content)
}

func TestCancelEdit_FromViewingIsIllegal(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	assert.ErrorIs(t, s.CancelEdit(), ErrIllegalTransition)
}

func TestGenerate_FromViewingIsIllegal(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	_, err := s.Generate(context.Background())
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSetDraft_ContentChangeInvalidatesPreview(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	_, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhasePreviewReady, s.Phase())

	require.NoError(t, s.SetDraft(Draft{Content: "class Changed {}", Language: "java"}))
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Nil(t, s.Preview())
}

func TestSetDraft_LanguageChangeInvalidatesPreview(t *testing.T) {
	s := newTestSession(t, seededStore(1), &instantGen{description: wellFormed}, &stubRenderer{})
	require.NoError(t, s.StartEdit())
	_, err := s.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhasePreviewReady, s.Phase())

	d := s.Draft()
	d.Language = "kotlin"
	require.NoError(t, s.SetDraft(d))
	assert.Equal(t, PhaseEditing, s.Phase())
	assert.Nil(t, s.Preview())
}

// echoGen derives the description from the submitted source, so tests
// can tell which input a description was generated from.
type echoGen struct{}

func (echoGen) Generate(ctx context.Context, req generation.Request) (string, error) {
	return "@startuml\n" + req.SourceCode + "\n@enduml", nil
}

func TestSave_DropsPreviewLeftByFailedRenderOfOlderContent(t *testing.T) {
	// A render-exhausted generate leaves the session in Editing with a
	// partial preview. Editing the content afterwards must drop that
	// preview, and the save must attach a description generated from the
	// content actually saved, not the one the preview was built from.
	store := seededStore(1)
	renderer := &stubRenderer{exhausted: true}
	s := newTestSession(t, store, echoGen{}, renderer)
	require.NoError(t, s.StartEdit())
	require.NoError(t, s.SetDraft(Draft{Content: "class Old {}", Language: "java"}))

	_, err := s.Generate(context.Background())
	require.Error(t, err)
	require.True(t, RenderExhausted(err))
	require.Equal(t, PhaseEditing, s.Phase())
	require.NotNil(t, s.Preview())

	require.NoError(t, s.SetDraft(Draft{Content: "class New {}", Language: "java"}))
	assert.Nil(t, s.Preview())

	ver, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "class New {}", ver.SourceContent)
	assert.Contains(t, ver.Description, "class New {}")
	assert.NotContains(t, ver.Description, "class Old {}")
}

func TestGenerate_UsesCacheOnRepeatInput(t *testing.T) {
	gen := &instantGen{description: wellFormed}
	cache := &mapCache{entries: map[string]string{}}
	store := seededStore(1)
	s, err := NewSession(context.Background(), Deps{
		Generator: gen,
		Store:     store,
		Renderer:  &stubRenderer{},
		Cache:     cache,
	}, "proj-1", "dgm-1", domain.KindClass, "user-1")
	require.NoError(t, err)

	require.NoError(t, s.StartEdit())
	_, err = s.Generate(context.Background())
	require.NoError(t, err)
	_, err = s.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func (c *mapCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = description
}
