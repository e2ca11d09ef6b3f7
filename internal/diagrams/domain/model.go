package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrEmptyContent    = errors.New("source content is empty")
	ErrInvalidKind     = errors.New("invalid diagram kind")
)

// Diagram owns an ordered history of versions. It carries no content of
// its own; content lives only inside versions, and CurrentVersion always
// equals the highest version number.
type Diagram struct {
	PublicID        string    `json:"public_id"`
	ProjectPublicID string    `json:"project_public_id"`
	Name            string    `json:"name"`
	Kind            Kind      `json:"kind"`
	CurrentVersion  int       `json:"current_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DiagramVersion is an immutable history entry. Version numbers are
// gapless from 1 and never reused. An empty Description means the
// generation step has not been run (or has not succeeded) for this
// version yet; it is attached lazily via a separate call.
type DiagramVersion struct {
	ID             string    `json:"id"`
	DiagramID      string    `json:"diagram_public_id"`
	VersionNumber  int       `json:"version_number"`
	SourceContent  string    `json:"source_content"`
	SourceLanguage string    `json:"source_language"`
	Description    string    `json:"description,omitempty"`
	Note           string    `json:"note,omitempty"`
	Author         string    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateVersionInput is the only payload a new version may carry. A
// description is deliberately absent: it is attached afterwards through
// its own endpoint.
type CreateVersionInput struct {
	SourceContent  string `json:"source_content"`
	Note           string `json:"note,omitempty"`
	SourceLanguage string `json:"source_language"`
	Author         string `json:"author"`
}
