package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrAuthentication = errors.New("content source authentication failed")

type ContentClass string

const (
	ClassMarathon ContentClass = "marathon"
	ClassArchive  ContentClass = "archive"
	ClassOther    ContentClass = "other"
)

func ParseContentClass(raw string) (ContentClass, error) {
	switch ContentClass(strings.ToLower(strings.TrimSpace(raw))) {
	case ClassMarathon:
		return ClassMarathon, nil
	case ClassArchive:
		return ClassArchive, nil
	case ClassOther, "":
		return ClassOther, nil
	default:
		return "", fmt.Errorf("unknown content class %q", raw)
	}
}

// Ordinal is the portal's own numbering. It may differ from list order.
type Subject struct {
	ID      string
	Name    string
	Ordinal int
}

type Chapter struct {
	ID      string
	Name    string
	Ordinal int
	Subject Subject
}

type ContentType struct {
	ID    string
	Name  string
	Class ContentClass
}

type Card struct {
	Title        string
	Topic        string
	VideoPageURL string
	NotePageURL  string
}

type Credentials struct {
	User  string
	Token string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.User) == "" || strings.TrimSpace(c.Token) == ""
}

// ContentSource is the portal navigation capability. Implementations are not
// safe for concurrent use; one session owns one source.
type ContentSource interface {
	ListSubjects(ctx context.Context) ([]Subject, error)
	ListChapters(ctx context.Context, subject Subject) ([]Chapter, error)
	ListContentTypes(ctx context.Context, chapter Chapter) ([]ContentType, error)
	ListContentCards(ctx context.Context, contentType ContentType) ([]Card, error)
	// ResolveVideoURL and ResolvePDFURL return "" when the page has no
	// downloadable link.
	ResolveVideoURL(ctx context.Context, pageURL string) (string, error)
	ResolvePDFURL(ctx context.Context, pageURL string) (string, error)
	Close() error
}
