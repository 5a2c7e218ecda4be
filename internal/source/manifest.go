package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Version  int               `yaml:"version"`
	Users    []string          `yaml:"users"`
	Subjects []manifestSubject `yaml:"subjects"`
	Resolve  map[string]string `yaml:"resolve"`
}

type manifestSubject struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Ordinal  int               `yaml:"ordinal"`
	Chapters []manifestChapter `yaml:"chapters"`
}

type manifestChapter struct {
	ID           string                `yaml:"id"`
	Name         string                `yaml:"name"`
	Ordinal      int                   `yaml:"ordinal"`
	ContentTypes []manifestContentType `yaml:"content_types"`
}

type manifestContentType struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Class string         `yaml:"class"`
	Cards []manifestCard `yaml:"cards"`
}

type manifestCard struct {
	Title     string `yaml:"title"`
	Topic     string `yaml:"topic"`
	VideoPage string `yaml:"video_page"`
	NotePage  string `yaml:"note_page"`
}

// ManifestSource serves a course tree described in a YAML file. Page URLs
// resolve through the optional resolve map and otherwise download as-is.
type ManifestSource struct {
	creds    Credentials
	manifest manifestFile

	mu       sync.Mutex
	chapters map[string]manifestChapter
	types    map[string]manifestContentType
	closed   bool
}

func LoadManifest(path string, creds Credentials) (*ManifestSource, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(payload, creds)
}

func ParseManifest(payload []byte, creds Credentials) (*ManifestSource, error) {
	var manifest manifestFile
	if err := yaml.Unmarshal(payload, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	s := &ManifestSource{
		creds:    creds,
		manifest: manifest,
		chapters: map[string]manifestChapter{},
		types:    map[string]manifestContentType{},
	}
	for si := range manifest.Subjects {
		subject := &manifest.Subjects[si]
		if subject.ID == "" {
			subject.ID = fmt.Sprintf("s%d", si+1)
		}
		if subject.Ordinal == 0 {
			subject.Ordinal = si + 1
		}
		for ci := range subject.Chapters {
			chapter := &subject.Chapters[ci]
			if chapter.ID == "" {
				chapter.ID = fmt.Sprintf("%s.c%d", subject.ID, ci+1)
			}
			if chapter.Ordinal == 0 {
				chapter.Ordinal = ci + 1
			}
			for ti := range chapter.ContentTypes {
				ct := &chapter.ContentTypes[ti]
				if _, err := ParseContentClass(ct.Class); err != nil {
					return nil, fmt.Errorf("chapter %q: %w", chapter.Name, err)
				}
				if ct.ID == "" {
					ct.ID = fmt.Sprintf("%s.t%d", chapter.ID, ti+1)
				}
				s.types[ct.ID] = *ct
			}
			s.chapters[chapter.ID] = *chapter
		}
	}
	return s, nil
}

func (s *ManifestSource) ListSubjects(ctx context.Context) ([]Subject, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if len(s.manifest.Users) > 0 {
		if s.creds.Empty() || !contains(s.manifest.Users, s.creds.User) {
			return nil, ErrAuthentication
		}
	}
	out := make([]Subject, 0, len(s.manifest.Subjects))
	for _, subject := range s.manifest.Subjects {
		out = append(out, Subject{ID: subject.ID, Name: subject.Name, Ordinal: subject.Ordinal})
	}
	return out, nil
}

func (s *ManifestSource) ListChapters(ctx context.Context, subject Subject) ([]Chapter, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	for _, candidate := range s.manifest.Subjects {
		if candidate.ID != subject.ID {
			continue
		}
		out := make([]Chapter, 0, len(candidate.Chapters))
		for _, chapter := range candidate.Chapters {
			out = append(out, Chapter{ID: chapter.ID, Name: chapter.Name, Ordinal: chapter.Ordinal, Subject: subject})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown subject %q", subject.ID)
}

func (s *ManifestSource) ListContentTypes(ctx context.Context, chapter Chapter) ([]ContentType, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	found, ok := s.chapters[chapter.ID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown chapter %q", chapter.ID)
	}
	out := make([]ContentType, 0, len(found.ContentTypes))
	for _, ct := range found.ContentTypes {
		class, _ := ParseContentClass(ct.Class)
		out = append(out, ContentType{ID: ct.ID, Name: ct.Name, Class: class})
	}
	return out, nil
}

func (s *ManifestSource) ListContentCards(ctx context.Context, contentType ContentType) ([]Card, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	found, ok := s.types[contentType.ID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown content type %q", contentType.ID)
	}
	out := make([]Card, 0, len(found.Cards))
	for _, card := range found.Cards {
		out = append(out, Card{
			Title:        card.Title,
			Topic:        card.Topic,
			VideoPageURL: card.VideoPage,
			NotePageURL:  card.NotePage,
		})
	}
	return out, nil
}

func (s *ManifestSource) ResolveVideoURL(ctx context.Context, pageURL string) (string, error) {
	return s.resolve(ctx, pageURL)
}

func (s *ManifestSource) ResolvePDFURL(ctx context.Context, pageURL string) (string, error) {
	return s.resolve(ctx, pageURL)
}

func (s *ManifestSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ManifestSource) resolve(ctx context.Context, pageURL string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return "", nil
	}
	if resolved, ok := s.manifest.Resolve[pageURL]; ok {
		return strings.TrimSpace(resolved), nil
	}
	return pageURL, nil
}

func (s *ManifestSource) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("content source closed")
	}
	return nil
}

func contains(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
