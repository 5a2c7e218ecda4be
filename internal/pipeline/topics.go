package pipeline

import (
	"github.com/jaa/course-relay/internal/fileops"
)

// TopicStructure is subject -> chapter -> content type -> topic -> titles.
type TopicStructure map[string]map[string]map[string]map[string][]string

// Topics accumulates the structure for one run. It is only touched by the
// chapter traversal, which is sequential.
type Topics struct {
	path string
	data TopicStructure
}

func NewTopics(path string) *Topics {
	return &Topics{path: path, data: TopicStructure{}}
}

func (t *Topics) Path() string {
	return t.path
}

func (t *Topics) Add(subject, chapter, contentType, topic, title string) {
	chapters, ok := t.data[subject]
	if !ok {
		chapters = map[string]map[string]map[string][]string{}
		t.data[subject] = chapters
	}
	types, ok := chapters[chapter]
	if !ok {
		types = map[string]map[string][]string{}
		chapters[chapter] = types
	}
	topics, ok := types[contentType]
	if !ok {
		topics = map[string][]string{}
		types[contentType] = topics
	}
	for _, existing := range topics[topic] {
		if existing == title {
			return
		}
	}
	topics[topic] = append(topics[topic], title)
}

func (t *Topics) Structure() TopicStructure {
	return t.data
}

// Save overwrites the JSON file with the current structure.
func (t *Topics) Save() error {
	if t.path == "" {
		return nil
	}
	return fileops.WriteJSONAtomic(t.path, t.data)
}
