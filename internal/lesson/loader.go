package lesson

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a lesson from a YAML file.
func Load(path string) (*Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lesson file: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse decodes and validates a lesson. A variant without text inherits
// the segment's normal content.
func Parse(data []byte) (*Lesson, error) {
	var l Lesson
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lesson: %w", err)
	}
	for i := range l.Segments {
		seg := &l.Segments[i]
		if seg.Simplified.Text == "" {
			seg.Simplified = seg.Normal
		}
		if seg.Advanced.Text == "" {
			seg.Advanced = seg.Normal
		}
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}
