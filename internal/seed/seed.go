// Package seed loads event fixtures from YAML.
//
// A fixture file is a list of events:
//
//	- title: Warehouse Night
//	  organizer: Basement Collective
//	  dateTime: 2031-06-07T22:00
//	  description: bring earplugs
//	  image: flyers/warehouse.png
//
// image is optional and relative to the fixture file.
package seed

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

// Fixture is one event to create.
type Fixture struct {
	feed.EventDraft `yaml:",inline"`
	ImageFile       string `yaml:"image"`
}

// Load parses a fixture list. Every entry needs a title and a dateTime the
// feed can parse; unknown keys are rejected.
func Load(r io.Reader) ([]Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Fixture
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return []Fixture{}, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	for i, f := range out {
		if strings.TrimSpace(f.Title) == "" {
			return nil, fmt.Errorf("fixture %d: %w: title is required", i, model.ErrValidation)
		}
		if _, err := model.ParseDateTime(f.DateTime, nil); err != nil {
			return nil, fmt.Errorf("fixture %d (%s): %w", i, f.Title, err)
		}
	}
	return out, nil
}

// LoadFile reads a fixture file from disk.
func LoadFile(path string) ([]Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Draft returns the fixture ready for CreateEvent. When an image is named
// it is opened relative to dir and the caller must close the returned file.
func (f Fixture) Draft(dir string) (feed.EventDraft, io.Closer, error) {
	d := f.EventDraft
	if f.ImageFile == "" {
		return d, io.NopCloser(nil), nil
	}
	p := f.ImageFile
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	img, file, err := OpenImage(p)
	if err != nil {
		return feed.EventDraft{}, nil, fmt.Errorf("fixture %s: %w", f.Title, err)
	}
	d.Image = img
	return d, file, nil
}

// OpenImage opens path as an upload body, typed by its extension.
func OpenImage(path string) (*feed.Image, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &feed.Image{Body: file, ContentType: ct}, file, nil
}
