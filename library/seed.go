package library

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is a seed file: accounts, categories and the books shelved in them.
type Catalog struct {
	Users      []Registration `yaml:"users"`
	Categories []string       `yaml:"categories"`
	Books      []CatalogBook  `yaml:"books"`
}

// CatalogBook names its category instead of referencing an id.
type CatalogBook struct {
	Title    string     `yaml:"title"`
	Author   string     `yaml:"author"`
	Category string     `yaml:"category"`
	ISBN     string     `yaml:"isbn"`
	Status   BookStatus `yaml:"status"`
}

// SeedReport counts what a Seed call did.
type SeedReport struct {
	Users      int
	Categories int
	Books      int
	Skipped    int
}

// LoadCatalog decodes a YAML catalog, rejecting unknown keys.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i := range c.Users {
		c.Users[i].Role = Role(strings.ToLower(string(c.Users[i].Role)))
	}
	return &c, nil
}

// Seed loads c into the library. Rows that already exist are skipped, so a
// catalog can be applied more than once. Categories referenced only by books
// are created on the fly.
func (lm *LibraryManager) Seed(c *Catalog) (SeedReport, error) {
	var report SeedReport

	for _, reg := range c.Users {
		if _, err := lm.Register(reg); err != nil {
			if isDuplicate(err) {
				report.Skipped++
				continue
			}
			return report, fmt.Errorf("user %q: %w", reg.Username, err)
		}
		report.Users++
	}

	categories := make(map[string]int64)
	category := func(name string) (int64, error) {
		name = strings.TrimSpace(name)
		if id, ok := categories[name]; ok {
			return id, nil
		}
		existing, err := lm.db.CategoryByName(name)
		switch {
		case err == nil:
			categories[name] = existing.ID
			return existing.ID, nil
		case !errors.Is(err, ErrNotFound):
			return 0, err
		}
		created, err := lm.AddCategory(name)
		if err != nil {
			return 0, err
		}
		report.Categories++
		categories[name] = created.ID
		return created.ID, nil
	}

	for _, name := range c.Categories {
		if _, err := category(name); err != nil {
			return report, fmt.Errorf("category %q: %w", name, err)
		}
	}

	for _, b := range c.Books {
		id, err := category(b.Category)
		if err != nil {
			return report, fmt.Errorf("book %q: category %q: %w", b.Title, b.Category, err)
		}
		nb := NewBook{Title: b.Title, Author: b.Author, Category: id, ISBN: b.ISBN, Status: b.Status}
		if _, err := lm.AddBook(nb); err != nil {
			if isDuplicate(err) {
				report.Skipped++
				continue
			}
			return report, fmt.Errorf("book %q: %w", b.Title, err)
		}
		report.Books++
	}
	return report, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrInvalid) && strings.Contains(err.Error(), "already exists")
}
