package models

import (
	"fmt"
	"strings"
)

// Exam is one bookable analysis.
type Exam struct {
	Code string `yaml:"code" json:"code"`
	Type string `yaml:"type" json:"tipo"`
	Name string `yaml:"name" json:"nome"`
}

// Lab is a laboratory and the exams it performs.
type Lab struct {
	Name  string `yaml:"name" json:"nome"`
	Exams []Exam `yaml:"exams" json:"esami"`
}

// Catalog indexes the configured labs. A nil or empty catalog accepts any
// lab and exam.
type Catalog struct {
	labs  []Lab
	exams map[string]map[string]struct{}
}

func NewCatalog(labs []Lab) *Catalog {
	c := &Catalog{
		labs:  labs,
		exams: make(map[string]map[string]struct{}, len(labs)),
	}
	for _, lab := range labs {
		codes := make(map[string]struct{}, len(lab.Exams))
		for _, e := range lab.Exams {
			codes[strings.ToLower(e.Code)] = struct{}{}
		}
		c.exams[strings.ToLower(lab.Name)] = codes
	}
	return c
}

func (c *Catalog) Labs() []Lab {
	if c == nil {
		return []Lab{}
	}
	return append([]Lab(nil), c.labs...)
}

func (c *Catalog) Empty() bool {
	return c == nil || len(c.labs) == 0
}

// Check verifies that lab is known and performs every exam in the list.
func (c *Catalog) Check(lab string, exams []string) error {
	if c.Empty() {
		return nil
	}
	codes, ok := c.exams[strings.ToLower(lab)]
	if !ok {
		return invalid(FieldLab, fmt.Sprintf("unknown laboratory %q", lab))
	}
	for _, e := range exams {
		if _, ok := codes[strings.ToLower(e)]; !ok {
			return invalid(FieldExams, fmt.Sprintf("exam %q is not available at %s", e, lab))
		}
	}
	return nil
}
