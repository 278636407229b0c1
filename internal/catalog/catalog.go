// Package catalog holds the ordered class label catalog of the model, the
// parsing of "<Plant>___<Condition>" labels into display fields, and the
// treatment advice table.
package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlantVillage is the 38-class label set in model output order.
var PlantVillage = []string{
	"Apple___Apple_scab", "Apple___Black_rot", "Apple___Cedar_apple_rust", "Apple___healthy",
	"Blueberry___healthy", "Cherry_(including_sour)___Powdery_mildew",
	"Cherry_(including_sour)___healthy", "Corn_(maize)___Cercospora_leaf_spot Gray_leaf_spot",
	"Corn_(maize)___Common_rust_", "Corn_(maize)___Northern_Leaf_Blight", "Corn_(maize)___healthy",
	"Grape___Black_rot", "Grape___Esca_(Black_Measles)", "Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	"Grape___healthy", "Orange___Haunglongbing_(Citrus_greening)", "Peach___Bacterial_spot",
	"Peach___healthy", "Pepper,_bell___Bacterial_spot", "Pepper,_bell___healthy",
	"Potato___Early_blight", "Potato___Late_blight", "Potato___healthy",
	"Raspberry___healthy", "Soybean___healthy", "Squash___Powdery_mildew",
	"Strawberry___Leaf_scorch", "Strawberry___healthy", "Tomato___Bacterial_spot",
	"Tomato___Early_blight", "Tomato___Late_blight", "Tomato___Leaf_Mold",
	"Tomato___Septoria_leaf_spot", "Tomato___Spider_mites Two-spotted_spider_mite",
	"Tomato___Target_Spot", "Tomato___Tomato_Yellow_Leaf_Curl_Virus", "Tomato___Tomato_mosaic_virus",
	"Tomato___healthy",
}

// ErrEmptyCatalog is returned when a catalog would contain no labels.
var ErrEmptyCatalog = errors.New("class catalog is empty")

// Catalog is an immutable, ordered index <-> label mapping.
type Catalog struct {
	labels []string
	index  map[string]int
	parsed []Label
}

// New builds a catalog from labels in model output order. Duplicate or
// blank labels are rejected since they would break the bijection.
func New(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
		parsed: make([]Label, len(labels)),
	}
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, fmt.Errorf("label %d is blank", i)
		}
		if prev, dup := c.index[l]; dup {
			return nil, fmt.Errorf("label %q appears at index %d and %d", l, prev, i)
		}
		c.labels[i] = l
		c.index[l] = i
		c.parsed[i] = ParseLabel(l)
	}
	return c, nil
}

// Default returns the built-in PlantVillage catalog.
func Default() *Catalog {
	c, err := New(PlantVillage)
	if err != nil {
		panic(err)
	}
	return c
}

// labelFile is the yaml shape of a catalog file.
type labelFile struct {
	Labels []string `yaml:"labels"`
}

// LoadFile reads a catalog from disk. ".yaml"/".yml" files hold either a
// top-level list or a "labels:" list; anything else is one label per line.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: catalog path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var labels []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		labels, err = parseYAMLLabels(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	default:
		labels = parseLines(data)
	}

	c, err := New(labels)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func parseYAMLLabels(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var lf labelFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	return lf.Labels, nil
}

func parseLines(data []byte) []string {
	var labels []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	return labels
}

// Len is the number of classes.
func (c *Catalog) Len() int { return len(c.labels) }

// Label returns the raw label at index i.
func (c *Catalog) Label(i int) string { return c.labels[i] }

// Parsed returns the parsed label at index i.
func (c *Catalog) Parsed(i int) Label { return c.parsed[i] }

// Index returns the position of label, or -1.
func (c *Catalog) Index(label string) int {
	if i, ok := c.index[label]; ok {
		return i
	}
	return -1
}

// Labels returns a copy of all labels in order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Plants returns the sorted distinct plant segments.
func (c *Catalog) Plants() []string {
	return c.distinct(func(l Label) (string, bool) { return l.Plant, true })
}

// Diseases returns the sorted distinct condition segments of labels that
// carry a separator.
func (c *Catalog) Diseases() []string {
	return c.distinct(func(l Label) (string, bool) { return l.Condition, l.HasSeparator })
}

func (c *Catalog) distinct(pick func(Label) (string, bool)) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, l := range c.parsed {
		v, ok := pick(l)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
