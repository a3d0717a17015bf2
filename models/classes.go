// Package models - Semantic detection classes and the model label mapping.
package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Class is the semantic meaning of a detection, independent of any model's
// label ordering.
type Class int

const (
	// ClassUnknown is the zero value; detections that map to it are dropped.
	ClassUnknown Class = iota
	// ClassRider is a person riding a motorcycle.
	ClassRider
	// ClassHelmet is a head wearing a helmet.
	ClassHelmet
	// ClassNoHelmet is a bare head.
	ClassNoHelmet
	// ClassPlate is a license plate.
	ClassPlate
)

// Classes lists every semantic class the association engine needs.
var Classes = []Class{ClassRider, ClassHelmet, ClassNoHelmet, ClassPlate}

// String returns the display label of the class.
func (c Class) String() string {
	switch c {
	case ClassRider:
		return "Rider"
	case ClassHelmet:
		return "Helmet"
	case ClassNoHelmet:
		return "No-Helmet"
	case ClassPlate:
		return "Plate"
	default:
		return "Unknown"
	}
}

// ParseClass resolves a label such as "rider", "No-Helmet" or "no_helmet".
func ParseClass(name string) (Class, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	switch key {
	case "rider":
		return ClassRider, nil
	case "helmet":
		return ClassHelmet, nil
	case "nohelmet":
		return ClassNoHelmet, nil
	case "plate", "licenseplate":
		return ClassPlate, nil
	default:
		return ClassUnknown, fmt.Errorf("unknown class %q", name)
	}
}

// ErrIncompleteClassMap is returned when a ClassMap cannot serve the engine.
var ErrIncompleteClassMap = errors.New("incomplete class map")

// ClassIDs names the model output index of each semantic class.
type ClassIDs struct {
	Helmet   int `json:"helmet" yaml:"helmet" mapstructure:"helmet"`
	NoHelmet int `json:"no_helmet" yaml:"no_helmet" mapstructure:"no_helmet"`
	Plate    int `json:"plate" yaml:"plate" mapstructure:"plate"`
	Rider    int `json:"rider" yaml:"rider" mapstructure:"rider"`
}

// DefaultClassIDs is the label order of the stock helmet model.
func DefaultClassIDs() ClassIDs {
	return ClassIDs{Helmet: 0, NoHelmet: 1, Plate: 2, Rider: 3}
}

// ClassMap maps raw model class indices to semantic classes.
type ClassMap map[int]Class

// NewClassMap builds a validated ClassMap from per-class ids.
func NewClassMap(ids ClassIDs) (ClassMap, error) {
	m := ClassMap{}
	pairs := []struct {
		id    int
		class Class
	}{
		{ids.Helmet, ClassHelmet},
		{ids.NoHelmet, ClassNoHelmet},
		{ids.Plate, ClassPlate},
		{ids.Rider, ClassRider},
	}
	for _, p := range pairs {
		if prev, ok := m[p.id]; ok {
			return nil, errors.Wrapf(ErrIncompleteClassMap, "id %d assigned to both %s and %s", p.id, prev, p.class)
		}
		m[p.id] = p.class
	}
	return m, m.Validate()
}

// DefaultClassMap returns the mapping for DefaultClassIDs.
func DefaultClassMap() ClassMap {
	m, _ := NewClassMap(DefaultClassIDs())
	return m
}

// Lookup returns the semantic class of a raw index.
func (m ClassMap) Lookup(id int) (Class, bool) {
	c, ok := m[id]
	if !ok || c == ClassUnknown {
		return ClassUnknown, false
	}
	return c, true
}

// Validate checks that every class in Classes has at least one id, and that
// no id is negative.
func (m ClassMap) Validate() error {
	seen := make(map[Class]bool, len(Classes))
	for id, c := range m {
		if id < 0 {
			return errors.Wrapf(ErrIncompleteClassMap, "negative class id %d", id)
		}
		seen[c] = true
	}

	var missing []string
	for _, c := range Classes {
		if !seen[c] {
			missing = append(missing, c.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Wrapf(ErrIncompleteClassMap, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Names returns the display label per raw id, for logs and overlays.
func (m ClassMap) Names() map[int]string {
	names := make(map[int]string, len(m))
	for id, c := range m {
		names[id] = c.String()
	}
	return names
}
