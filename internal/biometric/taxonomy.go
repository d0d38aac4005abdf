package biometric

import "fmt"

// ClassCategory is the role an object-detector class plays in the liveness policy.
type ClassCategory int

const (
	CategoryIgnored ClassCategory = iota
	CategoryDevice
	CategoryOcclusionAccessory
	CategoryAllowedAccessory
	CategorySuspiciousObject
)

func (c ClassCategory) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryOcclusionAccessory:
		return "occlusion_accessory"
	case CategoryAllowedAccessory:
		return "allowed_accessory"
	case CategorySuspiciousObject:
		return "suspicious_object"
	default:
		return "ignored"
	}
}

// ClassInfo names one detector class and its policy category.
type ClassInfo struct {
	ID       int
	Name     string
	Category ClassCategory
}

// Taxonomy is the fixed class-id table consulted by the liveness classifier.
// Class ids absent from the table are ignored.
type Taxonomy struct {
	classes map[int]ClassInfo
}

// NewTaxonomy builds a taxonomy, rejecting ids listed twice.
func NewTaxonomy(entries ...ClassInfo) (*Taxonomy, error) {
	classes := make(map[int]ClassInfo, len(entries))
	for _, entry := range entries {
		if prev, ok := classes[entry.ID]; ok {
			return nil, fmt.Errorf("class id %d already mapped to %s (%s)", entry.ID, prev.Name, prev.Category)
		}
		if entry.Name == "" {
			entry.Name = fmt.Sprintf("class_%d", entry.ID)
		}
		classes[entry.ID] = entry
	}
	return &Taxonomy{classes: classes}, nil
}

// Lookup returns the class info for id. Unknown ids come back as CategoryIgnored.
func (t *Taxonomy) Lookup(id int) ClassInfo {
	if t != nil {
		if info, ok := t.classes[id]; ok {
			return info
		}
	}
	return ClassInfo{ID: id, Name: fmt.Sprintf("class_%d", id), Category: CategoryIgnored}
}

// Len reports how many classes are mapped.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.classes)
}
