package vision

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Plant is one entry of the recognizable plant catalog.
type Plant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Catalog maps classifier output indices to plant ids. The index order
// is the catalog file order and must match the model's class order.
// Loaded once at startup and immutable afterwards.
type Catalog struct {
	plants []Plant
	byID   map[string]Plant
}

type catalogFile struct {
	Plants []Plant `json:"plants"`
}

// LoadCatalog reads the plant catalog JSON. A missing or unreadable
// catalog yields an empty catalog, not a failed startup; identification
// then degrades per the fallback policy.
func LoadCatalog(path string, logger *zap.Logger) *Catalog {
	catalog := &Catalog{byID: make(map[string]Plant)}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Plant catalog not loaded", zap.String("path", path), zap.Error(err))
		return catalog
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Error("Plant catalog unreadable", zap.String("path", path), zap.Error(err))
		return catalog
	}

	catalog.plants = file.Plants
	for _, p := range file.Plants {
		catalog.byID[p.ID] = p
	}
	logger.Info("Plant catalog loaded", zap.Int("plants", len(catalog.plants)))
	return catalog
}

// NewCatalog builds a catalog from an explicit plant list (tests,
// embedded defaults).
func NewCatalog(plants []Plant) *Catalog {
	byID := make(map[string]Plant, len(plants))
	for _, p := range plants {
		byID[p.ID] = p
	}
	return &Catalog{plants: plants, byID: byID}
}

// Len returns the number of known classes.
func (c *Catalog) Len() int { return len(c.plants) }

// ClassID maps a classifier output index to a plant id.
func (c *Catalog) ClassID(idx int) (string, bool) {
	if idx < 0 || idx >= len(c.plants) {
		return "", false
	}
	return c.plants[idx].ID, true
}

// Lookup returns catalog info for a plant id.
func (c *Catalog) Lookup(id string) (Plant, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// IDs returns the class ids in index order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.plants))
	for i, p := range c.plants {
		ids[i] = p.ID
	}
	return ids
}

func (c *Catalog) String() string {
	return fmt.Sprintf("catalog(%d plants)", len(c.plants))
}
