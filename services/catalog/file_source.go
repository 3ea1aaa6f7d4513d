package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"slotkeeper/models"
)

// FileSource reads a YAML catalog:
//
//	tenant: clinic-a
//	slots:
//	  - id: slot_001
//	    resource: dr-lee
//	    start: 2026-03-02T09:00:00Z
//	    end: 2026-03-02T09:30:00Z
type FileSource struct {
	Path string
}

type catalogFile struct {
	Tenant string        `yaml:"tenant"`
	Slots  []catalogSlot `yaml:"slots"`
}

type catalogSlot struct {
	ID       string    `yaml:"id"`
	Resource string    `yaml:"resource"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Blocked  bool      `yaml:"blocked"`
}

func (f FileSource) Fetch(ctx context.Context) ([]models.Slot, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", f.Path, err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(raw []byte) ([]models.Slot, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if doc.Tenant == "" {
		return nil, fmt.Errorf("parse catalog: tenant is required")
	}

	slots := make([]models.Slot, 0, len(doc.Slots))
	for _, s := range doc.Slots {
		status := models.SlotAvailable
		if s.Blocked {
			status = models.SlotBlocked
		}
		slots = append(slots, models.Slot{
			ID:         s.ID,
			TenantID:   doc.Tenant,
			ResourceID: s.Resource,
			Start:      s.Start,
			End:        s.End,
			Status:     status,
		})
	}
	return slots, nil
}
