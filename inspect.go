package statectx

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StoreInfo describes one memoized store.
type StoreInfo struct {
	Name    string         `yaml:"name"`
	Readers int            `yaml:"readers"`
	Mounted bool           `yaml:"mounted"`
	Data    map[string]any `yaml:"data,omitempty"`
}

// Inspection is a point-in-time view of a scope for debugging tools.
type Inspection struct {
	Generation uint64              `yaml:"generation"`
	Stores     []StoreInfo         `yaml:"stores"`
	Instances  []InstanceInfo      `yaml:"instances,omitempty"`
	Graph      map[string][]string `yaml:"graph,omitempty"`
}

// Inspect collects every store, manager record and dependency edge. The
// manager's own store is left out of Stores.
func (s *Scope) Inspect() Inspection {
	managerStore := s.scopedName(ManagerStoreName)

	var stores []StoreInfo
	for _, name := range s.stores.Names() {
		if name == managerStore {
			continue
		}
		st, ok := s.stores.Load(name)
		if !ok {
			continue
		}
		_, mounted := s.mounted[name]
		info := StoreInfo{
			Name:    name,
			Readers: st.readers,
			Mounted: mounted,
		}
		if len(st.data) > 0 {
			info.Data = st.Snapshot()
		}
		stores = append(stores, info)
	}

	return Inspection{
		Generation: s.generation,
		Stores:     stores,
		Instances:  s.manager.Instances(),
		Graph:      s.tracker.Graph(),
	}
}

// YAML renders the inspection with two-space indentation.
func (i Inspection) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(i); err != nil {
		return nil, fmt.Errorf("marshal inspection: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal inspection: %w", err)
	}
	return buf.Bytes(), nil
}
