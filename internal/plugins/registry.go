// Package plugins keeps the registry of sandboxed capability modules. The
// registry records what each plugin declares it may do and how much it may
// consume; loading and executing plugin code is the plugin host's job.
package plugins

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Default per-plugin resource caps applied when the descriptor declares none.
const (
	DefaultCPULimit    = 5.0 // percent of one core
	DefaultMemoryLimit = 50  // MB
)

// Registry holds registered plugin descriptors. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*models.PluginDescriptor
	log     *logrus.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*models.PluginDescriptor),
		log:     logrus.WithField("component", "plugins"),
	}
}

// Register validates and stores a descriptor. A missing plugin id is
// generated; missing resource caps fall back to the defaults. Registering
// an id twice is rejected.
func (r *Registry) Register(d models.PluginDescriptor) (*models.PluginDescriptor, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: plugin name is required", models.ErrValidation)
	}
	if d.CPULimit < 0 || d.MemoryLimit < 0 {
		return nil, fmt.Errorf("%w: resource limits must not be negative", models.ErrValidation)
	}
	if d.PluginID == "" {
		d.PluginID = uuid.New().String()
	}
	if d.Version == "" {
		d.Version = "1.0.0"
	}
	if d.CPULimit == 0 {
		d.CPULimit = DefaultCPULimit
	}
	if d.MemoryLimit == 0 {
		d.MemoryLimit = DefaultMemoryLimit
	}
	d.RegisteredAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[d.PluginID]; exists {
		return nil, fmt.Errorf("%w: plugin %s already registered", models.ErrValidation, d.PluginID)
	}
	r.plugins[d.PluginID] = &d

	r.log.Infof("Registered plugin %s (%s v%s) cpu=%.1f%% mem=%.0fMB",
		d.PluginID, d.Name, d.Version, d.CPULimit, d.MemoryLimit)
	out := d
	return &out, nil
}

// Get returns a copy of one descriptor.
func (r *Registry) Get(pluginID string) (*models.PluginDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: plugin %s", models.ErrNotFound, pluginID)
	}
	out := *d
	return &out, nil
}

// IsRegistered reports whether the plugin id is known.
func (r *Registry) IsRegistered(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[pluginID]
	return ok
}

// VerifyHash checks a presented hash against the registered descriptor. A
// descriptor without a recorded hash accepts any value.
func (r *Registry) VerifyHash(pluginID, hash string) error {
	d, err := r.Get(pluginID)
	if err != nil {
		return err
	}
	if d.Hash != "" && d.Hash != hash {
		return fmt.Errorf("%w: plugin %s hash mismatch", models.ErrIntegrity, pluginID)
	}
	return nil
}

// List returns all descriptors ordered by name.
func (r *Registry) List() []models.PluginDescriptor {
	r.mu.RLock()
	out := make([]models.PluginDescriptor, 0, len(r.plugins))
	for _, d := range r.plugins {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PluginID < out[j].PluginID
	})
	return out
}

// WithCapability returns the descriptors declaring the given capability.
func (r *Registry) WithCapability(capability string) []models.PluginDescriptor {
	r.mu.RLock()
	var out []models.PluginDescriptor
	for _, d := range r.plugins {
		for _, c := range d.Capabilities {
			if strings.EqualFold(c, capability) {
				out = append(out, *d)
				break
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Unregister removes a descriptor.
func (r *Registry) Unregister(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[pluginID]; !ok {
		return fmt.Errorf("%w: plugin %s", models.ErrNotFound, pluginID)
	}
	delete(r.plugins, pluginID)
	r.log.Infof("Unregistered plugin %s", pluginID)
	return nil
}
