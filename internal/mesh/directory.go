package mesh

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Hard caps applied when an agent is registered as a mesh resource.
const (
	AgentCPUCap    = 0.27 // fraction of one core
	AgentMemoryCap = 827  // MB
)

// Directory indexes the resources known to one node. Local entries are
// authoritative; remote entries are learned from peer announcements and
// carry the advertising peer id. The two namespaces are disjoint in lookups
// even when ids collide.
type Directory struct {
	mu     sync.RWMutex
	nodeID string
	local  map[string]*models.MeshResource
	remote map[string]*models.MeshResource
	log    *logrus.Entry
}

// NewDirectory creates an empty directory for the given node.
func NewDirectory(nodeID string) *Directory {
	return &Directory{
		nodeID: nodeID,
		local:  make(map[string]*models.MeshResource),
		remote: make(map[string]*models.MeshResource),
		log:    logrus.WithField("component", "mesh-directory"),
	}
}

// AddLocal registers or updates a local resource. Returns true when the
// resource is new.
func (d *Directory) AddLocal(resourceID, resourceType string, metadata map[string]interface{}) bool {
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.local[resourceID]; ok {
		r.Type = resourceType
		r.Metadata = metadata
		r.UpdatedAt = now
		d.log.Infof("Updated local resource %s", resourceID)
		return false
	}
	d.local[resourceID] = &models.MeshResource{
		ResourceID:   resourceID,
		Type:         resourceType,
		Metadata:     metadata,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	d.log.Infof("Added local resource %s of type %s", resourceID, resourceType)
	return true
}

// AddRemote registers or updates a resource learned from a peer. Returns
// true when the resource is new.
func (d *Directory) AddRemote(resourceID, resourceType string, metadata map[string]interface{}, peerID string) bool {
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.remote[resourceID]; ok {
		r.Type = resourceType
		r.Metadata = metadata
		r.PeerID = peerID
		r.UpdatedAt = now
		return false
	}
	d.remote[resourceID] = &models.MeshResource{
		ResourceID:   resourceID,
		Type:         resourceType,
		Metadata:     metadata,
		PeerID:       peerID,
		DiscoveredAt: now,
		UpdatedAt:    now,
	}
	d.log.Infof("Added remote resource %s of type %s from peer %s", resourceID, resourceType, peerID)
	return true
}

// RemoveLocal deletes a local resource. Returns false if absent.
func (d *Directory) RemoveLocal(resourceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.local[resourceID]; !ok {
		return false
	}
	delete(d.local, resourceID)
	return true
}

// RemoveRemote deletes a remote resource. Returns false if absent.
func (d *Directory) RemoveRemote(resourceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.remote[resourceID]; !ok {
		return false
	}
	delete(d.remote, resourceID)
	return true
}

// RemovePeerResources drops every remote resource learned from one peer and
// returns how many were removed.
func (d *Directory) RemovePeerResources(peerID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for id, r := range d.remote {
		if r.PeerID == peerID {
			delete(d.remote, id)
			count++
		}
	}
	if count > 0 {
		d.log.Infof("Removed %d resources from peer %s", count, peerID)
	}
	return count
}

// Query returns resources matching the type and metadata filter. Results
// carry Location "local" or "remote"; when an id exists in both namespaces
// the local entry wins.
func (d *Directory) Query(resourceType string, metadataFilter map[string]interface{}, includeLocal, includeRemote bool) map[string]models.MeshResource {
	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make(map[string]models.MeshResource)
	if includeRemote {
		for id, r := range d.remote {
			if matchResource(r, resourceType, metadataFilter) {
				out := *r
				out.Location = "remote"
				results[id] = out
			}
		}
	}
	if includeLocal {
		for id, r := range d.local {
			if matchResource(r, resourceType, metadataFilter) {
				out := *r
				out.Location = "local"
				results[id] = out
			}
		}
	}
	return results
}

// LocalIDs returns the ids of all local resources.
func (d *Directory) LocalIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.local))
	for id := range d.local {
		ids = append(ids, id)
	}
	return ids
}

// Types returns the distinct resource types currently known.
func (d *Directory) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	for _, r := range d.local {
		seen[r.Type] = true
	}
	for _, r := range d.remote {
		seen[r.Type] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	return types
}

func matchResource(r *models.MeshResource, resourceType string, metadataFilter map[string]interface{}) bool {
	if resourceType != "" && r.Type != resourceType {
		return false
	}
	for key, want := range metadataFilter {
		got, ok := r.Metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// CapAgentConstraints clamps agent hardware constraints to the mesh ceilings
// and defaults trace_enabled on. The returned metadata is a fresh map.
func CapAgentConstraints(log *logrus.Entry, metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if cpu, ok := out["cpu"].(float64); ok && cpu > AgentCPUCap {
		log.Warnf("Requested cpu %.2f exceeds cap, clamping to %.2f", cpu, AgentCPUCap)
		out["cpu"] = AgentCPUCap
	}
	if mem, ok := out["memory"].(float64); ok && mem > AgentMemoryCap {
		log.Warnf("Requested memory %.0f exceeds cap, clamping to %d", mem, AgentMemoryCap)
		out["memory"] = float64(AgentMemoryCap)
	}
	if _, ok := out["trace_enabled"]; !ok {
		out["trace_enabled"] = true
	}
	return out
}
