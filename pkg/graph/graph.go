// Package graph provides an in-memory entity graph that links
// conversation entities to each other and to memory entries, plus a
// retriever that turns graph neighborhoods into context items. It is a
// lightweight alternative to an external graph database.
package graph

import (
	"fmt"
	"sync"

	"github.com/memtide/memtide-go/pkg/core"
)

// Relationship is one directed, labeled edge between two entities.
type Relationship struct {
	Source   string
	Relation string
	Target   string
}

// SimpleGraphMemory is an in-memory directed multigraph of entities.
// Nodes carry metadata and may be linked to memory entry ids; edges
// are labeled and may repeat. Traversal treats edges as bidirectional.
//
// All methods are safe for concurrent use.
//
// Example:
//
//	g := graph.NewSimpleGraphMemory()
//	g.AddEntity("alice", map[string]interface{}{"type": "person"})
//	g.AddRelationship("alice", "works_on", "project-x")
//	g.LinkMemory("alice", entry.ID)
//	related := g.RelatedEntities("alice", 2)
type SimpleGraphMemory struct {
	mu sync.RWMutex

	nodes map[string]map[string]interface{}
	order []string
	edges []Relationship
	links map[string][]string
}

// NewSimpleGraphMemory creates an empty graph.
func NewSimpleGraphMemory() *SimpleGraphMemory {
	return &SimpleGraphMemory{
		nodes: make(map[string]map[string]interface{}),
		links: make(map[string][]string),
	}
}

// AddEntity adds an entity node. If the entity already exists, the
// given metadata is merged into its existing metadata.
func (g *SimpleGraphMemory) AddEntity(entityID string, metadata map[string]interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEntityLocked(entityID, metadata)
}

func (g *SimpleGraphMemory) addEntityLocked(entityID string, metadata map[string]interface{}) {
	if existing, ok := g.nodes[entityID]; ok {
		for k, v := range metadata {
			existing[k] = v
		}
		return
	}
	node := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		node[k] = v
	}
	g.nodes[entityID] = node
	g.order = append(g.order, entityID)
}

// AddRelationship adds a directed labeled edge, implicitly creating
// missing endpoint entities. Repeated calls append repeated edges.
func (g *SimpleGraphMemory) AddRelationship(source, relation, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[source]; !ok {
		g.addEntityLocked(source, nil)
	}
	if _, ok := g.nodes[target]; !ok {
		g.addEntityLocked(target, nil)
	}
	g.edges = append(g.edges, Relationship{Source: source, Relation: relation, Target: target})
}

// LinkMemory associates a memory entry id with an entity. The entity
// must already exist.
func (g *SimpleGraphMemory) LinkMemory(entityID, memoryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[entityID]; !ok {
		return core.NewMemoryError("link_memory",
			fmt.Errorf("%w: %q", core.ErrEntityNotFound, entityID))
	}
	g.links[entityID] = append(g.links[entityID], memoryID)
	return nil
}

// RelatedEntities finds entities reachable from entityID within
// maxDepth hops, treating edges as bidirectional. The result is in BFS
// first-seen order and never includes the starting entity. Unknown
// starts and non-positive depths yield nothing.
func (g *SimpleGraphMemory) RelatedEntities(entityID string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relatedEntitiesLocked(entityID, maxDepth)
}

func (g *SimpleGraphMemory) relatedEntitiesLocked(entityID string, maxDepth int) []string {
	if _, ok := g.nodes[entityID]; !ok {
		return nil
	}

	// Neighbor lists are built in edge order with per-node dedup, so
	// traversal order is reproducible.
	adjacency := make(map[string][]string)
	addNeighbor := func(a, b string) {
		for _, n := range adjacency[a] {
			if n == b {
				return
			}
		}
		adjacency[a] = append(adjacency[a], b)
	}
	for _, edge := range g.edges {
		addNeighbor(edge.Source, edge.Target)
		addNeighbor(edge.Target, edge.Source)
	}

	type frontier struct {
		id    string
		depth int
	}
	visited := map[string]bool{entityID: true}
	queue := []frontier{{entityID, 0}}
	var related []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}
		for _, neighbor := range adjacency[current.id] {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			related = append(related, neighbor)
			queue = append(queue, frontier{neighbor, current.depth + 1})
		}
	}
	return related
}

// MemoryIDsForEntity returns the memory ids linked directly to the
// entity, in link order. Unknown entities yield nothing.
func (g *SimpleGraphMemory) MemoryIDsForEntity(entityID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.links[entityID]...)
}

// RelatedMemoryIDs returns the memory ids of the entity and its whole
// neighborhood within maxDepth hops, deduplicated in first-seen order.
func (g *SimpleGraphMemory) RelatedMemoryIDs(entityID string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entities := append([]string{entityID}, g.relatedEntitiesLocked(entityID, maxDepth)...)
	seen := make(map[string]bool)
	var ids []string
	for _, eid := range entities {
		for _, mid := range g.links[eid] {
			if seen[mid] {
				continue
			}
			seen[mid] = true
			ids = append(ids, mid)
		}
	}
	return ids
}

// RemoveEntity removes an entity, every edge touching it, and its
// memory links. Removing an unknown entity is a no-op.
func (g *SimpleGraphMemory) RemoveEntity(entityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[entityID]; !ok {
		return
	}

	delete(g.nodes, entityID)
	delete(g.links, entityID)

	for i, id := range g.order {
		if id == entityID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	kept := g.edges[:0]
	for _, edge := range g.edges {
		if edge.Source == entityID || edge.Target == entityID {
			continue
		}
		kept = append(kept, edge)
	}
	g.edges = kept
}

// Clear removes all entities, relationships, and memory links.
func (g *SimpleGraphMemory) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]map[string]interface{})
	g.order = nil
	g.edges = nil
	g.links = make(map[string][]string)
}

// Entities lists all entity ids in insertion order.
func (g *SimpleGraphMemory) Entities() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Relationships lists all edges in insertion order.
func (g *SimpleGraphMemory) Relationships() []Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Relationship(nil), g.edges...)
}

// EntityMetadata returns a copy of the entity's metadata, or
// ErrEntityNotFound.
func (g *SimpleGraphMemory) EntityMetadata(entityID string) (map[string]interface{}, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[entityID]
	if !ok {
		return nil, core.NewMemoryError("entity_metadata",
			fmt.Errorf("%w: %q", core.ErrEntityNotFound, entityID))
	}
	metadata := make(map[string]interface{}, len(node))
	for k, v := range node {
		metadata[k] = v
	}
	return metadata, nil
}

// HasEntity reports whether the entity exists.
func (g *SimpleGraphMemory) HasEntity(entityID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[entityID]
	return ok
}

// Len returns the number of entities.
func (g *SimpleGraphMemory) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
