/*
 * Quarry
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package taxonomy

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/quarry"
	"github.com/gravitational/quarry/lib/defaults"
	logutils "github.com/gravitational/quarry/lib/utils/log"
)

// BuilderConfig configures a hierarchy Builder.
type BuilderConfig struct {
	// MaxDepth caps every ancestor chain walk. Defaults to
	// defaults.MaxHierarchyDepth.
	MaxDepth int
	// Logger emits cycle and depth warnings. Defaults to a package
	// logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *BuilderConfig) CheckAndSetDefaults() error {
	if c.MaxDepth < 0 {
		return trace.BadParameter("max depth must not be negative, got %v", c.MaxDepth)
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = defaults.MaxHierarchyDepth
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(quarry.ComponentKey, quarry.Component(quarry.ComponentTaxonomy, "tree"))
	}
	return nil
}

// Builder arranges flat entity lists into a hierarchy forest and answers
// ancestor/descendant queries over them. A single builder can be reused
// across calls; each call operates only on the entity set it is given.
type Builder[T Node] struct {
	cfg BuilderConfig
}

// NewBuilder creates a hierarchy builder.
func NewBuilder[T Node](cfg BuilderConfig) (*Builder[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Builder[T]{cfg: cfg}, nil
}

// entityIndex is a one-pass index of an entity slice.
type entityIndex[T Node] struct {
	byID     map[int]T
	order    []int
	children map[int][]int
}

func newEntityIndex[T Node](entities []T) *entityIndex[T] {
	idx := &entityIndex[T]{
		byID:     make(map[int]T, len(entities)),
		order:    make([]int, 0, len(entities)),
		children: make(map[int][]int),
	}
	for _, entity := range entities {
		id := entity.GetID()
		if _, ok := idx.byID[id]; ok {
			continue
		}
		idx.byID[id] = entity
		idx.order = append(idx.order, id)
	}
	for _, id := range idx.order {
		if parentID, ok := idx.byID[id].GetParentID(); ok {
			if _, found := idx.byID[parentID]; found {
				idx.children[parentID] = append(idx.children[parentID], id)
			}
		}
	}
	return idx
}

// levelWalker memoizes ancestor chain lengths. Entities whose chain is
// cyclic or exceeds the depth cap are recorded in the cyclic set and
// pinned at level 0.
type levelWalker[T Node] struct {
	cfg        BuilderConfig
	idx        *entityIndex[T]
	levels     map[int]int
	cyclic     map[int]bool
	inProgress map[int]bool
	warned     map[int]bool
}

func newLevelWalker[T Node](cfg BuilderConfig, idx *entityIndex[T]) *levelWalker[T] {
	walker := &levelWalker[T]{
		cfg:        cfg,
		idx:        idx,
		levels:     make(map[int]int, len(idx.order)),
		cyclic:     make(map[int]bool),
		inProgress: make(map[int]bool),
		warned:     make(map[int]bool),
	}
	for _, id := range idx.order {
		walker.resolve(id, 0)
	}
	return walker
}

// resolve returns the level of id and whether its ancestor chain is
// cyclic. Cyclic chains demote every member to level 0 with exactly one
// warning per entity.
func (w *levelWalker[T]) resolve(id, depth int) (level int, cyclic bool) {
	if w.cyclic[id] {
		return 0, true
	}
	if level, ok := w.levels[id]; ok {
		return level, false
	}
	if w.inProgress[id] {
		w.markCyclic(id)
		return 0, true
	}
	if depth >= w.cfg.MaxDepth {
		w.cfg.Logger.Warn("Ancestor chain exceeds maximum depth, treating entity as a root.",
			"entity_id", id, "max_depth", w.cfg.MaxDepth)
		w.levels[id] = 0
		return 0, false
	}
	parentID, ok := w.idx.byID[id].GetParentID()
	if !ok {
		w.levels[id] = 0
		return 0, false
	}
	if _, found := w.idx.byID[parentID]; !found {
		// Parent outside the input set, entity becomes a root.
		w.levels[id] = 0
		return 0, false
	}
	w.inProgress[id] = true
	parentLevel, parentCyclic := w.resolve(parentID, depth+1)
	delete(w.inProgress, id)
	if parentCyclic {
		w.markCyclic(id)
		return 0, true
	}
	w.levels[id] = parentLevel + 1
	return parentLevel + 1, false
}

func (w *levelWalker[T]) markCyclic(id int) {
	if !w.warned[id] {
		w.cfg.Logger.Warn("Cycle detected in taxonomy hierarchy, demoting entity to root level.",
			"entity_id", id)
		w.warned[id] = true
	}
	w.cyclic[id] = true
	w.levels[id] = 0
}

// BuildTree arranges entities into a forest following parent_id links.
// Entities without a resolvable parent become roots; members of cyclic
// chains are demoted to roots at level 0.
func (b *Builder[T]) BuildTree(entities []T) []*TreeNode[T] {
	idx := newEntityIndex[T](entities)
	walker := newLevelWalker[T](b.cfg, idx)

	nodes := make(map[int]*TreeNode[T], len(idx.order))
	for _, id := range idx.order {
		nodes[id] = &TreeNode[T]{
			Entity: idx.byID[id],
			Level:  walker.levels[id],
		}
	}

	var roots []*TreeNode[T]
	for _, id := range idx.order {
		node := nodes[id]
		if walker.cyclic[id] {
			roots = append(roots, node)
			continue
		}
		parentID, ok := idx.byID[id].GetParentID()
		if !ok {
			roots = append(roots, node)
			continue
		}
		parent, found := nodes[parentID]
		if !found {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// BuildTreeFromTitles arranges legacy entities whose hierarchy is encoded
// as a separator-joined title path ("parent/child/grandchild") into the
// same forest shape BuildTree produces. An entity is the child of the
// entity whose title equals its own title minus the last segment.
func (b *Builder[T]) BuildTreeFromTitles(entities []T) []*TreeNode[T] {
	byTitle := make(map[string]*TreeNode[T], len(entities))
	titles := make([]string, 0, len(entities))
	ordered := make([]*TreeNode[T], 0, len(entities))
	for _, entity := range entities {
		title := entity.GetTitle()
		if title == "" {
			title = entity.DisplayName()
		}
		if _, ok := byTitle[title]; ok {
			continue
		}
		node := &TreeNode[T]{Entity: entity}
		byTitle[title] = node
		titles = append(titles, title)
		ordered = append(ordered, node)
	}

	// Levels count resolved ancestors, not raw path segments: a node
	// whose prefix has no matching entity becomes a level 0 root. Parent
	// titles are strictly shorter, so the walk always terminates.
	levels := make(map[string]int, len(ordered))
	var levelOf func(title string) int
	levelOf = func(title string) int {
		if level, ok := levels[title]; ok {
			return level
		}
		level := 0
		if sep := strings.LastIndex(title, defaults.TitlePathSeparator); sep >= 0 {
			if _, ok := byTitle[title[:sep]]; ok {
				level = levelOf(title[:sep]) + 1
			}
		}
		levels[title] = level
		return level
	}

	var roots []*TreeNode[T]
	for i, node := range ordered {
		title := titles[i]
		node.Level = levelOf(title)
		sep := strings.LastIndex(title, defaults.TitlePathSeparator)
		if sep < 0 {
			roots = append(roots, node)
			continue
		}
		parent, ok := byTitle[title[:sep]]
		if !ok {
			// Orphaned path prefix, keep the node reachable as a root.
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// AncestorsOf returns the ancestor chain of the entity with the given id,
// root first, not including the entity itself. The walk is bounded by the
// builder's depth cap and stops on cycles.
func (b *Builder[T]) AncestorsOf(entities []T, id int) ([]T, error) {
	idx := newEntityIndex[T](entities)
	if _, ok := idx.byID[id]; !ok {
		return nil, trace.NotFound("entity %v not found", id)
	}
	var chain []T
	visited := map[int]bool{id: true}
	current := id
	for depth := 0; ; depth++ {
		if depth >= b.cfg.MaxDepth {
			b.cfg.Logger.Warn("Ancestor chain exceeds maximum depth, stopping the walk.",
				"entity_id", id, "max_depth", b.cfg.MaxDepth)
			break
		}
		parentID, ok := idx.byID[current].GetParentID()
		if !ok {
			break
		}
		parent, found := idx.byID[parentID]
		if !found {
			break
		}
		if visited[parentID] {
			b.cfg.Logger.Warn("Cycle detected in taxonomy hierarchy, stopping the ancestor walk.",
				"entity_id", parentID)
			break
		}
		visited[parentID] = true
		chain = append(chain, parent)
		current = parentID
	}
	slices.Reverse(chain)
	return chain, nil
}

// BreadcrumbsOf returns the entity's ancestor chain followed by the
// entity itself, root first, the order breadcrumb views render in.
func (b *Builder[T]) BreadcrumbsOf(entities []T, id int) ([]T, error) {
	idx := newEntityIndex[T](entities)
	entity, ok := idx.byID[id]
	if !ok {
		return nil, trace.NotFound("entity %v not found", id)
	}
	chain, err := b.AncestorsOf(entities, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return append(chain, entity), nil
}

// DescendantsOf returns every entity below the given id, in depth-first
// input order.
func (b *Builder[T]) DescendantsOf(entities []T, id int) ([]T, error) {
	idx := newEntityIndex[T](entities)
	if _, ok := idx.byID[id]; !ok {
		return nil, trace.NotFound("entity %v not found", id)
	}
	var result []T
	visited := map[int]bool{id: true}
	var walk func(int)
	walk = func(parent int) {
		for _, childID := range idx.children[parent] {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			result = append(result, idx.byID[childID])
			walk(childID)
		}
	}
	walk(id)
	return result, nil
}

// CommonAncestorOf returns the deepest entity present in the ancestor
// chain of every entity in ids. An entity counts as its own ancestor, so
// the common ancestor of a parent and its child is the parent. Returns a
// NotFound error when the chains share nothing.
func (b *Builder[T]) CommonAncestorOf(entities []T, ids []int) (T, error) {
	var zero T
	if len(ids) == 0 {
		return zero, trace.BadParameter("no entities supplied")
	}
	idx := newEntityIndex[T](entities)
	walker := newLevelWalker[T](b.cfg, idx)

	shared := make(map[int]bool)
	for i, id := range ids {
		if _, ok := idx.byID[id]; !ok {
			return zero, trace.NotFound("entity %v not found", id)
		}
		chain, err := b.AncestorsOf(entities, id)
		if err != nil {
			return zero, trace.Wrap(err)
		}
		ours := map[int]bool{id: true}
		for _, ancestor := range chain {
			ours[ancestor.GetID()] = true
		}
		if i == 0 {
			shared = ours
			continue
		}
		for candidate := range shared {
			if !ours[candidate] {
				delete(shared, candidate)
			}
		}
	}

	found := false
	var deepest int
	for id := range shared {
		if !found || walker.levels[id] > walker.levels[deepest] {
			deepest, found = id, true
		}
	}
	if !found {
		return zero, trace.NotFound("entities %v have no common ancestor", ids)
	}
	return idx.byID[deepest], nil
}
