// Package tree implements the Inode Tree (spec §4.A): a virtual tree of
// nodes keyed by stable 64-bit ids, behind a single reader-writer lock.
//
// The locking discipline follows internal/sync/worker.go's single
// sync.RWMutex guarding a small struct (teacher), generalized to a whole
// tree: readers (kernel callbacks) take RLock for the minimum interval
// needed to copy out a VNode snapshot; writers (refresh tasks, orchestrator
// startup) take Lock and perform one batch of map/slice/index mutations
// before releasing it. No operation ever suspends while holding the lock.
package tree

import (
	"fmt"
	"sync"

	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

// RootIno is the fixed inode number of the filesystem root (spec §3).
const RootIno uint64 = 1

// Kind is the tagged variant of a VNode (spec §3).
type Kind int

const (
	KindRoot Kind = iota
	KindFeedDir
	KindArticleFile
	KindMetaDir
	KindConfigFile
	KindLogsDir
	KindCacheDir
)

// FileType distinguishes directories from regular files.
type FileType int

const (
	Directory FileType = iota
	RegularFile
)

// VNode is a single node in the tree. Callers receive copies (see Get,
// GetByName, ListChildren) so that mutation always goes through the tree's
// own locked methods.
type VNode struct {
	Ino       uint64
	ParentIno uint64
	Name      string
	Kind      Kind
	FileType  FileType
	Size      uint64
	Children  []uint64

	// FeedName identifies the owning feed for KindFeedDir and
	// KindArticleFile nodes.
	FeedName string

	// Article is the shared, immutable article value backing a
	// KindArticleFile node. It is never mutated in place: refreshes replace
	// the pointer (spec §9 "Cyclic/Shared graph problem").
	Article *model.Article
}

// IsDir reports whether the node is a directory.
func (v VNode) IsDir() bool { return v.FileType == Directory }

type nameKey struct {
	parent uint64
	name   string
}

// Tree is the concurrent Inode Tree. The zero value is not usable; use New.
type Tree struct {
	mu sync.RWMutex // GUARDED_BY: nodes, children are mutated only under mu.Lock

	nextIno uint64
	nodes   map[uint64]*VNode
	byName  map[nameKey]uint64

	configText string
}

// New constructs a Tree seeded with the root and the .rss-fuse subtree
// (MetaDir containing logs/, cache/, config.toml), per spec §4.A.
func New() *Tree {
	t := &Tree{
		nextIno: 2,
		nodes:   make(map[uint64]*VNode),
		byName:  make(map[nameKey]uint64),
	}

	root := &VNode{Ino: RootIno, ParentIno: RootIno, Name: "", Kind: KindRoot, FileType: Directory}
	t.nodes[RootIno] = root

	metaIno := t.allocateLocked()
	meta := &VNode{Ino: metaIno, ParentIno: RootIno, Name: ".rss-fuse", Kind: KindMetaDir, FileType: Directory}
	t.insertLocked(meta)

	logsIno := t.allocateLocked()
	t.insertLocked(&VNode{Ino: logsIno, ParentIno: metaIno, Name: "logs", Kind: KindLogsDir, FileType: Directory})

	cacheIno := t.allocateLocked()
	t.insertLocked(&VNode{Ino: cacheIno, ParentIno: metaIno, Name: "cache", Kind: KindCacheDir, FileType: Directory})

	cfgIno := t.allocateLocked()
	t.insertLocked(&VNode{Ino: cfgIno, ParentIno: metaIno, Name: "config.toml", Kind: KindConfigFile, FileType: RegularFile})

	return t
}

// AllocateIno returns and increments the monotonic counter. Ids are never
// reused within a process lifetime.
func (t *Tree) AllocateIno() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateLocked()
}

func (t *Tree) allocateLocked() uint64 {
	ino := t.nextIno
	t.nextIno++
	return ino
}

// insertLocked adds node to the map, its parent's children, and the name
// index in one atomic (from a reader's point of view) step. Caller holds
// mu.Lock and has already validated the parent exists (except for root,
// which has no parent entry to update).
func (t *Tree) insertLocked(node *VNode) {
	t.nodes[node.Ino] = node
	t.byName[nameKey{node.ParentIno, node.Name}] = node.Ino
	if node.Ino != RootIno {
		parent := t.nodes[node.ParentIno]
		parent.Children = append(parent.Children, node.Ino)
	}
}

// Get returns a copy of the node with the given ino, if present.
func (t *Tree) Get(ino uint64) (VNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[ino]
	if !ok {
		return VNode{}, false
	}
	return cloneNode(n), true
}

// GetByName resolves a (parent, name) pair via the name index.
func (t *Tree) GetByName(parent uint64, name string) (VNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ino, ok := t.byName[nameKey{parent, name}]
	if !ok {
		return VNode{}, false
	}
	return cloneNode(t.nodes[ino]), true
}

// ListChildren returns a snapshot of dir's children in insertion order.
func (t *Tree) ListChildren(dirIno uint64) ([]VNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dir, ok := t.nodes[dirIno]
	if !ok {
		return nil, rfserr.New(rfserr.NotFound, fmt.Sprintf("inode %d not found", dirIno))
	}
	if !dir.IsDir() {
		return nil, rfserr.New(rfserr.InvalidState, fmt.Sprintf("inode %d is not a directory", dirIno))
	}

	out := make([]VNode, 0, len(dir.Children))
	for _, childIno := range dir.Children {
		if child, ok := t.nodes[childIno]; ok {
			out = append(out, cloneNode(child))
		}
	}
	return out, nil
}

// Create allocates a fresh ino and inserts a new node as a child of parent.
func (t *Tree) Create(parent uint64, name string, kind Kind, fileType FileType) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentNode, ok := t.nodes[parent]
	if !ok {
		return 0, rfserr.New(rfserr.NotFound, fmt.Sprintf("parent inode %d missing", parent))
	}
	if !parentNode.IsDir() {
		return 0, rfserr.New(rfserr.InvalidState, fmt.Sprintf("parent inode %d is not a directory", parent))
	}
	if _, exists := t.byName[nameKey{parent, name}]; exists {
		return 0, rfserr.New(rfserr.AlreadyExists, fmt.Sprintf("%q already exists under inode %d", name, parent))
	}

	ino := t.allocateLocked()
	t.insertLocked(&VNode{Ino: ino, ParentIno: parent, Name: name, Kind: kind, FileType: fileType})
	return ino, nil
}

// CreateArticleFile is a convenience wrapper around Create for
// KindArticleFile nodes, setting the feed name, article, size, and name
// (derived via model.MarkdownFilename) in one step.
func (t *Tree) CreateArticleFile(parent uint64, feedName string, article model.Article) (uint64, error) {
	name := model.MarkdownFilename(article.Title)
	rendered := model.RenderMarkdown(article, feedName)

	t.mu.Lock()
	defer t.mu.Unlock()

	parentNode, ok := t.nodes[parent]
	if !ok {
		return 0, rfserr.New(rfserr.NotFound, fmt.Sprintf("parent inode %d missing", parent))
	}
	if !parentNode.IsDir() {
		return 0, rfserr.New(rfserr.InvalidState, fmt.Sprintf("parent inode %d is not a directory", parent))
	}

	name = t.disambiguateLocked(parent, name)

	ino := t.allocateLocked()
	articleCopy := article
	t.insertLocked(&VNode{
		Ino:      ino,
		ParentIno: parent,
		Name:     name,
		Kind:     KindArticleFile,
		FileType: RegularFile,
		Size:     uint64(len(rendered)),
		FeedName: feedName,
		Article:  &articleCopy,
	})
	return ino, nil
}

// disambiguateLocked appends a numeric suffix if name already exists among
// parent's children, preserving the "name is unique among siblings"
// invariant (spec §3) when two articles sanitize to the same filename.
func (t *Tree) disambiguateLocked(parent uint64, name string) string {
	if _, exists := t.byName[nameKey{parent, name}]; !exists {
		return name
	}
	base, ext := splitExt(name)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, exists := t.byName[nameKey{parent, candidate}]; !exists {
			return candidate
		}
	}
}

func splitExt(name string) (base, ext string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i:]
		}
	}
	return name, ""
}

// Remove deletes the node, its entry in the parent's children, and its
// name-index entry. Root cannot be removed.
func (t *Tree) Remove(ino uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(ino)
}

func (t *Tree) removeLocked(ino uint64) error {
	if ino == RootIno {
		return rfserr.New(rfserr.InvalidState, "root cannot be removed")
	}
	node, ok := t.nodes[ino]
	if !ok {
		return rfserr.New(rfserr.NotFound, fmt.Sprintf("inode %d not found", ino))
	}

	delete(t.nodes, ino)
	delete(t.byName, nameKey{node.ParentIno, node.Name})

	if parent, ok := t.nodes[node.ParentIno]; ok {
		children := parent.Children[:0]
		for _, c := range parent.Children {
			if c != ino {
				children = append(children, c)
			}
		}
		parent.Children = children
	}
	return nil
}

// UpdateSize sets the Size field of ino, used when a backing article is
// replaced with different-length rendered content.
func (t *Tree) UpdateSize(ino uint64, size uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[ino]
	if !ok {
		return rfserr.New(rfserr.NotFound, fmt.Sprintf("inode %d not found", ino))
	}
	node.Size = size
	return nil
}

// ReplaceArticle swaps the Article pointer and recomputed size of an
// existing KindArticleFile node in place, without changing its ino or name.
func (t *Tree) ReplaceArticle(ino uint64, feedName string, article model.Article) error {
	rendered := model.RenderMarkdown(article, feedName)

	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[ino]
	if !ok {
		return rfserr.New(rfserr.NotFound, fmt.Sprintf("inode %d not found", ino))
	}
	articleCopy := article
	node.Article = &articleCopy
	node.Size = uint64(len(rendered))
	return nil
}

// ReplaceFeedArticles performs the atomic subtree replacement described in
// spec §4.H: under one write-lock critical section, every existing
// KindArticleFile child of feedDirIno is removed and a fresh set is
// inserted in its place. Readers never observe a mixed state within the
// feed because both removal and insertion happen before the lock is
// released.
func (t *Tree) ReplaceFeedArticles(feedDirIno uint64, feedName string, articles []model.Article) error {
	// Markdown rendering has no side effects on the tree, so render outside
	// the critical section to keep the write lock's hold time minimal.
	type rendered struct {
		name string
		size uint64
	}
	prepared := make([]rendered, len(articles))
	for i, a := range articles {
		prepared[i] = rendered{
			name: model.MarkdownFilename(a.Title),
			size: uint64(len(model.RenderMarkdown(a, feedName))),
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir, ok := t.nodes[feedDirIno]
	if !ok {
		return rfserr.New(rfserr.NotFound, fmt.Sprintf("feed directory inode %d not found", feedDirIno))
	}
	if !dir.IsDir() {
		return rfserr.New(rfserr.InvalidState, fmt.Sprintf("inode %d is not a directory", feedDirIno))
	}

	for _, childIno := range append([]uint64(nil), dir.Children...) {
		if child, ok := t.nodes[childIno]; ok && child.Kind == KindArticleFile {
			_ = t.removeLocked(childIno)
		}
	}

	for i, a := range articles {
		name := t.disambiguateLocked(feedDirIno, prepared[i].name)
		ino := t.allocateLocked()
		articleCopy := a
		t.insertLocked(&VNode{
			Ino:       ino,
			ParentIno: feedDirIno,
			Name:      name,
			Kind:      KindArticleFile,
			FileType:  RegularFile,
			Size:      prepared[i].size,
			FeedName:  feedName,
			Article:   &articleCopy,
		})
	}
	return nil
}

// SetConfigText stores the text served by the .rss-fuse/config.toml node.
func (t *Tree) SetConfigText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configText = text
}

// ConfigText returns the text currently served by config.toml.
func (t *Tree) ConfigText() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.configText
}

func cloneNode(n *VNode) VNode {
	cp := *n
	cp.Children = append([]uint64(nil), n.Children...)
	return cp
}
