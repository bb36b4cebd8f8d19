// Package fusefs implements the Kernel Callback Surface (spec §4.F): a
// single fs.InodeEmbedder node type whose every operation delegates to the
// Inode Tree. go-fuse's own inode bookkeeping is never the source of
// truth — a Node only ever carries the ino it was constructed with, and
// every lookup/getattr/readdir/read re-reads the tree.
//
// Grounded on internal/fs/root.go and internal/fs/attachments.go (teacher):
// same BaseNode-embeds-fs.Inode shape, same out.Attr.Mode/Uid/Gid/SetTimes
// field-by-field population, same out.SetAttrTimeout/SetEntryTimeout calls
// driving per-node cache TTLs.
package fusefs

import (
	"context"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/repo"
	"github.com/9diov/rss-fuse/internal/tree"
)

const blockSize = 512
const blksize = 4096

// staticTTL is the validity window for root/meta nodes (spec §4.F).
const staticTTL = 10 * time.Second

// errorTTL is the validity window while a feed is in Error state.
const errorTTL = 2 * time.Second

// loadedDirTTL/loadedFileTTL apply once a feed has settled into content.
const loadedDirTTL = 30 * time.Second
const loadedFileTTL = 60 * time.Second

// FS owns the shared Tree and Repository every Node consults. There is
// exactly one FS per mounted filesystem (spec §9 "Global state").
type FS struct {
	tree *tree.Tree
	repo *repo.Repository
	uid  uint32
	gid  uint32
}

// New constructs an FS backed by t and r. r may be nil in tests that only
// exercise static nodes (root, meta, config).
func New(t *tree.Tree, r *repo.Repository) *FS {
	return &FS{
		tree: t,
		repo: r,
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
	}
}

// Root returns the root Node to pass to gofuse.Mount.
func (f *FS) Root() *Node {
	return &Node{fsys: f, ino: tree.RootIno}
}

// Node is the single InodeEmbedder type backing every path in the
// filesystem. Its identity is entirely the ino; Kind/FileType/content are
// re-read from the tree on every call.
type Node struct {
	gofuse.Inode
	fsys *FS
	ino  uint64
}

var _ = (gofuse.NodeLookuper)((*Node)(nil))
var _ = (gofuse.NodeGetattrer)((*Node)(nil))
var _ = (gofuse.NodeReaddirer)((*Node)(nil))
var _ = (gofuse.NodeOpener)((*Node)(nil))
var _ = (gofuse.NodeReader)((*Node)(nil))
var _ = (gofuse.NodeReleaser)((*Node)(nil))

// Lookup resolves name under n, per spec §4.F: ENOENT if missing.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	v, ok := n.fsys.tree.GetByName(n.ino, name)
	if !ok {
		return nil, syscall.ENOENT
	}

	n.fsys.fillAttr(&out.Attr, v)
	entryTTL, _ := n.fsys.ttlFor(v)
	out.SetEntryTimeout(entryTTL)

	mode := uint32(syscall.S_IFREG)
	if v.IsDir() {
		mode = syscall.S_IFDIR
	}
	child := n.NewInode(ctx, &Node{fsys: n.fsys, ino: v.Ino}, gofuse.StableAttr{
		Mode: mode,
		Ino:  v.Ino,
	})
	return child, gofuse.OK
}

// Getattr fills out with the current attributes of n.ino, per spec §4.F's
// attribute table.
func (n *Node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	v, ok := n.fsys.tree.Get(n.ino)
	if !ok {
		return syscall.ENOENT
	}

	n.fsys.fillAttr(&out.Attr, v)
	_, attrTTL := n.fsys.ttlFor(v)
	out.SetAttrTimeout(attrTTL)
	return gofuse.OK
}

// Readdir lists n's children. The kernel synthesizes "." and ".." itself,
// matching the teacher's RootNode.Readdir which never emits them
// explicitly.
func (n *Node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	v, ok := n.fsys.tree.Get(n.ino)
	if !ok {
		return nil, syscall.ENOENT
	}
	if !v.IsDir() {
		return nil, syscall.ENOTDIR
	}

	children, err := n.fsys.tree.ListChildren(n.ino)
	if err != nil {
		return nil, syscall.ENOENT
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(syscall.S_IFREG)
		if c.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: c.Name, Mode: mode, Ino: c.Ino})
	}
	return gofuse.NewListDirStream(entries), gofuse.OK
}

// Open rejects directories with EISDIR; files reuse their ino as the
// implicit handle (no separate FileHandle object is allocated, matching
// spec §4.F "use the ino as handle").
func (n *Node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	v, ok := n.fsys.tree.Get(n.ino)
	if !ok {
		return nil, 0, syscall.ENOENT
	}
	if v.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	return nil, fuse.FOPEN_KEEP_CACHE, gofuse.OK
}

// Read serves ArticleFile and ConfigFile content. All other kinds are not
// readable regular files and return EINVAL.
func (n *Node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	v, ok := n.fsys.tree.Get(n.ino)
	if !ok {
		return nil, syscall.ENOENT
	}
	if v.IsDir() {
		return nil, syscall.EISDIR
	}

	content, errno := n.fsys.contentFor(v)
	if errno != 0 {
		return nil, errno
	}

	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), gofuse.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData(content[off:end]), gofuse.OK
}

// Release is a no-op: no per-handle state was allocated in Open.
func (n *Node) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	return gofuse.OK
}

// contentFor renders the byte content backing a readable node.
func (f *FS) contentFor(v tree.VNode) ([]byte, syscall.Errno) {
	switch v.Kind {
	case tree.KindArticleFile:
		if v.Article == nil {
			return nil, syscall.EINVAL
		}
		return []byte(model.RenderMarkdown(*v.Article, v.FeedName)), 0
	case tree.KindConfigFile:
		return []byte(f.tree.ConfigText()), 0
	default:
		return nil, syscall.EINVAL
	}
}

// fillAttr populates out per spec §4.F's file-attributes table.
func (f *FS) fillAttr(out *fuse.Attr, v tree.VNode) {
	now := time.Now()
	out.Ino = v.Ino
	out.Size = v.Size
	out.Blocks = (v.Size + blockSize - 1) / blockSize
	out.SetTimes(&now, &now, &now)
	out.Uid = f.uid
	out.Gid = f.gid
	out.Blksize = blksize

	if v.IsDir() {
		out.Mode = 0755 | syscall.S_IFDIR
		out.Nlink = 2
	} else {
		out.Mode = 0644 | syscall.S_IFREG
		out.Nlink = 1
	}
}

// ttlFor implements spec §4.F's dynamic entry/attribute TTL policy: a
// loading placeholder must not be cached long enough to outlive the
// refresh that replaces it.
func (f *FS) ttlFor(v tree.VNode) (entryTTL, attrTTL time.Duration) {
	if v.Kind != tree.KindFeedDir && v.Kind != tree.KindArticleFile {
		return staticTTL, staticTTL
	}

	state := f.feedState(v.FeedName)
	switch state {
	case model.StateLoading:
		return 0, 0
	case model.StateError:
		return errorTTL, errorTTL
	default:
		if v.IsDir() {
			return loadedDirTTL, loadedDirTTL
		}
		return loadedFileTTL, loadedFileTTL
	}
}

// feedState resolves the current state of the feed owning a node, without
// ever fetching over the network.
func (f *FS) feedState(feedName string) model.FeedState {
	if f.repo == nil {
		return model.StateActive
	}
	feed, ok := f.repo.LoadFeedCacheFirst(feedName)
	if !ok {
		return model.StateLoading
	}
	return feed.Status.State
}

// Mount registers fsys with the kernel at mountpoint, applying the
// [fuse] config section's options. This runs the kernel dispatch loop on
// a dedicated OS thread (spec §4.H step 9) and returns once the mount is
// established; the caller waits on the returned server for unmount.
//
// Grounded on internal/fs/linearfs.go's Mount: same Options{AttrTimeout,
// EntryTimeout, MountOptions{Name, FsName, Debug}} shape, generalized to
// also honor AllowOther/AllowRoot/AutoUnmount/ReadOnly from config via the
// fusermount "-o" passthrough options slice.
func Mount(mountpoint string, fsys *FS, opts config.FuseOptions, debug bool) (*fuse.Server, error) {
	attrTimeout := loadedFileTTL
	entryTimeout := loadedDirTTL

	var fsOpts []string
	if opts.AllowRoot {
		fsOpts = append(fsOpts, "allow_root")
	}
	if opts.AutoUnmount {
		fsOpts = append(fsOpts, "auto_unmount")
	}
	if opts.ReadOnly {
		fsOpts = append(fsOpts, "ro")
	}

	mountOpts := fuse.MountOptions{
		Name:       "rss-fuse",
		FsName:     "rss-fuse",
		Debug:      debug,
		AllowOther: opts.AllowOther,
		Options:    fsOpts,
	}

	server, err := gofuse.Mount(mountpoint, fsys.Root(), &gofuse.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: mountOpts,
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}
