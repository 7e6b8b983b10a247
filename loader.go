package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bosun-ai/swiftide-docker-executor/internal/sidecar"
)

// FileNode is one fully or partially received chunk of a file streamed by
// the File Loader Client (§3). Concatenation into whole-file records is the
// consumer's responsibility; the sidecar guarantees per-path chunk
// contiguity.
type FileNode struct {
	Path         string
	Chunk        []byte
	OriginalSize int32
}

// ownership is the shared state backing the borrow/own duality of §3/§9: at
// most one owner of teardown exists at any time. A FileLoader that only
// borrows must never trigger teardown on its own Close; if the Executor is
// torn down while a borrow is outstanding, the Executor defers its own
// teardown and the last borrowing loader to finish performs it instead.
type ownership struct {
	mu          sync.Mutex
	borrowCount int
	promoted    bool
	handedOff   bool
	teardown    func(ctx context.Context) error
}

func (o *ownership) addBorrow() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.borrowCount++
}

// releaseBorrow decrements the borrow count and performs teardown if the
// Executor already dropped while this was the last outstanding borrower.
func (o *ownership) releaseBorrow(ctx context.Context) {
	o.mu.Lock()
	o.borrowCount--
	shouldTeardown := o.promoted && o.borrowCount == 0
	o.mu.Unlock()

	if shouldTeardown {
		_ = o.teardown(ctx)
	}
}

// promote marks every outstanding borrower as now responsible for teardown
// once they finish, and returns whether teardown should happen immediately
// (no outstanding borrowers).
func (o *ownership) promote() (immediate bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.promoted = true
	return o.borrowCount == 0
}

// handOff marks teardown as fully transferred to an owning FileLoader (via
// Executor.IntoFileLoader). Unlike promote, this is not about outstanding
// borrowers: it permanently retires the Executor's own side of teardown, so
// Stop must check it before ever touching the container.
func (o *ownership) handOff() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handedOff = true
}

// isHandedOff reports whether ownership has been transferred via handOff.
func (o *ownership) isHandedOff() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handedOff
}

// FileLoader consumes the sidecar's streaming file-load RPC, exposing a
// lazy, finite, non-restartable sequence of FileNode records (§4.F).
type FileLoader struct {
	client *sidecar.LoaderClient
	own    *ownership
	owns   bool
	closed atomic.Bool
}

// fileLoaderBorrowed constructs a loader that shares liveness with exec: it
// never tears the container down itself.
func fileLoaderBorrowed(client *sidecar.LoaderClient, own *ownership) *FileLoader {
	own.addBorrow()
	return &FileLoader{client: client, own: own, owns: false}
}

// intoFileLoader constructs a loader that has taken full ownership of
// teardown from exec; exec's own drop will no longer tear down the
// container (see Executor.IntoFileLoader).
func intoFileLoader(client *sidecar.LoaderClient, own *ownership) *FileLoader {
	return &FileLoader{client: client, own: own, owns: true}
}

// Stream loads every file under rootPath whose extension (case-insensitive,
// matched on the suffix after the final ".") is in extensions — an empty
// extensions list means "all files" — invoking onNode for each chunk in
// arrival order.
func (l *FileLoader) Stream(ctx context.Context, rootPath string, extensions []string, onNode func(FileNode) error) error {
	req := sidecar.LoadFilesRequest{RootPath: rootPath, FileExtensions: extensions}
	return l.client.Stream(ctx, req, func(n sidecar.NodeResponse) error {
		return onNode(FileNode{Path: n.Path, Chunk: []byte(n.Chunk), OriginalSize: n.OriginalSize})
	})
}

// Close releases this loader's claim on the running container. If this
// loader only borrowed and the Executor has already been dropped while
// waiting for this loader, Close performs the deferred teardown. If this
// loader owns the container outright (via IntoFileLoader), Close tears it
// down directly.
func (l *FileLoader) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.owns {
		return l.own.teardown(ctx)
	}
	l.own.releaseBorrow(ctx)
	return nil
}
