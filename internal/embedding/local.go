package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/recallerr"
)

const localDimension = 384

// staleLockAge is the conservative age after which a leftover .lock file
// in the model cache directory is considered abandoned and removed.
const staleLockAge = 10 * time.Minute

// request/response sent across the dedicated worker-thread channel.
type embedRequest struct {
	texts []string
	reply chan embedReply
}

type embedReply struct {
	vectors [][]float32
	err     error
}

// Local wraps an in-process ONNX model. All inference calls are funneled
// through a single goroutine pinned to its own OS thread via
// runtime.LockOSThread: the native runtime's allocator retains arena
// buffers scoped to the calling thread, so running inference inline on
// arbitrary goroutines grows memory monotonically as the scheduler moves
// them across threads. Pinning to one stable OS thread for the lifetime
// of the process bounds steady-state memory instead.
type Local struct {
	modelPath string
	cacheDir  string

	reqCh chan embedRequest
	ready chan error
	log   obslog.Logger
}

// NewLocal constructs the local provider and starts its worker thread.
// The worker performs model initialization itself so a failed load never
// blocks the caller beyond the configured timeout.
func NewLocal(modelPath, cacheDir string, initTimeout time.Duration, log obslog.Logger) (*Local, error) {
	if log == nil {
		log = obslog.NewZerologLogger("info")
	}
	l := &Local{
		modelPath: modelPath,
		cacheDir:  cacheDir,
		reqCh:     make(chan embedRequest),
		ready:     make(chan error, 1),
		log:       log,
	}
	go l.worker()

	if initTimeout <= 0 {
		initTimeout = 30 * time.Second
	}
	select {
	case err := <-l.ready:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", recallerr.ErrEmbeddingInit, err)
		}
	case <-time.After(initTimeout):
		return nil, fmt.Errorf("%w: model init exceeded %s", recallerr.ErrEmbeddingInit, initTimeout)
	}
	return l, nil
}

func (l *Local) worker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := l.acquireCacheLock(); err != nil {
		l.ready <- err
		return
	}
	// Keep the native runtime's own thread pools at one; this goroutine's
	// pinned thread is the entire inference budget.
	os.Setenv("OMP_NUM_THREADS", "1")
	os.Setenv("ORT_NUM_THREADS", "1")
	if err := ort.InitializeEnvironment(); err != nil {
		l.ready <- err
		return
	}
	defer ort.DestroyEnvironment()

	session, err := newOnnxSession(l.modelPath)
	if err != nil {
		l.ready <- err
		return
	}
	defer session.Close()

	l.ready <- nil

	for req := range l.reqCh {
		vecs, err := session.Run(req.texts)
		req.reply <- embedReply{vectors: vecs, err: err}
	}
}

func (l *Local) acquireCacheLock() error {
	if l.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return fmt.Errorf("embedding: create cache dir: %w", err)
	}
	lockPath := filepath.Join(l.cacheDir, ".lock")
	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		}
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// Another process holds a live lock; proceed without blocking.
		// The ONNX session itself is read-only against the cached model
		// files once downloaded.
		return nil
	}
	f.Close()
	return nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reply := make(chan embedReply, 1)
	select {
	case l.reqCh <- embedRequest{texts: texts, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.vectors, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Local) Dimension() int { return localDimension }
func (l *Local) Name() string   { return "local" }

func (l *Local) Ping(ctx context.Context) error {
	_, err := l.EmbedBatch(ctx, []string{"ping"})
	return err
}
