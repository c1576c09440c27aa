package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

const (
	incomingDirName = domain.IncomingDirName
	copyBufferSize  = 32 * 1024
)

// ProgressFunc receives progress fractions in non-decreasing order
type ProgressFunc func(progress float64)

// TransferResult is the outcome of a transfer: the final file path or a typed error
type TransferResult struct {
	Path string
	Err  error
}

// TransferNotifier is told about finished transfers
type TransferNotifier interface {
	NotifyTransferFinished(task domain.TransferTask, path string, err error)
}

// StartRequest describes one transfer
type StartRequest struct {
	// SessionID is the logical request key; at most one transfer per key can
	// be in flight. Defaults to URL.
	SessionID       string
	URL             string
	Headers         domain.AuthHeaders
	DestinationName string
	OnProgress      ProgressFunc
	OnComplete      func(TransferResult)
}

// TransferHandle is the caller's view of a started transfer
type TransferHandle struct {
	ID          string
	SessionID   string
	Destination string

	manager  *TransferManager
	progress atomic.Uint64
	state    atomic.Value
	done     chan struct{}
	result   TransferResult
}

// Progress returns the last reported fraction
func (h *TransferHandle) Progress() float64 {
	return math.Float64frombits(h.progress.Load())
}

// State returns the last known state
func (h *TransferHandle) State() domain.TransferState {
	return h.state.Load().(domain.TransferState)
}

// Done is closed after the completion callback has run
func (h *TransferHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. Only valid after Done is closed.
func (h *TransferHandle) Result() TransferResult {
	return h.result
}

// Wait blocks until the transfer finishes. If ctx ends first the transfer
// is cancelled.
func (h *TransferHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.manager.Cancel(h)
		<-h.done
	}
	return h.result.Path, h.result.Err
}

func (h *TransferHandle) setProgress(p float64) {
	h.progress.Store(math.Float64bits(p))
}

type liveTask struct {
	task       *domain.TransferTask
	key        string
	handle     *TransferHandle
	cancel     context.CancelFunc
	record     *domain.TransferRecord
	progressCh chan float64
	resultCh   chan taskOutcome
}

// taskOutcome is what the owner hands to a task's dispatcher once the task
// has left the live table
type taskOutcome struct {
	result TransferResult
	task   domain.TransferTask
}

// pushProgress replaces any undelivered value with p. Only the owner
// goroutine sends, so the send never blocks after the drain.
func (lt *liveTask) pushProgress(p float64) {
	select {
	case <-lt.progressCh:
	default:
	}
	lt.progressCh <- p
}

type transferEventKind int

const (
	eventAccepted transferEventKind = iota
	eventProgress
	eventFinished
)

type transferEvent struct {
	kind     transferEventKind
	id       string
	written  int64
	total    int64
	tempPath string
	err      error
}

// TransferManager owns in-flight downloads. All task state lives on a
// single goroutine; transports and callers talk to it through channels.
type TransferManager struct {
	client       *http.Client
	documentsDir string
	incomingDir  string
	repo         domain.TransferRepository
	notifier     TransferNotifier
	logger       *zap.Logger

	requests chan func()
	events   chan transferEvent
	quit     chan struct{}
	stopped  chan struct{}

	closeOnce    sync.Once
	transportsWg sync.WaitGroup
	dispatchWg   sync.WaitGroup

	// owned by run
	tasks     map[string]*liveTask
	bySession map[string]string
}

// TransferOption configures a TransferManager
type TransferOption func(*TransferManager)

// WithTransferRepository records finished transfers
func WithTransferRepository(repo domain.TransferRepository) TransferOption {
	return func(m *TransferManager) { m.repo = repo }
}

// WithTransferNotifier reports finished transfers
func WithTransferNotifier(notifier TransferNotifier) TransferOption {
	return func(m *TransferManager) { m.notifier = notifier }
}

// NewTransferManager creates a manager that writes into documentsDir
func NewTransferManager(client *http.Client, documentsDir string, logger *zap.Logger, opts ...TransferOption) (*TransferManager, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if documentsDir == "" {
		return nil, fmt.Errorf("documents directory not configured")
	}
	incoming := filepath.Join(documentsDir, incomingDirName)
	if err := os.MkdirAll(incoming, 0755); err != nil {
		return nil, fmt.Errorf("failed to create incoming directory: %w", err)
	}

	m := &TransferManager{
		client:       client,
		documentsDir: documentsDir,
		incomingDir:  incoming,
		logger:       logger,
		requests:     make(chan func()),
		events:       make(chan transferEvent, 64),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		tasks:        make(map[string]*liveTask),
		bySession:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.run()
	return m, nil
}

// DocumentsDir returns the directory finished files are moved into
func (m *TransferManager) DocumentsDir() string {
	return m.documentsDir
}

func (m *TransferManager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.requests:
			fn()
		case ev := <-m.events:
			m.handleEvent(ev)
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it
func (m *TransferManager) do(fn func()) error {
	done := make(chan struct{})
	select {
	case m.requests <- func() { fn(); close(done) }:
	case <-m.quit:
		return domain.ErrManagerClosed
	}
	<-done
	return nil
}

// Start begins a transfer. It fails without side effects when the name is
// unusable or the session already has a transfer in flight.
func (m *TransferManager) Start(ctx context.Context, req StartRequest) (*TransferHandle, error) {
	if err := domain.ValidateDestinationName(req.DestinationName); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := req.SessionID
	if key == "" {
		key = req.URL
	}

	var (
		handle   *TransferHandle
		startErr error
	)
	err := m.do(func() {
		if existing, ok := m.bySession[key]; ok {
			m.logger.Warn("Transfer already in flight",
				zap.String("session_id", key),
				zap.String("transfer_id", existing))
			startErr = domain.ErrTransferInProgress
			return
		}

		task := domain.NewTransferTask(req.SessionID, req.URL, req.DestinationName)
		transportCtx, cancel := context.WithCancel(context.Background())
		lt := &liveTask{
			task:   task,
			key:    key,
			cancel: cancel,
			handle: &TransferHandle{
				ID:          task.ID,
				SessionID:   req.SessionID,
				Destination: filepath.Join(m.documentsDir, req.DestinationName),
				manager:     m,
				done:        make(chan struct{}),
			},
			progressCh: make(chan float64, 1),
			resultCh:   make(chan taskOutcome, 1),
		}
		lt.handle.state.Store(task.State)
		m.tasks[task.ID] = lt
		m.bySession[key] = task.ID

		if m.repo != nil {
			lt.record = domain.NewTransferRecord(task)
			if err := m.repo.Create(lt.record); err != nil {
				m.logger.Error("Failed to record transfer", zap.String("transfer_id", task.ID), zap.Error(err))
				lt.record = nil
			}
		}

		m.dispatchWg.Add(1)
		go m.dispatch(lt, req.OnProgress, req.OnComplete)

		m.transportsWg.Add(1)
		go m.transfer(transportCtx, task.ID, req.URL, req.Headers)

		m.logger.Info("Transfer started",
			zap.String("transfer_id", task.ID),
			zap.String("session_id", key),
			zap.String("url", req.URL),
			zap.String("destination", req.DestinationName),
			zap.Strings("headers", req.Headers.Names()))

		handle = lt.handle
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}
	return handle, nil
}

// Download starts a transfer and waits for its result
func (m *TransferManager) Download(ctx context.Context, req StartRequest) (string, error) {
	handle, err := m.Start(ctx, req)
	if err != nil {
		return "", err
	}
	return handle.Wait(ctx)
}

// Progress returns the last reported fraction for h
func (m *TransferManager) Progress(h *TransferHandle) float64 {
	return h.Progress()
}

// Cancel aborts the transfer. The live entry is removed before Cancel
// returns; the transport is not waited for. Cancelling a finished transfer
// is a no-op.
func (m *TransferManager) Cancel(h *TransferHandle) {
	if h == nil {
		return
	}
	_ = m.do(func() {
		if lt, ok := m.tasks[h.ID]; ok {
			m.finish(lt, domain.TransferCancelled, "", &domain.TransferError{Kind: domain.ErrorKindCancelled, Err: context.Canceled})
		}
	})
}

// CancelByID cancels the transfer with the given id
func (m *TransferManager) CancelByID(id string) error {
	found := false
	err := m.do(func() {
		if lt, ok := m.tasks[id]; ok {
			found = true
			m.finish(lt, domain.TransferCancelled, "", &domain.TransferError{Kind: domain.ErrorKindCancelled, Err: context.Canceled})
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrTransferNotFound
	}
	return nil
}

// CancelAll cancels every tracked transfer
func (m *TransferManager) CancelAll() {
	_ = m.do(m.cancelAll)
}

func (m *TransferManager) cancelAll() {
	for _, lt := range m.tasks {
		m.finish(lt, domain.TransferCancelled, "", &domain.TransferError{Kind: domain.ErrorKindCancelled, Err: context.Canceled})
	}
}

// Get returns a copy of a live task
func (m *TransferManager) Get(id string) (domain.TransferTask, error) {
	var (
		task  domain.TransferTask
		found bool
	)
	if err := m.do(func() {
		if lt, ok := m.tasks[id]; ok {
			task = *lt.task
			found = true
		}
	}); err != nil {
		return task, err
	}
	if !found {
		return task, domain.ErrTransferNotFound
	}
	return task, nil
}

// Active returns copies of all live tasks
func (m *TransferManager) Active() []domain.TransferTask {
	var tasks []domain.TransferTask
	_ = m.do(func() {
		tasks = make([]domain.TransferTask, 0, len(m.tasks))
		for _, lt := range m.tasks {
			tasks = append(tasks, *lt.task)
		}
	})
	return tasks
}

// Close cancels everything and waits for transports and callbacks to stop.
// It is safe to call more than once.
func (m *TransferManager) Close() error {
	m.closeOnce.Do(func() {
		_ = m.do(m.cancelAll)
		close(m.quit)
		<-m.stopped
		m.transportsWg.Wait()
		m.drainEvents()
		m.dispatchWg.Wait()
		m.logger.Debug("Transfer manager closed", zap.String("documents_dir", m.documentsDir))
	})
	return nil
}

// drainEvents discards events buffered after the owner stopped
func (m *TransferManager) drainEvents() {
	for {
		select {
		case ev := <-m.events:
			if ev.tempPath != "" {
				removeQuietly(ev.tempPath)
			}
		default:
			return
		}
	}
}

func (m *TransferManager) handleEvent(ev transferEvent) {
	lt, ok := m.tasks[ev.id]
	if !ok {
		// Late event for a cancelled task
		if ev.tempPath != "" {
			removeQuietly(ev.tempPath)
		}
		return
	}

	switch ev.kind {
	case eventAccepted:
		lt.task.MarkActive()
		lt.task.UpdateProgress(0, ev.total)
		lt.handle.state.Store(lt.task.State)

	case eventProgress:
		if lt.task.UpdateProgress(ev.written, ev.total) {
			lt.handle.setProgress(lt.task.Progress)
			lt.pushProgress(lt.task.Progress)
		}

	case eventFinished:
		lt.task.BytesWritten = ev.written
		if ev.err != nil {
			state := domain.TransferFailed
			if errors.Is(ev.err, domain.ErrCancelled) {
				state = domain.TransferCancelled
			}
			m.finish(lt, state, "", ev.err)
			return
		}

		destination := filepath.Join(m.documentsDir, lt.task.DestinationName)
		if err := replaceFile(ev.tempPath, destination); err != nil {
			removeQuietly(ev.tempPath)
			m.finish(lt, domain.TransferFailed, "", &domain.TransferError{Kind: domain.ErrorKindInvalidDestination, Err: err})
			return
		}
		m.finish(lt, domain.TransferSucceeded, destination, nil)
	}
}

// finish moves lt to a terminal state, drops it from the live table and
// hands the result to its dispatcher
func (m *TransferManager) finish(lt *liveTask, state domain.TransferState, path string, err error) {
	lt.task.Finish(state)
	lt.handle.state.Store(state)
	if state == domain.TransferSucceeded {
		lt.handle.setProgress(1)
		lt.pushProgress(1)
	}

	delete(m.tasks, lt.task.ID)
	delete(m.bySession, lt.key)
	lt.cancel()
	lt.resultCh <- taskOutcome{result: TransferResult{Path: path, Err: err}, task: *lt.task}

	fields := []zap.Field{
		zap.String("transfer_id", lt.task.ID),
		zap.String("state", string(state)),
		zap.Int64("bytes", lt.task.BytesWritten),
	}
	switch state {
	case domain.TransferSucceeded:
		m.logger.Info("Transfer completed", append(fields, zap.String("file", path))...)
	case domain.TransferCancelled:
		m.logger.Info("Transfer cancelled", fields...)
	default:
		m.logger.Warn("Transfer failed", append(fields, zap.String("kind", domain.ErrorKind(err)), zap.Error(err))...)
	}
}

// recordOutcome writes the history row. It runs on the task's dispatcher,
// never on the owner goroutine.
func (m *TransferManager) recordOutcome(lt *liveTask, out taskOutcome) {
	if lt.record == nil {
		return
	}
	lt.record.MarkFinished(out.task.State, out.result.Path, out.task.BytesWritten, out.result.Err)
	if err := m.repo.Update(lt.record); err != nil {
		m.logger.Error("Failed to update transfer record", zap.String("transfer_id", out.task.ID), zap.Error(err))
	}
}

func (m *TransferManager) notify(out taskOutcome) {
	if m.notifier == nil || out.task.State == domain.TransferCancelled {
		return
	}
	m.notifier.NotifyTransferFinished(out.task, out.result.Path, out.result.Err)
}

// dispatch delivers callbacks for one task off the owner goroutine.
// Pending progress is always flushed before the result. History and
// notifications run here so a slow notifier never blocks the owner.
func (m *TransferManager) dispatch(lt *liveTask, onProgress ProgressFunc, onComplete func(TransferResult)) {
	defer m.dispatchWg.Done()
	deliver := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	for {
		select {
		case p := <-lt.progressCh:
			deliver(p)
		case out := <-lt.resultCh:
			select {
			case p := <-lt.progressCh:
				deliver(p)
			default:
			}
			m.recordOutcome(lt, out)
			lt.handle.result = out.result
			if onComplete != nil {
				onComplete(out.result)
			}
			close(lt.handle.done)
			m.notify(out)
			return
		}
	}
}

// transfer runs the HTTP exchange for one task and reports back. It removes
// its own temp file on every failure path.
func (m *TransferManager) transfer(ctx context.Context, id, rawURL string, headers domain.AuthHeaders) {
	defer m.transportsWg.Done()

	tempPath, written, err := m.fetch(ctx, id, rawURL, headers)
	ev := transferEvent{kind: eventFinished, id: id, written: written, tempPath: tempPath, err: err}
	select {
	case m.events <- ev:
	case <-m.quit:
		if tempPath != "" {
			removeQuietly(tempPath)
		}
	}
}

func (m *TransferManager) fetch(ctx context.Context, id, rawURL string, headers domain.AuthHeaders) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, domain.NewNetworkError(fmt.Errorf("failed to build request: %w", err))
	}
	headers.Apply(req.Header)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, domain.NewHTTPStatusError(resp.StatusCode)
	}

	total := resp.ContentLength
	m.report(ctx, transferEvent{kind: eventAccepted, id: id, total: total})

	file, err := os.CreateTemp(m.incomingDir, id+"-*.part")
	if err != nil {
		return "", 0, domain.NewNetworkError(fmt.Errorf("failed to create temp file: %w", err))
	}

	written, err := m.copyWithProgress(ctx, id, file, resp.Body, total)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = domain.NewNetworkError(closeErr)
	}
	if err != nil {
		removeQuietly(file.Name())
		return "", written, err
	}
	return file.Name(), written, nil
}

func (m *TransferManager) copyWithProgress(ctx context.Context, id string, dst io.Writer, src io.Reader, total int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, classifyTransportError(ctx, err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, domain.NewNetworkError(fmt.Errorf("failed to write temp file: %w", err))
			}
			written += int64(n)
			m.report(ctx, transferEvent{kind: eventProgress, id: id, written: written, total: total})
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, classifyTransportError(ctx, readErr)
		}
	}
}

// report sends a non-terminal event; it is dropped once the task is cancelled
func (m *TransferManager) report(ctx context.Context, ev transferEvent) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	case <-m.quit:
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &domain.TransferError{Kind: domain.ErrorKindCancelled, Err: err}
	}
	return domain.NewNetworkError(err)
}

// replaceFile moves src over dst, removing any existing dst first
func replaceFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing file: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
