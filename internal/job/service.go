package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maauso/bulk-audio-normalizer/internal/engine"
	"github.com/maauso/bulk-audio-normalizer/internal/events"
	"github.com/maauso/bulk-audio-normalizer/internal/media"
	"github.com/maauso/bulk-audio-normalizer/internal/scheduler"
	"github.com/maauso/bulk-audio-normalizer/internal/settings"
	"github.com/maauso/bulk-audio-normalizer/internal/storage"
)

// Static errors returned by the Service.
var (
	// ErrNoAudioFiles is returned when the input directory holds no WAV files.
	ErrNoAudioFiles = errors.New("job: no audio files found")
	// ErrRunInProgress is returned when a run is started while another is active.
	ErrRunInProgress = errors.New("job: a run is already in progress")
	// ErrNoActiveRun is returned by Cancel when nothing is running.
	ErrNoActiveRun = errors.New("job: no active run")
	// ErrVerificationFailed is returned when rendered outputs are missing
	// after a batch reported success.
	ErrVerificationFailed = errors.New("job: output verification failed")
)

// Preview sample bounds.
const (
	MinPreviewSample = 1
	MaxPreviewSample = 50
)

// DefaultPreviewConcurrency is the worker count for previews.
const DefaultPreviewConcurrency = 2

// defaultProgressInterval spaces per-file progress events.
const defaultProgressInterval = 100 * time.Millisecond

// DefaultConcurrency returns max(1, min(NumCPU-1, 4)).
func DefaultConcurrency() int {
	return max(1, min(runtime.NumCPU()-1, 4))
}

// DurationProber returns a file's duration in seconds. It never fails.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string, tr engine.Tracker) float64
}

// BatchRequest starts a full batch.
type BatchRequest struct {
	InputDir  string
	OutputDir string
	Settings  settings.Settings
	// Concurrency overrides the service default when > 0.
	Concurrency int
	// Publish uploads every rendered file through the storage backend.
	Publish bool
}

// PreviewRequest starts a preview over a random sample of the input.
type PreviewRequest struct {
	InputDir   string
	Settings   settings.Settings
	SampleSize int
	// Concurrency overrides the service default when > 0.
	Concurrency int
}

// Summary describes a finished run.
type Summary struct {
	BatchID   string     `json:"batchId"`
	Kind      Kind       `json:"kind"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Canceled  int        `json:"canceled"`
	Stopped   bool       `json:"stopped"`
	TempDir   string     `json:"tempDir,omitempty"`
	Files     []Snapshot `json:"files"`
}

// Service orchestrates batch and preview runs. At most one run is active
// at a time.
type Service struct {
	prober    DurationProber
	processor media.Processor
	store     storage.Storage
	events    events.Publisher
	logger    *slog.Logger

	concurrency        int
	previewConcurrency int
	thresholds         scheduler.Thresholds
	sampler            scheduler.Sampler
	progressInterval   time.Duration
	perm               func(n int) []int

	mu     sync.Mutex
	active *Batch
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConcurrency sets the default batch concurrency.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPreviewConcurrency sets the default preview concurrency.
func WithPreviewConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.previewConcurrency = n
		}
	}
}

// WithThresholds configures the adaptive throttle.
func WithThresholds(t scheduler.Thresholds) Option {
	return func(s *Service) {
		s.thresholds = t
	}
}

// WithSampler replaces the host load sampler.
func WithSampler(sm scheduler.Sampler) Option {
	return func(s *Service) {
		s.sampler = sm
	}
}

// WithProgressInterval sets the minimum spacing of per-file progress events.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.progressInterval = d
		}
	}
}

// WithPermutation replaces the random permutation used to sample previews.
func WithPermutation(perm func(n int) []int) Option {
	return func(s *Service) {
		if perm != nil {
			s.perm = perm
		}
	}
}

// NewService creates a new Service.
func NewService(prober DurationProber, processor media.Processor, store storage.Storage, pub events.Publisher, opts ...Option) *Service {
	s := &Service{
		prober:             prober,
		processor:          processor,
		store:              store,
		events:             pub,
		logger:             slog.Default(),
		concurrency:        DefaultConcurrency(),
		previewConcurrency: DefaultPreviewConcurrency,
		thresholds:         scheduler.DefaultThresholds(),
		progressInterval:   defaultProgressInterval,
		perm:               rand.Perm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active reports whether a run is in progress.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Current returns snapshots of the active run's files, or nil when idle.
func (s *Service) Current() []Snapshot {
	s.mu.Lock()
	b := s.active
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return snapshots(b.Tasks.List())
}

// File returns a snapshot of one file of the active run.
func (s *Service) File(id string) (Snapshot, error) {
	s.mu.Lock()
	b := s.active
	s.mu.Unlock()
	if b == nil {
		return Snapshot{}, ErrNoActiveRun
	}
	t, err := b.Tasks.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Throttle returns the concurrency controller state of the active run.
func (s *Service) Throttle() (scheduler.ThrottleState, bool) {
	s.mu.Lock()
	b := s.active
	s.mu.Unlock()
	if b == nil {
		return scheduler.ThrottleState{}, false
	}
	return b.ThrottleState()
}

// Cancel stops the active run: dispatch halts and every engine process of
// the run is killed. RunBatch or RunPreview then returns with a stopped
// summary once the in-flight files have unwound.
func (s *Service) Cancel() error {
	s.mu.Lock()
	b := s.active
	s.mu.Unlock()
	if b == nil {
		return ErrNoActiveRun
	}

	killed := b.cancel()
	s.logger.Info("run cancel requested",
		slog.String("batch_id", b.ID),
		slog.Int("killed_processes", killed),
	)
	return nil
}

// RunBatch normalizes every WAV file under req.InputDir into req.OutputDir,
// preserving relative paths. It blocks until the run ends. A canceled run
// returns a stopped summary and no error.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*Summary, error) {
	if err := req.Settings.Validate(); err != nil {
		return nil, err
	}
	if req.Publish && !s.store.CanPublish() {
		return nil, storage.ErrS3NotConfigured
	}

	b, runCtx, err := s.begin(ctx, KindBatch, req.InputDir, req.OutputDir, req.Settings)
	if err != nil {
		return nil, err
	}
	defer s.end(b)

	files, err := s.discover(runCtx, req.InputDir)
	if err != nil {
		return s.abort(runCtx, b, err)
	}
	for i, path := range files {
		out, err := storage.OutputPath(req.InputDir, req.OutputDir, path)
		if err != nil {
			return s.abort(runCtx, b, err)
		}
		b.Tasks.Add(NewFileTask(i, relName(req.InputDir, path), path, out))
	}

	concurrency := s.concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}

	runErr := s.run(runCtx, b, concurrency, req.Publish)
	summary := summarize(b)

	switch {
	case summary.Stopped:
		s.publish(events.Event{Type: events.TypeStopped, Completed: summary.Completed, Total: summary.Total})
		return summary, nil
	case runErr != nil:
		s.publishError(b, runErr)
		return summary, runErr
	}

	if err := verifyOutputs(b.Tasks.List()); err != nil {
		s.publishError(b, err)
		return summary, err
	}

	s.publish(events.Event{
		Type:           events.TypeBatchComplete,
		Completed:      summary.Completed,
		Total:          summary.Total,
		OverallPercent: 100,
	})
	s.logger.Info("batch complete",
		slog.String("batch_id", b.ID),
		slog.Int("files", summary.Total),
	)
	return summary, nil
}

// RunPreview renders a random sample of the input into a fresh temporary
// directory so settings can be auditioned before a full batch.
func (s *Service) RunPreview(ctx context.Context, req PreviewRequest) (*Summary, error) {
	if err := req.Settings.Validate(); err != nil {
		return nil, err
	}

	b, runCtx, err := s.begin(ctx, KindPreview, req.InputDir, "", req.Settings)
	if err != nil {
		return nil, err
	}
	defer s.end(b)

	files, err := s.discover(runCtx, req.InputDir)
	if err != nil {
		return s.abort(runCtx, b, err)
	}
	sample := s.sample(files, req.SampleSize)

	dir, err := s.store.NewPreviewDir(runCtx)
	if err != nil {
		return s.abort(runCtx, b, err)
	}
	b.OutputDir = dir

	for i, path := range sample {
		out, err := storage.OutputPath(req.InputDir, dir, path)
		if err != nil {
			return s.abort(runCtx, b, err)
		}
		b.Tasks.Add(NewFileTask(i, relName(req.InputDir, path), path, out))
	}

	concurrency := s.previewConcurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}

	runErr := s.run(runCtx, b, concurrency, false)
	summary := summarize(b)
	summary.TempDir = dir

	switch {
	case summary.Stopped:
		s.publish(events.Event{Type: events.TypeStopped, Completed: summary.Completed, Total: summary.Total, TempDir: dir})
		return summary, nil
	case runErr != nil:
		s.publishError(b, runErr)
		return summary, runErr
	}

	s.publish(events.Event{
		Type:    events.TypePreviewComplete,
		Count:   summary.Completed,
		Total:   summary.Total,
		TempDir: dir,
	})
	s.logger.Info("preview complete",
		slog.String("batch_id", b.ID),
		slog.Int("files", summary.Completed),
		slog.String("temp_dir", dir),
	)
	return summary, nil
}

// begin claims the single run slot.
func (s *Service) begin(ctx context.Context, kind Kind, inputDir, outputDir string, st settings.Settings) (*Batch, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, nil, ErrRunInProgress
	}
	runCtx, stop := context.WithCancel(ctx)
	b := newBatch(kind, inputDir, outputDir, st, stop)
	s.active = b
	return b, runCtx, nil
}

// end releases the run slot and drops the run's registry.
func (s *Service) end(b *Batch) {
	s.mu.Lock()
	if s.active == b {
		s.active = nil
	}
	s.mu.Unlock()
	b.stop()
	b.Tasks.Clear()
}

// abort ends a run that failed before any file was dispatched and reports
// it on the event stream. A failure caused by Cancel or by the caller's
// context reports a stopped run instead.
func (s *Service) abort(ctx context.Context, b *Batch, err error) (*Summary, error) {
	if ctx.Err() != nil {
		b.canceled.Store(true)
	}
	if !b.Canceled() {
		s.publishError(b, err)
		return nil, err
	}
	s.publish(events.Event{Type: events.TypeStopped})
	return &Summary{BatchID: b.ID, Kind: b.Kind, Stopped: true}, nil
}

func (s *Service) discover(ctx context.Context, root string) ([]string, error) {
	files, err := storage.DiscoverWAV(ctx, root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAudioFiles, root)
	}
	return files, nil
}

// sample picks size files without replacement, size clamped to
// [MinPreviewSample, MaxPreviewSample] and to len(files). The picks keep
// discovery order.
func (s *Service) sample(files []string, size int) []string {
	n := min(max(size, MinPreviewSample), MaxPreviewSample, len(files))
	idx := s.perm(len(files))[:n]
	slices.Sort(idx)

	out := make([]string, n)
	for i, j := range idx {
		out[i] = files[j]
	}
	return out
}

// run probes durations and drives every task through the pool. It returns
// the first fatal file error.
func (s *Service) run(ctx context.Context, b *Batch, concurrency int, publish bool) error {
	tasks := b.Tasks.List()

	s.publish(events.Event{Type: events.TypeBatchStart, Total: len(tasks), Message: string(b.Kind)})
	s.logger.Info("run started",
		slog.String("batch_id", b.ID),
		slog.String("kind", string(b.Kind)),
		slog.Int("files", len(tasks)),
		slog.Int("concurrency", concurrency),
	)

	s.probe(ctx, tasks, concurrency)

	throttle := scheduler.NewThrottle(concurrency, s.thresholds, s.sampler, s.logger)
	pool := scheduler.NewPool(throttle)
	b.setThrottle(pool.Throttle())
	err := pool.Run(ctx, len(tasks), func(ctx context.Context, i int) error {
		return s.processTask(ctx, b, tasks[i], publish)
	})

	if b.Canceled() || ctx.Err() != nil {
		for _, t := range tasks {
			if !t.Status().IsTerminal() {
				_ = t.TransitionTo(StatusCanceled)
			}
		}
		b.canceled.Store(true)
		return nil
	}
	return err
}

// probe fills in every task's duration with bounded parallelism.
func (s *Service) probe(ctx context.Context, tasks []*FileTask, limit int) {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for _, t := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil || t.Canceled() {
				return nil
			}
			t.SetDuration(s.prober.ProbeDuration(ctx, t.InputPath, t))
			return nil
		})
	}
	_ = g.Wait()
}

// processTask runs one file. Only a genuine engine failure is returned;
// cancellation is not an error.
func (s *Service) processTask(ctx context.Context, b *Batch, t *FileTask, publish bool) error {
	if b.Canceled() || t.Canceled() {
		_ = t.TransitionTo(StatusCanceled)
		return nil
	}

	logger := s.logger.With(
		slog.String("batch_id", b.ID),
		slog.String("file_id", t.ID),
		slog.String("name", t.Name),
	)
	s.publish(events.Event{Type: events.TypeFileStart, FileID: t.ID, Name: t.Name})

	res, err := s.processor.Process(ctx, media.Target{
		Input:    t.InputPath,
		Output:   t.OutputPath,
		Duration: t.Duration(),
		Tracker:  t,
	}, b.Settings, s.hooks(b, t, logger))

	switch {
	case err == nil && !b.Canceled():
	case media.IsCanceled(err) || b.Canceled():
		_ = t.TransitionTo(StatusCanceled)
		logger.Info("file canceled")
		return nil
	default:
		_ = t.Fail(err.Error())
		logger.Error("file failed", slog.String("error", err.Error()))
		s.publish(events.Event{
			Type:    events.TypeFileDone,
			FileID:  t.ID,
			Name:    t.Name,
			Status:  string(StatusFailed),
			Message: err.Error(),
		})
		return fmt.Errorf("%s: %w", t.Name, err)
	}

	if err := t.TransitionTo(StatusDone); err != nil {
		logger.Warn("unexpected task state at completion",
			slog.String("status", string(t.Status())),
		)
	}
	if publish {
		s.publishOutput(ctx, b, t, logger)
	}

	s.publish(events.Event{
		Type:     events.TypeFileDone,
		FileID:   t.ID,
		Name:     t.Name,
		Status:   string(StatusDone),
		Rendered: res.Output,
		Percent:  100,
	})
	if b.Kind == KindPreview {
		s.publish(events.Event{
			Type:     events.TypePreviewFileDone,
			FileID:   t.ID,
			Name:     t.Name,
			Original: t.InputPath,
			Rendered: res.Output,
		})
	}
	s.publishProgress(b, t, 100)

	logger.Info("file done",
		slog.String("output", res.Output),
		slog.String("codec", res.Codec),
	)
	return nil
}

// hooks connects processor notifications to the task state machine and
// the event stream.
func (s *Service) hooks(b *Batch, t *FileTask, logger *slog.Logger) media.Hooks {
	limiter := rate.NewLimiter(rate.Every(s.progressInterval), 1)
	return media.Hooks{
		OnPhase: func(p media.Phase, st media.PhaseStatus) {
			if st == media.PhaseStart {
				if err := t.TransitionTo(Status(p)); err != nil {
					logger.Debug("phase transition rejected",
						slog.String("from", string(t.Status())),
						slog.String("to", string(p)),
					)
				}
			}
			s.publish(events.Event{
				Type:   events.TypePhase,
				FileID: t.ID,
				Name:   t.Name,
				Phase:  string(p),
				Status: string(st),
			})
		},
		OnProgress: func(_ media.Phase, percent, processed float64) {
			t.SetProcessed(processed)
			if percent < 100 && !limiter.Allow() {
				return
			}
			s.publishProgress(b, t, percent)
		},
		OnLog: func(p media.Phase, line string) {
			logger.Debug(line, slog.String("phase", string(p)))
			s.publish(events.Event{
				Type:    events.TypeLog,
				FileID:  t.ID,
				Name:    t.Name,
				Phase:   string(p),
				Message: line,
			})
		},
	}
}

// publishProgress emits a progress event. Aggregation and publication
// happen under the run's progress lock so that events reach the bus in the
// order their aggregates were computed.
func (s *Service) publishProgress(b *Batch, t *FileTask, percent float64) {
	b.progressMu.Lock()
	defer b.progressMu.Unlock()

	agg := Aggregate(b.Tasks.List())
	s.publish(events.Event{
		Type:           events.TypeProgress,
		FileID:         t.ID,
		Name:           t.Name,
		Percent:        percent,
		OverallPercent: b.advance(agg.Percent),
		Completed:      agg.Completed,
		Total:          agg.Total,
	})
}

// publishOutput uploads a rendered file under its path relative to the
// output root. Upload failures are logged and do not fail the file.
func (s *Service) publishOutput(ctx context.Context, b *Batch, t *FileTask, logger *slog.Logger) {
	key := t.Name
	if rel, err := filepath.Rel(b.OutputDir, t.OutputPath); err == nil {
		key = filepath.ToSlash(rel)
	}
	url, err := s.store.Publish(ctx, key, t.OutputPath)
	if err != nil {
		logger.Warn("publish failed", slog.String("error", err.Error()))
		s.publish(events.Event{Type: events.TypeLog, FileID: t.ID, Name: t.Name, Message: "publish failed: " + err.Error()})
		return
	}
	t.SetURL(url)
	logger.Info("output published", slog.String("url", url))
}

func (s *Service) publishError(b *Batch, err error) {
	s.logger.Error("run failed",
		slog.String("batch_id", b.ID),
		slog.String("error", err.Error()),
	)
	agg := Aggregate(b.Tasks.List())
	s.publish(events.Event{
		Type:      events.TypeBatchError,
		Message:   err.Error(),
		Completed: agg.Completed,
		Total:     agg.Total,
	})
}

func (s *Service) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

// verifyOutputs checks that every task has a rendered file on disk.
func verifyOutputs(tasks []*FileTask) error {
	missing := 0
	for _, t := range tasks {
		if _, err := os.Stat(t.OutputPath); err != nil {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d of %d outputs missing", ErrVerificationFailed, missing, len(tasks))
	}
	return nil
}

func summarize(b *Batch) *Summary {
	tasks := b.Tasks.List()
	sum := &Summary{
		BatchID: b.ID,
		Kind:    b.Kind,
		Total:   len(tasks),
		Stopped: b.Canceled(),
		Files:   snapshots(tasks),
	}
	for _, snap := range sum.Files {
		switch snap.Status {
		case StatusDone:
			sum.Completed++
		case StatusFailed:
			sum.Failed++
		case StatusCanceled:
			sum.Canceled++
		}
	}
	return sum
}

func snapshots(tasks []*FileTask) []Snapshot {
	out := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.Snapshot()
	}
	return out
}

func relName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
