package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardwatch/scraper-engine/internal/model"
	"boardwatch/scraper-engine/internal/scraper"
	"boardwatch/scraper-engine/internal/store"
)

// ErrDeadlineExceeded marks a job that hit its wall-clock ceiling. The job
// record carries its text as the error column.
var ErrDeadlineExceeded = errors.New("deadline_exceeded")

// ErrQueueFull is returned by Enqueue when the intake queue is saturated.
var ErrQueueFull = errors.New("intake queue full")

// Fetcher retrieves one URL. Implemented by scraper.Fetcher; faked in tests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.FetchResult, error)
}

// Extractor parses fetched content into candidates.
type Extractor interface {
	ExtractRSS(body []byte) ([]model.Candidate, error)
	ExtractHTML(body []byte, boardID, baseURL string) ([]model.Candidate, error)
}

// Limiter provides the per-domain token buckets.
type Limiter interface {
	Configure(domain string, perMin int)
	Acquire(ctx context.Context, domain string, timeout time.Duration) error
}

// DedupCache is the optional fast path in front of the checksum unique index.
// SeenRecently is a read; MarkSeen records a checksum only after the storage
// layer has accepted it, so a failed insert is never masked on retry.
type DedupCache interface {
	SeenRecently(ctx context.Context, checksum string) bool
	MarkSeen(ctx context.Context, checksum string)
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Store          store.Store
	Fetcher        Fetcher
	Extractor      Extractor
	Limiter        Limiter
	Dedup          DedupCache
	Normalizer     *scraper.Normalizer
	Events         *Events
	JobDeadline    time.Duration // per-job wall-clock ceiling
	AcquireTimeout time.Duration // max wait for a rate limit token
	QueueSize      int
}

// Runner executes scrape jobs on a fixed-size worker pool. Each worker
// processes one job's target URLs sequentially; pause/stop/cancel are
// cooperative flags observed at per-URL checkpoints.
type Runner struct {
	store          store.Store
	fetcher        Fetcher
	extractor      Extractor
	limiter        Limiter
	dedup          DedupCache
	normalizer     *scraper.Normalizer
	events         *Events
	signals        *SignalRegistry
	state          *State
	intake         chan string
	jobDeadline    time.Duration
	acquireTimeout time.Duration
	wg             sync.WaitGroup
}

// target is one board URL a job must process.
type target struct {
	board model.JobBoard
	url   string
}

// NewRunner constructs a Runner. Start must be called before Enqueue has any
// effect.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = 30 * time.Minute
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	return &Runner{
		store:          cfg.Store,
		fetcher:        cfg.Fetcher,
		extractor:      cfg.Extractor,
		limiter:        cfg.Limiter,
		dedup:          cfg.Dedup,
		normalizer:     cfg.Normalizer,
		events:         cfg.Events,
		signals:        NewSignalRegistry(),
		state:          NewState(),
		intake:         make(chan string, cfg.QueueSize),
		jobDeadline:    cfg.JobDeadline,
		acquireTimeout: cfg.AcquireTimeout,
	}
}

// State exposes the engine state singleton for health checks.
func (r *Runner) State() *State { return r.state }

// Start launches worker goroutines that pull queued jobs until ctx is done.
func (r *Runner) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func(n int) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-r.intake:
					r.state.SetQueueDepth(len(r.intake))
					r.process(ctx, jobID)
				}
			}
		}(i)
	}
	log.Printf("[runner] Worker pool started — %d worker(s)", workers)
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() { r.wg.Wait() }

// Enqueue hands an already-persisted queued job to the worker pool.
func (r *Runner) Enqueue(jobID string) error {
	select {
	case r.intake <- jobID:
		r.state.SetQueueDepth(len(r.intake))
		return nil
	default:
		return ErrQueueFull
	}
}

// ─── Job control (invoked by the control API) ────────────────────────────────

// Pause flags a running job to halt at its next checkpoint. The call returns
// promptly; the worker persists the paused status after finishing its
// current URL.
func (r *Runner) Pause(ctx context.Context, jobID string) (string, error) {
	job, err := r.store.Job(ctx, jobID)
	if err != nil {
		return "", err
	}
	st, _ := ParseStatus(job.Status)
	if !IsTransitionAllowed(st, StatusPaused) {
		return job.Status, &model.ValidationError{Field: "job_id",
			Msg: fmt.Sprintf("cannot pause a %s job", job.Status)}
	}
	r.signals.Set(jobID, SignalPause)
	return job.Status, nil
}

// Resume re-enqueues a paused job. The worker continues from the first
// target URL without a recorded scrape run.
func (r *Runner) Resume(ctx context.Context, jobID string) (string, error) {
	job, err := r.store.Job(ctx, jobID)
	if err != nil {
		return "", err
	}
	// paused → running is the only resumable edge; queued → running belongs
	// to worker pickup.
	if st, _ := ParseStatus(job.Status); st != StatusPaused {
		return job.Status, &model.ValidationError{Field: "job_id",
			Msg: fmt.Sprintf("cannot resume a %s job", job.Status)}
	}
	r.signals.Set(jobID, SignalRun)
	if err := r.Enqueue(jobID); err != nil {
		return job.Status, err
	}
	return job.Status, nil
}

// Stop halts a running or paused job, preserving partial counts. Running
// jobs stop at their next checkpoint; a paused job (which no worker is
// processing) is finalized immediately.
func (r *Runner) Stop(ctx context.Context, jobID string) (string, error) {
	job, err := r.store.Job(ctx, jobID)
	if err != nil {
		return "", err
	}
	st, _ := ParseStatus(job.Status)
	if !IsTransitionAllowed(st, StatusStopped) {
		return job.Status, &model.ValidationError{Field: "job_id",
			Msg: fmt.Sprintf("cannot stop a %s job", job.Status)}
	}
	if st == StatusPaused {
		// A stale queue entry left by an earlier resume is skipped at
		// pickup: the status-guarded running transition matches zero rows.
		if err := r.finalize(ctx, job, StatusStopped, "", job.TotalFound, job.TotalSaved); err != nil {
			return job.Status, err
		}
		return string(StatusStopped), nil
	}
	r.signals.Set(jobID, SignalStop)
	return job.Status, nil
}

// HardReset forces every non-terminal job to canceled, clears the intake
// queue and resets the engine state to idle. Persisted raw/normalized jobs
// are untouched.
func (r *Runner) HardReset(ctx context.Context) (int64, error) {
	r.signals.CancelAll()

	// Drain queued job ids; their records are canceled in bulk below.
drain:
	for {
		select {
		case <-r.intake:
		default:
			break drain
		}
	}

	n, err := r.store.CancelNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	r.state.Reset()
	r.persistState(ctx)
	log.Printf("[runner] Hard reset — %d job(s) forced to canceled", n)
	return n, nil
}

// ─── Job execution ───────────────────────────────────────────────────────────

func (r *Runner) process(ctx context.Context, jobID string) {
	job, err := r.store.Job(ctx, jobID)
	if err != nil {
		log.Printf("[runner] Job %s lookup failed: %v", jobID, err)
		return
	}

	from, _ := ParseStatus(job.Status)
	if IsTerminal(from) {
		// Stopped or hard-reset while still queued.
		r.signals.Clear(jobID)
		return
	}

	// Hard reset may flag a job between its queue drain and this pickup.
	if r.signals.Get(jobID) == SignalCancel {
		r.finalizeLogged(ctx, job, StatusCanceled, "", job.TotalFound, job.TotalSaved)
		return
	}

	// Per-board concurrency cap: a job whose board already has
	// max_concurrency jobs running stays queued until a slot frees.
	if capped, err := r.atBoardCap(ctx, job); err != nil || capped {
		if err != nil {
			log.Printf("[runner] Job %s: concurrency check failed, retrying later: %v", jobID, err)
		}
		r.requeueLater(jobID)
		return
	}

	r.state.WorkerStarted()
	defer func() {
		r.state.WorkerFinished()
		r.persistState(ctx)
	}()

	now := time.Now().UTC()
	picked, err := r.store.MarkJobRunning(ctx, jobID, now)
	if err != nil {
		log.Printf("[runner] Job %s: mark running failed: %v", jobID, err)
		return
	}
	if !picked {
		// Finalized by a control call between the lookup above and the
		// status-guarded transition; the queue entry is stale.
		return
	}
	r.events.Publish(ctx, jobID, from, StatusRunning)
	r.persistState(ctx)
	log.Printf("[runner] Job %s started (board=%q mode=%s)", jobID, job.BoardID, job.Mode)

	jobCtx, cancel := context.WithTimeout(ctx, r.jobDeadline)
	defer cancel()

	targets, err := r.targets(jobCtx, job)
	if err != nil {
		r.finalizeLogged(ctx, job, StatusFailed, err.Error(), job.TotalFound, job.TotalSaved)
		return
	}

	completed, err := r.store.CompletedRunURLs(jobCtx, jobID)
	if err != nil {
		r.finalizeLogged(ctx, job, StatusFailed, err.Error(), job.TotalFound, job.TotalSaved)
		return
	}

	// Resumed jobs carry their partial counts forward.
	found, saved := job.TotalFound, job.TotalSaved

	for _, t := range targets {
		if completed[t.url] {
			continue
		}

		// Cooperative checkpoint: between target URLs, never mid-fetch.
		switch r.signals.Get(jobID) {
		case SignalPause:
			r.pauseJob(ctx, job, found, saved)
			return
		case SignalStop:
			r.finalizeLogged(ctx, job, StatusStopped, "", found, saved)
			return
		case SignalCancel:
			r.finalizeLogged(ctx, job, StatusCanceled, "", found, saved)
			return
		}
		if jobCtx.Err() != nil {
			r.finalizeLogged(ctx, job, StatusFailed, ErrDeadlineExceeded.Error(), found, saved)
			return
		}

		runFound, runSaved, fatal := r.processTarget(jobCtx, job, t)
		found += runFound
		saved += runSaved

		if fatal != nil {
			errText := fatal.Error()
			if errors.Is(fatal, ErrDeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				errText = ErrDeadlineExceeded.Error()
			}
			r.finalizeLogged(ctx, job, StatusFailed, errText, found, saved)
			return
		}

		if err := r.store.UpdateJobProgress(jobCtx, jobID, found, saved); err != nil {
			r.finalizeLogged(ctx, job, StatusFailed, err.Error(), found, saved)
			return
		}
		r.state.Heartbeat()
	}

	r.finalizeLogged(ctx, job, StatusSucceeded, "", found, saved)
	log.Printf("[runner] Job %s done — found=%d saved=%d", jobID, found, saved)
}

// atBoardCap reports whether the job's board already has max_concurrency
// jobs running. Boards without an effective schedule are uncapped; for
// board-less jobs the global default config caps the global running count.
func (r *Runner) atBoardCap(ctx context.Context, job *model.ScrapeJob) (bool, error) {
	sched, err := r.store.EffectiveSchedule(ctx, job.BoardID)
	if err != nil {
		return false, err
	}
	if sched == nil || sched.MaxConcurrency < 1 {
		return false, nil
	}
	running, err := r.store.RunningJobCount(ctx, job.BoardID)
	if err != nil {
		return false, err
	}
	return running >= sched.MaxConcurrency, nil
}

// capRetryDelay spaces out pickup retries for jobs waiting on a board
// concurrency slot.
const capRetryDelay = 200 * time.Millisecond

// requeueLater puts a deferred job back on the intake queue after a short
// delay, retrying while the queue is full.
func (r *Runner) requeueLater(jobID string) {
	time.AfterFunc(capRetryDelay, func() {
		if r.Enqueue(jobID) != nil {
			r.requeueLater(jobID)
		}
	})
}

// processTarget runs the per-URL pipeline: rate limit → fetch → extract →
// dedup → normalize → persist. Failures short of a storage error are
// captured on the scrape run and do not abort the job.
func (r *Runner) processTarget(ctx context.Context, job *model.ScrapeJob, t target) (found, saved int, fatal error) {
	run := &model.ScrapeRun{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		TargetURL: t.url,
		StartedAt: time.Now().UTC(),
	}

	// The board's schedule config (or the global default) carries the
	// outbound budget for its domain.
	if sched, err := r.store.EffectiveSchedule(ctx, t.board.ID); err != nil {
		return 0, 0, err
	} else if sched != nil {
		r.limiter.Configure(scraper.Domain(t.url), sched.RateLimitPerMin)
	}

	if err := r.limiter.Acquire(ctx, scraper.Domain(t.url), r.acquireTimeout); err != nil {
		if ctx.Err() != nil {
			return 0, 0, ErrDeadlineExceeded
		}
		return 0, 0, r.finishRun(ctx, run, 0, 0, err.Error())
	}

	candidates, httpStatus, note, ferr := r.collect(ctx, job.Mode, t)
	run.HTTPStatus = httpStatus
	run.Logs = note
	if ferr != nil {
		if ctx.Err() != nil {
			return 0, 0, ErrDeadlineExceeded
		}
		return 0, 0, r.finishRun(ctx, run, 0, 0, ferr.Error())
	}

	found = len(candidates)
	fetchedAt := time.Now().UTC()

	for _, c := range candidates {
		checksum := scraper.Checksum(c.URL, c.Title, c.Company)
		if r.dedup != nil && r.dedup.SeenRecently(ctx, checksum) {
			continue
		}

		raw := &model.RawJob{
			ID:            uuid.NewString(),
			SourceURL:     c.URL,
			BoardID:       t.board.ID,
			Raw:           c.Raw,
			FetchedAt:     fetchedAt,
			Checksum:      checksum,
			PostedAt:      c.PublishedAt,
			SourceTitle:   c.Title,
			SourceCompany: c.Company,
		}
		inserted, err := r.store.InsertRawJob(ctx, raw)
		if err != nil {
			return found, saved, err // storage failure aborts the job
		}
		// Cache only checksums the storage layer holds.
		if r.dedup != nil {
			r.dedup.MarkSeen(ctx, checksum)
		}
		if !inserted {
			continue // checksum collision — already seen, skip normalization
		}

		normalized := r.normalizer.Normalize(raw)
		normalized.Region = t.board.Region
		if err := r.store.InsertNormalizedJob(ctx, normalized); err != nil {
			return found, saved, err
		}
		saved++
	}

	return found, saved, r.finishRun(ctx, run, found, saved, "")
}

// collect fetches and extracts candidates per the job mode. auto tries the
// board's feed first and falls back to HTML when the feed fetch fails or
// yields zero entries (parse errors count as zero).
func (r *Runner) collect(ctx context.Context, mode model.Mode, t target) ([]model.Candidate, int, string, error) {
	switch mode {
	case model.ModeRSS:
		res, err := r.fetcher.Fetch(ctx, t.board.RSSURL)
		if err != nil {
			return nil, httpStatusOf(err), "", err
		}
		candidates, perr := r.extractor.ExtractRSS(res.Body)
		return candidates, res.Status, noteOf(perr), nil

	case model.ModeHTML:
		return r.collectHTML(ctx, t, "")

	default: // model.ModeAuto
		if t.board.RSSURL == "" {
			return r.collectHTML(ctx, t, "no feed configured")
		}
		res, err := r.fetcher.Fetch(ctx, t.board.RSSURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, httpStatusOf(err), "", err
			}
			return r.collectHTML(ctx, t, fmt.Sprintf("rss fetch failed (%v), fell back to html", err))
		}
		candidates, perr := r.extractor.ExtractRSS(res.Body)
		if perr != nil || len(candidates) == 0 {
			return r.collectHTML(ctx, t, "empty or unparseable feed, fell back to html")
		}
		return candidates, res.Status, "", nil
	}
}

func (r *Runner) collectHTML(ctx context.Context, t target, note string) ([]model.Candidate, int, string, error) {
	res, err := r.fetcher.Fetch(ctx, t.board.BaseURL)
	if err != nil {
		return nil, httpStatusOf(err), note, err
	}
	candidates, perr := r.extractor.ExtractHTML(res.Body, t.board.ID, t.board.BaseURL)
	return candidates, res.Status, joinNotes(note, noteOf(perr)), nil
}

// targets resolves the job's board (or all active boards) into the sorted
// target URL list. Validation failures here fail the job before any run.
func (r *Runner) targets(ctx context.Context, job *model.ScrapeJob) ([]target, error) {
	var boards []model.JobBoard
	if job.BoardID != "" {
		board, err := r.store.Board(ctx, job.BoardID)
		if err != nil {
			return nil, err
		}
		if !board.IsActive {
			return nil, &model.ValidationError{Field: "board_id", Msg: "board is inactive"}
		}
		if job.Mode == model.ModeRSS && board.RSSURL == "" {
			return nil, &model.ValidationError{Field: "mode", Msg: "board has no rss_url"}
		}
		boards = []model.JobBoard{*board}
	} else {
		var err error
		boards, err = r.store.ActiveBoards(ctx)
		if err != nil {
			return nil, err
		}
	}

	targets := make([]target, 0, len(boards))
	for _, b := range boards {
		url := primaryURL(job.Mode, b)
		if url == "" {
			continue // all-boards rss job skips feedless boards
		}
		targets = append(targets, target{board: b, url: url})
	}

	// Deterministic order so progress counts are reproducible.
	sort.Slice(targets, func(i, j int) bool { return targets[i].url < targets[j].url })
	return targets, nil
}

// primaryURL is the URL recorded on the scrape run; for auto mode the feed
// wins when configured, the HTML fallback is noted in the run logs.
func primaryURL(mode model.Mode, b model.JobBoard) string {
	switch mode {
	case model.ModeRSS:
		return b.RSSURL
	case model.ModeHTML:
		return b.BaseURL
	default:
		if b.RSSURL != "" {
			return b.RSSURL
		}
		return b.BaseURL
	}
}

// ─── Finalization helpers ────────────────────────────────────────────────────

func (r *Runner) pauseJob(ctx context.Context, job *model.ScrapeJob, found, saved int) {
	if err := r.store.UpdateJobProgress(ctx, job.ID, found, saved); err != nil {
		log.Printf("[runner] Job %s: persist progress on pause failed: %v", job.ID, err)
	}
	if err := r.store.SetJobStatus(ctx, job.ID, string(StatusPaused)); err != nil {
		log.Printf("[runner] Job %s: persist paused failed: %v", job.ID, err)
		return
	}
	from, _ := ParseStatus(job.Status)
	r.events.Publish(ctx, job.ID, from, StatusPaused)
	log.Printf("[runner] Job %s paused — found=%d saved=%d so far", job.ID, found, saved)
}

func (r *Runner) finalize(ctx context.Context, job *model.ScrapeJob, to Status, errText string, found, saved int) error {
	if err := r.store.FinalizeJob(ctx, job.ID, string(to), errText, found, saved, time.Now().UTC()); err != nil {
		return err
	}
	from, _ := ParseStatus(job.Status)
	r.events.Publish(ctx, job.ID, from, to)
	r.signals.Clear(job.ID)
	return nil
}

func (r *Runner) finalizeLogged(ctx context.Context, job *model.ScrapeJob, to Status, errText string, found, saved int) {
	if err := r.finalize(ctx, job, to, errText, found, saved); err != nil {
		log.Printf("[runner] Job %s: finalize as %s failed: %v", job.ID, to, err)
	}
	if to == StatusFailed {
		log.Printf("[runner] Job %s failed: %s", job.ID, errText)
	}
}

// finishRun persists one scrape run. An insert failure is a storage error,
// which the caller treats as fatal for the job.
func (r *Runner) finishRun(ctx context.Context, run *model.ScrapeRun, found, saved int, errText string) error {
	run.FinishedAt = time.Now().UTC()
	run.ItemsFound = found
	run.ItemsSaved = saved
	run.Error = errText
	if errText == "" {
		run.Status = "succeeded"
	} else {
		run.Status = "failed"
	}
	return r.store.CreateRun(ctx, run)
}

func (r *Runner) persistState(ctx context.Context) {
	if err := r.store.UpdateEngineState(ctx, r.state.Snapshot()); err != nil {
		log.Printf("[runner] Persist engine state failed: %v", err)
	}
}

func httpStatusOf(err error) int {
	var ferr *scraper.FetchError
	if errors.As(err, &ferr) {
		return ferr.Status
	}
	return 0
}

func noteOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
