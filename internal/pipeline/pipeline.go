// Package pipeline drives upload ingest: render pages, OCR them through the
// worker pool, track per-page state, and auto-extract on completion.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pricelens-dev/pricelens/internal/extract"
	"github.com/pricelens-dev/pricelens/internal/progress"
	"github.com/pricelens-dev/pricelens/internal/render"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/tables"
)

// Blob is the slice of the object-store client the pipeline needs.
type Blob interface {
	GetOriginal(ctx context.Context, key string) ([]byte, error)
	ListPageImages(ctx context.Context, uploadID string) ([]string, error)
	PutPageImage(ctx context.Context, uploadID string, pageNum int, data []byte) (string, error)
	GetPageImage(ctx context.Context, uploadID string, pageNum int) ([]byte, error)
	PutCSV(ctx context.Context, uploadID string, data []byte) (string, error)
	DeleteCSV(ctx context.Context, uploadID string) error
}

// OCR is the page OCR client. Workers reports its shared concurrency cap.
type OCR interface {
	ProcessPage(ctx context.Context, image []byte, pageNum int) (string, error)
	Workers() int
}

// Pipeline owns the upload state machine. One Pipeline runs per process;
// per-upload runs are serialized by an in-process guard plus the store's
// compare-and-set transition.
type Pipeline struct {
	store    *store.Store
	blob     Blob
	renderer *render.Renderer
	ocr      OCR
	hub      *progress.Hub
	syn      extract.Synonyms
	log      *slog.Logger

	mu         sync.Mutex
	active     map[string]bool
	tombstones map[string]bool
	draining   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Pipeline.
func New(st *store.Store, bl Blob, rd *render.Renderer, oc OCR, hub *progress.Hub, log *slog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      st,
		blob:       bl,
		renderer:   rd,
		ocr:        oc,
		hub:        hub,
		syn:        extract.DefaultSynonyms(),
		log:        log.With("component", "pipeline"),
		active:     make(map[string]bool),
		tombstones: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Recover marks uploads stranded by a previous process as interrupted and
// reverts their running pages. Call once before serving.
func (p *Pipeline) Recover(ctx context.Context) error {
	n, err := p.store.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		p.log.Info("recovered interrupted uploads", "count", n)
	}

	// Uploads that never left queued restart automatically.
	queued, err := p.store.UploadsInState(ctx, []string{store.UploadQueued})
	if err != nil {
		return err
	}
	for i := range queued {
		u := queued[i]
		p.log.Info("re-enqueueing upload from previous run", "upload_id", u.ID)
		p.Enqueue(&u, true)
	}
	return nil
}

// Enqueue starts ingest for a freshly created or resumed upload. The call
// returns immediately; progress flows through the hub.
func (p *Pipeline) Enqueue(u *store.Upload, retryErrored bool) {
	p.mu.Lock()
	if p.draining || p.active[u.ID] {
		p.mu.Unlock()
		p.log.Warn("upload not enqueued", "upload_id", u.ID, "draining", p.draining)
		return
	}
	p.active[u.ID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(u.ID)
		p.run(u, retryErrored)
	}()
}

// Resume re-queues an interrupted upload, leaving errored pages alone.
func (p *Pipeline) Resume(ctx context.Context, u *store.Upload) error {
	if u.State != store.UploadInterrupted {
		return fmt.Errorf("upload %s is %s, only interrupted uploads resume", u.ID, u.State)
	}
	p.Enqueue(u, false)
	return nil
}

// Reparse resets every page and the cached CSV, then re-runs OCR.
func (p *Pipeline) Reparse(ctx context.Context, u *store.Upload) error {
	switch u.State {
	case store.UploadDone, store.UploadError, store.UploadInterrupted:
	default:
		return fmt.Errorf("upload %s is %s, reparse needs a finished upload", u.ID, u.State)
	}

	if err := p.store.ResetPages(ctx, u.ID); err != nil {
		return err
	}
	if err := p.blob.DeleteCSV(ctx, u.ID); err != nil {
		p.log.Warn("deleting cached csv", "upload_id", u.ID, "error", err)
	}
	if err := p.store.SetExtractState(ctx, u.ID, "", ""); err != nil {
		return err
	}
	ok, err := p.store.TransitionUpload(ctx, u.ID,
		[]string{store.UploadDone, store.UploadError, store.UploadInterrupted}, store.UploadQueued)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("upload %s changed state, reparse aborted", u.ID)
	}
	u.State = store.UploadQueued
	p.Enqueue(u, true)
	return nil
}

// Cancel tombstones an upload. Workers notice at the next page boundary and
// exit without mutating its state.
func (p *Pipeline) Cancel(uploadID string) {
	p.mu.Lock()
	if p.active[uploadID] {
		p.tombstones[uploadID] = true
	}
	p.mu.Unlock()
	p.hub.Drop(uploadID)
}

// Shutdown drains in-flight pages for the grace period, then aborts the rest.
// Abandoned running pages revert to pending on the next startup.
func (p *Pipeline) Shutdown(grace time.Duration) {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("pipeline drained")
	case <-time.After(grace):
		p.log.Warn("grace period elapsed, aborting in-flight pages")
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *Pipeline) release(uploadID string) {
	p.mu.Lock()
	delete(p.active, uploadID)
	delete(p.tombstones, uploadID)
	p.mu.Unlock()
}

func (p *Pipeline) cancelled(uploadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tombstones[uploadID]
}

func (p *Pipeline) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}

func (p *Pipeline) publish(u *store.Upload, terminal bool) {
	p.hub.Publish(u.ID, progress.Record{
		State:        u.State,
		CurrentPage:  u.CurrentPage,
		TotalPages:   u.TotalPages,
		Message:      u.Message,
		ExtractState: u.ExtractState,
		Terminal:     terminal,
	})
}

// run executes the ingest state machine for one upload.
func (p *Pipeline) run(u *store.Upload, retryErrored bool) {
	ctx := p.ctx
	log := p.log.With("upload_id", u.ID)

	err := p.ingest(ctx, u, retryErrored, log)
	switch {
	case err == nil:
	case p.cancelled(u.ID):
		log.Info("ingest cancelled")
	case ctx.Err() != nil, p.stopping():
		// Shutdown mid-run. The upload stays in its active state and is
		// marked interrupted on the next startup.
		log.Warn("ingest aborted by shutdown")
	default:
		log.Error("ingest failed", "error", err)
		if _, terr := p.store.TransitionUpload(ctx, u.ID, store.ActiveUploadStates, store.UploadError); terr != nil {
			log.Error("recording failure state", "error", terr)
		}
		if merr := p.store.SetUploadMessage(ctx, u.ID, err.Error()); merr != nil {
			log.Error("recording failure message", "error", merr)
		}
		u.State = store.UploadError
		u.Message = err.Error()
		p.publish(u, true)
	}
}

func (p *Pipeline) ingest(ctx context.Context, u *store.Upload, retryErrored bool, log *slog.Logger) error {
	ok, err := p.store.TransitionUpload(ctx, u.ID,
		[]string{store.UploadQueued, store.UploadInterrupted}, store.UploadRendering)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("upload already owned by another run")
		return nil
	}
	u.State = store.UploadRendering
	p.publish(u, false)

	if err := p.stagePages(ctx, u, log); err != nil {
		return err
	}

	if ok, err = p.store.TransitionUpload(ctx, u.ID,
		[]string{store.UploadRendering}, store.UploadParsing); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("upload %s left rendering unexpectedly", u.ID)
	}
	u.State = store.UploadParsing
	p.publish(u, false)

	if err := p.parsePages(ctx, u, retryErrored, log); err != nil {
		return err
	}
	if p.cancelled(u.ID) {
		return nil
	}

	failed, err := p.store.PagesInState(ctx, u.ID, []string{store.PageError})
	if err != nil {
		return err
	}
	if u.TotalPages > 0 && len(failed) == u.TotalPages {
		return fmt.Errorf("all %d pages failed", u.TotalPages)
	}

	if ok, err = p.store.TransitionUpload(ctx, u.ID,
		[]string{store.UploadParsing}, store.UploadDone); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("upload %s left parsing unexpectedly", u.ID)
	}
	u.State = store.UploadDone
	u.Message = ""
	p.publish(u, false)
	log.Info("ingest complete", "pages", u.TotalPages)

	p.AutoExtract(ctx, u)
	p.publish(u, true)
	return nil
}

// stagePages renders page PNGs into the object store and creates pending
// page rows. Skipped when a previous run already rendered everything.
func (p *Pipeline) stagePages(ctx context.Context, u *store.Upload, log *slog.Logger) error {
	rendered, err := p.blob.ListPageImages(ctx, u.ID)
	if err != nil {
		return err
	}

	if u.TotalPages == 0 || len(rendered) < u.TotalPages {
		total, err := p.renderAll(ctx, u, log)
		if err != nil {
			return err
		}
		u.TotalPages = total
		if err := p.store.SaveUpload(ctx, u); err != nil {
			return err
		}
	}

	existing, err := p.store.ListPages(ctx, u.ID)
	if err != nil {
		return err
	}
	if len(existing) != u.TotalPages {
		if err := p.store.ReplacePages(ctx, u.ID, u.TotalPages); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) renderAll(ctx context.Context, u *store.Upload, log *slog.Logger) (int, error) {
	data, err := p.blob.GetOriginal(ctx, u.PDFKey)
	if err != nil {
		return 0, err
	}

	ext := strings.TrimPrefix(path.Ext(u.PDFKey), ".")
	if render.ImageExtensions[ext] {
		page, err := render.PreparePageImage(data, ext)
		if err != nil {
			return 0, err
		}
		if _, err := p.blob.PutPageImage(ctx, u.ID, 1, page); err != nil {
			return 0, err
		}
		return 1, nil
	}

	doc, err := p.renderer.Open(data)
	if err != nil {
		return 0, err
	}
	defer doc.Close()

	log.Info("rendering pages", "pages", doc.Pages())
	for n := 1; n <= doc.Pages(); n++ {
		if p.cancelled(u.ID) {
			return 0, fmt.Errorf("cancelled during render")
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		png, err := p.renderer.RenderPage(ctx, doc, n)
		if err != nil {
			return 0, err
		}
		if _, err := p.blob.PutPageImage(ctx, u.ID, n, png); err != nil {
			return 0, err
		}
	}
	return doc.Pages(), nil
}

// parsePages OCRs the upload's outstanding pages on the shared worker pool.
// Page failures are recorded and do not abort the run.
func (p *Pipeline) parsePages(ctx context.Context, u *store.Upload, retryErrored bool, log *slog.Logger) error {
	states := []string{store.PagePending, store.PageRunning}
	if retryErrored {
		states = append(states, store.PageError)
	}
	nums, err := p.store.PagesInState(ctx, u.ID, states)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return p.refreshProgress(ctx, u)
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	workers := p.ocr.Workers()
	if workers > len(nums) {
		workers = len(nums)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for num := range queue {
				if p.cancelled(u.ID) || p.stopping() || ctx.Err() != nil {
					continue
				}
				p.processPage(ctx, u, num, log)
			}
		}()
	}
	for _, num := range nums {
		queue <- num
	}
	close(queue)
	wg.Wait()

	if p.cancelled(u.ID) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.stopping() {
		return context.Canceled
	}

	// All dispatched pages must be terminal now.
	open, err := p.store.PagesInState(ctx, u.ID, []string{store.PagePending, store.PageRunning})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return fmt.Errorf("%d pages still open after parse pass", len(open))
	}
	return nil
}

func (p *Pipeline) processPage(ctx context.Context, u *store.Upload, num int, log *slog.Logger) {
	if err := p.store.SetPageState(ctx, u.ID, num, store.PageRunning, "", ""); err != nil {
		log.Error("marking page running", "page", num, "error", err)
		return
	}

	markdown, err := p.ocrPage(ctx, u.ID, num)
	if p.cancelled(u.ID) || ctx.Err() != nil {
		// Leave the page running; recovery reverts it to pending.
		return
	}
	if err != nil {
		log.Warn("page failed", "page", num, "error", err)
		if serr := p.store.SetPageState(ctx, u.ID, num, store.PageError, "", err.Error()); serr != nil {
			log.Error("recording page failure", "page", num, "error", serr)
		}
	} else {
		if serr := p.store.SetPageState(ctx, u.ID, num, store.PageDone, markdown, ""); serr != nil {
			log.Error("recording page result", "page", num, "error", serr)
		}
	}

	if err := p.refreshProgress(ctx, u); err != nil {
		log.Error("updating progress", "page", num, "error", err)
	}
}

func (p *Pipeline) ocrPage(ctx context.Context, uploadID string, num int) (string, error) {
	png, err := p.blob.GetPageImage(ctx, uploadID, num)
	if err != nil {
		return "", err
	}
	return p.ocr.ProcessPage(ctx, png, num)
}

// refreshProgress recounts terminal pages and publishes the new counter.
func (p *Pipeline) refreshProgress(ctx context.Context, u *store.Upload) error {
	n, err := p.store.CountTerminalPages(ctx, u.ID)
	if err != nil {
		return err
	}
	if err := p.store.SetUploadProgress(ctx, u.ID, n); err != nil {
		return err
	}
	p.mu.Lock()
	if n > u.CurrentPage {
		u.CurrentPage = n
	}
	cur := u.CurrentPage
	p.mu.Unlock()
	p.hub.Publish(u.ID, progress.Record{
		State:        store.UploadParsing,
		CurrentPage:  cur,
		TotalPages:   u.TotalPages,
		ExtractState: u.ExtractState,
	})
	return nil
}

// AutoExtract runs the workspace-default extraction after ingest. Missing
// default schema records no_config; failures record error and never fail
// the upload.
func (p *Pipeline) AutoExtract(ctx context.Context, u *store.Upload) {
	log := p.log.With("upload_id", u.ID)

	schema, err := p.store.DefaultSchema(ctx, u.WorkspaceID, u.Company)
	if err != nil {
		log.Error("loading default schema", "error", err)
		return
	}
	if schema == nil {
		u.ExtractState = store.ExtractNoConfig
		if err := p.store.SetExtractState(ctx, u.ID, store.ExtractNoConfig, ""); err != nil {
			log.Error("recording extract state", "error", err)
		}
		return
	}

	u.ExtractState = store.ExtractRunning
	if err := p.store.SetExtractState(ctx, u.ID, store.ExtractRunning, ""); err != nil {
		log.Error("recording extract state", "error", err)
		return
	}
	p.publish(u, false)

	csvKey, err := p.Extract(ctx, u, schema.Fields)
	if err != nil {
		log.Warn("auto-extraction failed", "schema_id", schema.ID, "error", err)
		u.ExtractState = store.ExtractError
		if serr := p.store.SetExtractState(ctx, u.ID, store.ExtractError, ""); serr != nil {
			log.Error("recording extract state", "error", serr)
		}
		return
	}
	u.ExtractState = store.ExtractDone
	u.ExtractCSV = csvKey
	if err := p.store.SetExtractState(ctx, u.ID, store.ExtractDone, csvKey); err != nil {
		log.Error("recording extract state", "error", err)
	}
	log.Info("auto-extraction complete", "schema_id", schema.ID, "csv_key", csvKey)
}

// Extract runs the extraction engine over an upload's parsed pages with the
// given config JSON and stores the CSV. Returns the CSV object key.
func (p *Pipeline) Extract(ctx context.Context, u *store.Upload, configJSON []byte) (string, error) {
	cfg, err := extract.ParseConfig(configJSON)
	if err != nil {
		return "", err
	}
	pageTables, err := p.PageTables(ctx, u.ID)
	if err != nil {
		return "", err
	}

	res := extract.Run(pageTables, cfg, p.syn)
	data, err := extract.EncodeCSV(res)
	if err != nil {
		return "", err
	}
	return p.blob.PutCSV(ctx, u.ID, data)
}

// PageTables parses every done page's markdown into tables, in page order.
func (p *Pipeline) PageTables(ctx context.Context, uploadID string) ([]extract.PageTables, error) {
	pages, err := p.store.ListPages(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	out := make([]extract.PageTables, 0, len(pages))
	for _, page := range pages {
		if page.State != store.PageDone || page.Markdown == "" {
			continue
		}
		out = append(out, extract.PageTables{
			PageNum: page.PageNum,
			Tables:  tables.Parse(page.Markdown, p.log),
		})
	}
	return out, nil
}

// Synonyms exposes the resolver synonym table for ad-hoc extraction paths.
func (p *Pipeline) Synonyms() extract.Synonyms {
	return p.syn
}
