package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/scrapiens/scrapiens/app/cfg"
	"github.com/scrapiens/scrapiens/app/classify"
	"github.com/scrapiens/scrapiens/app/config"
	"github.com/scrapiens/scrapiens/app/database"
	"github.com/scrapiens/scrapiens/app/digest"
	"github.com/scrapiens/scrapiens/app/extract"
	"github.com/scrapiens/scrapiens/app/filter"
	"github.com/scrapiens/scrapiens/app/history"
	"github.com/scrapiens/scrapiens/app/match"
	"github.com/scrapiens/scrapiens/app/runs"
	"github.com/scrapiens/scrapiens/app/scraper"
	"github.com/scrapiens/scrapiens/app/send"
	"github.com/scrapiens/scrapiens/app/store"
)

// Runner wires the pipeline stages to the run manager and the persistent
// stores and executes them against resolved run folders. It is the only
// place that decides where a stage reads from and writes to.
type Runner struct {
	cfg        *cfg.Cfg
	runs       *runs.Manager
	deliveries history.DeliveryStore
	classifier classify.Classifier
	sender     send.Sender
	db         *database.DB
}

// NewRunner builds a runner from loaded configuration. The delivery
// history backend is the JSON document store by default; a SQLite file
// is used instead when --history-db points at one.
func NewRunner(c *cfg.Cfg) (*Runner, error) {
	r := &Runner{
		cfg:        c,
		runs:       runs.NewManager(c.DataDir),
		classifier: classify.NewRuleClassifier(),
		sender:     send.NewOutboxSender(filepath.Join(c.DataDir, "outbox")),
	}

	if c.HistoryDB != "" {
		db, err := database.NewConnection(c.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open delivery history database: %w", err)
		}
		if _, _, err := database.RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate delivery history database: %w", err)
		}
		r.db = db
		r.deliveries = database.NewDeliveryRepository(db)
		slog.Info("Using SQLite delivery history", "path", c.HistoryDB)
	} else {
		deliveries, err := history.OpenDeliveries(filepath.Join(c.DataDir, "history", "deliveries.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to open delivery history: %w", err)
		}
		r.deliveries = deliveries
	}

	return r, nil
}

// Runs exposes the run manager for the status server.
func (r *Runner) Runs() *runs.Manager {
	return r.runs
}

// Deliveries exposes the delivery history for the status server.
func (r *Runner) Deliveries() history.DeliveryStore {
	return r.deliveries
}

func (r *Runner) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// resolveStage picks the run and output folder for a stage invocation.
// With --output set the run machinery is bypassed entirely: the stage
// reads and writes under the given directory, nothing is validated and
// nothing is marked complete.
func (r *Runner) resolveStage(stageName string, fullPipeline bool) (runs.Run, bool, error) {
	if r.cfg.Output != "" {
		slog.Warn("Explicit output path set, run tracking disabled", "output", r.cfg.Output)
		return runs.Run{Date: "adhoc", Dir: r.cfg.Output}, false, nil
	}

	run, err := r.runs.Resolve(stageName, fullPipeline)
	if err != nil {
		return runs.Run{}, false, err
	}
	if err := r.runs.ValidatePrerequisites(run, stageName); err != nil {
		return runs.Run{}, false, err
	}
	return run, true, nil
}

func (r *Runner) finishStage(run runs.Run, stageName string, tracked bool) error {
	if !tracked {
		return nil
	}
	return r.runs.MarkStageComplete(run, stageName)
}

// stagePath is the folder a stage reads from or writes into within a run,
// created on demand.
func stagePath(run runs.Run, stageName string) (string, error) {
	stage, ok := runs.StageByName(stageName)
	if !ok {
		return "", &runs.UnknownStageError{Stage: stageName}
	}
	path := filepath.Join(run.Dir, stage.Folder)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create stage folder %s: %w", path, err)
	}
	return path, nil
}

// openSeen opens the cross-run seen-URL store. A corrupt store aborts the
// stage unless --ignore-history is set, in which case a degraded store is
// used that treats everything as unseen and never writes.
func (r *Runner) openSeen() (*history.SeenStore, error) {
	path := filepath.Join(r.cfg.DataDir, "history", "seen_urls.json")

	seen, err := history.OpenSeen(path, r.cfg.IgnoreHistory)
	if err != nil {
		var corrupt *store.CorruptError
		if errors.As(err, &corrupt) && r.cfg.IgnoreHistory {
			slog.Error("Seen-URL store is corrupt, continuing without it; nothing will be recorded",
				"path", corrupt.Path, "error", corrupt.Err)
			return history.OpenSeenDegraded(path), nil
		}
		return nil, fmt.Errorf("failed to open seen-URL store: %w", err)
	}
	return seen, nil
}

// Scrape fetches every configured site and writes one result file per
// site into the scrape stage folder.
func (r *Runner) Scrape(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("scrape", fullPipeline)
	if err != nil {
		return err
	}
	dir, err := stagePath(run, "scrape")
	if err != nil {
		return err
	}

	sites, err := config.NewLoader(r.cfg.InputDir).LoadSites()
	if err != nil {
		return err
	}

	seen, err := r.openSeen()
	if err != nil {
		return err
	}

	results, err := scraper.NewScraper(r.cfg.UserAgent).Run(ctx, sites, seen)
	if err != nil {
		return err
	}

	for _, result := range results {
		path := filepath.Join(dir, slug(result.Site)+"_links.json")
		if err := store.Replace(path, result); err != nil {
			return fmt.Errorf("failed to write scrape result for %s: %w", result.Site, err)
		}
	}

	return r.finishStage(run, "scrape", tracked)
}

// Deduplicate merges the per-site scrape results into a single
// cross-site link list with canonical URLs.
func (r *Runner) Deduplicate(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("deduplicate", fullPipeline)
	if err != nil {
		return err
	}

	results, err := r.loadScrapeResults(run)
	if err != nil {
		return err
	}

	links := Deduplicate(results)
	slog.Info("Deduplicated links", "date", run.Date, "sites", len(results), "links", len(links))

	dir, err := stagePath(run, "deduplicate")
	if err != nil {
		return err
	}
	if err := store.Replace(filepath.Join(dir, "links.json"), links); err != nil {
		return fmt.Errorf("failed to write deduplicated links: %w", err)
	}

	return r.finishStage(run, "deduplicate", tracked)
}

// Classify categorizes each deduplicated link ahead of extraction.
func (r *Runner) Classify(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("classify", fullPipeline)
	if err != nil {
		return err
	}

	var links []scraper.Link
	if err := r.loadStageFile(run, "deduplicate", "links.json", &links); err != nil {
		return err
	}

	classifications, err := r.classifier.Classify(ctx, links)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	counts := make(map[classify.Category]int)
	for _, c := range classifications {
		counts[c.Category]++
	}
	slog.Info("Classified links", "date", run.Date,
		"single_grant", counts[classify.CategorySingleGrant],
		"grant_list", counts[classify.CategoryGrantList],
		"other", counts[classify.CategoryOther])

	dir, err := stagePath(run, "classify")
	if err != nil {
		return err
	}
	if err := store.Replace(filepath.Join(dir, "classified.json"), classifications); err != nil {
		return fmt.Errorf("failed to write classifications: %w", err)
	}

	return r.finishStage(run, "classify", tracked)
}

// Extract fetches each single-grant page and builds delivery candidates.
// Broken pages become candidates with extraction marked failed instead of
// aborting the stage.
func (r *Runner) Extract(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("extract", fullPipeline)
	if err != nil {
		return err
	}

	var classifications []classify.Classification
	if err := r.loadStageFile(run, "classify", "classified.json", &classifications); err != nil {
		return err
	}

	extractor := extract.NewPageExtractor(r.cfg.UserAgent)
	candidates := make([]filter.Candidate, 0, len(classifications))
	skipped := 0
	for _, c := range classifications {
		if c.Category != classify.CategorySingleGrant {
			skipped++
			continue
		}
		candidates = append(candidates, extractor.Extract(ctx, c.Link))
	}
	slog.Info("Extracted candidates", "date", run.Date, "candidates", len(candidates), "skipped", skipped)

	dir, err := stagePath(run, "extract")
	if err != nil {
		return err
	}
	if err := store.Replace(filepath.Join(dir, "candidates.json"), candidates); err != nil {
		return fmt.Errorf("failed to write candidates: %w", err)
	}

	return r.finishStage(run, "extract", tracked)
}

// MatchKeywords groups candidates per interested recipient and runs the
// delivery filter over the matches. The filter only reads the delivery
// history; its report carries the per-recipient exclusion counts.
func (r *Runner) MatchKeywords(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("match-keywords", fullPipeline)
	if err != nil {
		return err
	}

	var candidates []filter.Candidate
	if err := r.loadStageFile(run, "extract", "candidates.json", &candidates); err != nil {
		return err
	}

	keywords, err := config.NewLoader(r.cfg.InputDir).LoadKeywords()
	if err != nil {
		return err
	}

	matches := match.NewMatcher(keywords).Match(candidates)

	dir, err := stagePath(run, "match-keywords")
	if err != nil {
		return err
	}
	if err := store.Replace(filepath.Join(dir, "matches.json"), matches); err != nil {
		return fmt.Errorf("failed to write matches: %w", err)
	}

	report, err := filter.New(r.deliveries, r.policy(), time.Now(), r.cfg.WorkerCount).Run(matches)
	if err != nil {
		return err
	}
	if err := store.Replace(filepath.Join(dir, "report.json"), report); err != nil {
		return fmt.Errorf("failed to write filter report: %w", err)
	}

	return r.finishStage(run, "match-keywords", tracked)
}

// BuildDigest arranges the filter's included candidates into a
// timestamped digest file.
func (r *Runner) BuildDigest(ctx context.Context, fullPipeline bool) error {
	run, tracked, err := r.resolveStage("build-digest", fullPipeline)
	if err != nil {
		return err
	}

	var report filter.Report
	if err := r.loadStageFile(run, "match-keywords", "report.json", &report); err != nil {
		return err
	}

	dg := digest.NewBuilder().Build(&report, run.Date)

	dir, err := stagePath(run, "build-digest")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("digests_%s.json", time.Now().Format("20060102_150405"))
	if err := store.Replace(filepath.Join(dir, name), dg); err != nil {
		return fmt.Errorf("failed to write digest: %w", err)
	}

	return r.finishStage(run, "build-digest", tracked)
}

// Send dispatches the most recent digest, scanning runs newest first. It
// sits outside the dated run lifecycle and never touches the run index.
func (r *Runner) Send(ctx context.Context) error {
	path, err := r.latestDigestPath()
	if err != nil {
		return err
	}

	var dg digest.Digest
	if err := store.Load(path, &dg); err != nil {
		return fmt.Errorf("failed to load digest %s: %w", path, err)
	}
	slog.Info("Sending digest", "path", path, "run_date", dg.RunDate, "recipients", len(dg.Recipients))

	report, err := send.NewDispatcher(r.sender, r.deliveries, r.cfg.DryRun).Dispatch(ctx, &dg)
	if err != nil {
		return err
	}

	slog.Info("Send finished",
		"recipients", report.Recipients,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"dry_run", report.DryRun)
	return nil
}

// RunPipeline executes all six stages in order against today's run.
func (r *Runner) RunPipeline(ctx context.Context) error {
	steps := []func(context.Context, bool) error{
		r.Scrape,
		r.Deduplicate,
		r.Classify,
		r.Extract,
		r.MatchKeywords,
		r.BuildDigest,
	}
	for i, step := range steps {
		if err := step(ctx, true); err != nil {
			return fmt.Errorf("pipeline stopped at stage %s: %w", runs.Stages[i].Name, err)
		}
	}
	return nil
}

// Status prints every known run with its completed stages, plus the
// persistent store statistics.
func (r *Runner) Status() error {
	statuses, err := r.runs.List()
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No runs recorded yet")
	}
	for _, s := range statuses {
		state := "incomplete"
		if s.Complete {
			state = "complete"
		}
		fmt.Printf("%s  %-10s  stages: %s\n", s.Date, state, strings.Join(s.Stages, ", "))
	}

	stats, err := r.deliveries.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("\nDelivery history: %d records across %d grants\n", stats.RecordCount, stats.DistinctGrantCount)

	return nil
}

func (r *Runner) policy() filter.Policy {
	return filter.Policy{
		ExcludeAlreadySent:      !r.cfg.IncludeSent,
		ExcludeFailedExtraction: !r.cfg.RetryFailed,
		ExcludeExpiredDeadline:  !r.cfg.IncludeExpired,
	}
}

func (r *Runner) loadScrapeResults(run runs.Run) ([]scraper.SiteResult, error) {
	dir, err := stagePath(run, "scrape")
	if err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*_links.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scrape results found in %s", dir)
	}
	sort.Strings(paths)

	results := make([]scraper.SiteResult, 0, len(paths))
	for _, path := range paths {
		var result scraper.SiteResult
		if err := store.Load(path, &result); err != nil {
			return nil, fmt.Errorf("failed to load scrape result %s: %w", path, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) loadStageFile(run runs.Run, stageName, file string, v any) error {
	dir, err := stagePath(run, stageName)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, file)
	if err := store.Load(path, v); err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return fmt.Errorf("stage output %s is missing, run the %s stage first", path, stageName)
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// latestDigestPath finds the newest digest file. Runs are scanned newest
// first; within a run's digest folder the lexicographically last
// timestamped file wins.
func (r *Runner) latestDigestPath() (string, error) {
	if r.cfg.Output != "" {
		return latestDigestIn(filepath.Join(r.cfg.Output, "06_digests"))
	}

	statuses, err := r.runs.List()
	if err != nil {
		return "", err
	}

	for _, s := range statuses {
		dir := filepath.Join(r.cfg.DataDir, "runs", s.Date, "06_digests")
		path, err := latestDigestIn(dir)
		if err == nil {
			return path, nil
		}
	}

	return "", errors.New("no digest found in any run, run build-digest first")
}

func latestDigestIn(dir string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "digests_*.json"))
	if err != nil || len(paths) == 0 {
		return "", fmt.Errorf("no digests in %s", dir)
	}
	sort.Strings(paths)
	return paths[len(paths)-1], nil
}

// slug turns a site name into a stable file name fragment.
func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
