// Package ingest drives the periodic fetch, classify and persist cycle
// over every registered mailbox.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailreader/internal/classify"
	"github.com/nhle/mailreader/internal/credential"
	"github.com/nhle/mailreader/internal/logger"
	"github.com/nhle/mailreader/internal/metrics"
	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/rules"
	"github.com/nhle/mailreader/internal/source"
	"github.com/nhle/mailreader/internal/store"
)

// RuleConfidence is stored for every rule-decided email.
const RuleConfidence = 90

// Resolver turns an account secret into credentials.
type Resolver interface {
	Resolve(ctx context.Context, acct model.AccountWithSecret) (*model.Credentials, error)
}

// Fetchers looks up the mail source for an auth method.
type Fetchers interface {
	For(method model.AuthMethod) (source.Fetcher, error)
}

// Classifier is the fallback used when no rule matches.
type Classifier interface {
	Classify(ctx context.Context, msg model.NormalizedMessage) classify.Result
}

// Config controls one orchestrator.
type Config struct {
	Interval     time.Duration
	Limit        int
	Workers      int
	FetchTimeout time.Duration
	Retention    time.Duration
	Sweep        bool
}

// ConfigFrom derives the orchestrator settings from the worker config.
func ConfigFrom(cfg *model.WorkerConfig) Config {
	return Config{
		Interval:     cfg.Fetch.Interval,
		Limit:        cfg.Fetch.Limit,
		Workers:      cfg.Fetch.Workers,
		FetchTimeout: cfg.Fetch.Timeout,
		Retention:    cfg.Retention.Window(),
		Sweep:        cfg.Retention.Sweep,
	}
}

// RunStats summarizes one run.
type RunStats struct {
	// Skipped is set when the run did not start because another run was
	// still active.
	Skipped bool

	Accounts        int
	AccountsSkipped int
	AccountsFailed  int

	Messages      int
	Dropped       int
	RuleMatched   int
	Classified    int
	Inserted      int
	Duplicates    int
	PersistErrors int

	ExpiredDeleted int64
}

func (s *RunStats) add(o RunStats) {
	s.AccountsSkipped += o.AccountsSkipped
	s.AccountsFailed += o.AccountsFailed
	s.Messages += o.Messages
	s.Dropped += o.Dropped
	s.RuleMatched += o.RuleMatched
	s.Classified += o.Classified
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.PersistErrors += o.PersistErrors
}

// Orchestrator runs ingestion cycles over all accounts.
type Orchestrator struct {
	store      store.Store
	resolver   Resolver
	fetchers   Fetchers
	classifier Classifier
	metrics    *metrics.Exporter
	cfg        Config
	now        func() time.Time

	running  sync.Mutex
	inflight sync.Map
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for received_at and expires_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records run, account and message counters on m.
func WithMetrics(m *metrics.Exporter) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(st store.Store, res Resolver, fetchers Fetchers, cls Classifier, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Limit < 1 {
		cfg.Limit = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = model.DefaultRetention
	}
	o := &Orchestrator{
		store:      st,
		resolver:   res,
		fetchers:   fetchers,
		classifier: cls,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewExporter()
	}
	return o
}

// Run executes a run immediately and then once per interval until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce processes every account once. A call made while another run is
// active returns immediately with Skipped set.
func (o *Orchestrator) RunOnce(ctx context.Context) RunStats {
	if !o.running.TryLock() {
		o.metrics.IncRunsSkipped()
		logger.Warn().Msg("previous run still active, skipping")
		return RunStats{Skipped: true}
	}
	defer o.running.Unlock()

	start := time.Now()
	o.metrics.IncRuns()
	ctx = logger.WithRunID(ctx, uuid.NewString())

	var stats RunStats
	accounts, err := o.store.GetAccountsWithSecrets(ctx)
	if err != nil {
		logger.ErrorCtx(ctx).Err(err).Msg("loading accounts")
		o.metrics.ObserveRun(time.Since(start))
		return stats
	}
	stats.Accounts = len(accounts)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.Workers)
	for _, acct := range accounts {
		g.Go(func() error {
			s := o.processAccount(ctx, acct)
			mu.Lock()
			stats.add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if o.cfg.Sweep {
		n, err := o.store.DeleteExpiredEmails(ctx, o.now().UTC())
		if err != nil {
			logger.ErrorCtx(ctx).Err(err).Msg("retention sweep")
		} else {
			stats.ExpiredDeleted = n
			o.metrics.AddExpiredDeleted(n)
		}
	}

	elapsed := time.Since(start)
	o.metrics.ObserveRun(elapsed)
	logger.InfoCtx(ctx).
		Int("accounts", stats.Accounts).
		Int("accounts_failed", stats.AccountsFailed).
		Int("messages", stats.Messages).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Int("persist_errors", stats.PersistErrors).
		Dur("elapsed", elapsed).
		Msg("run complete")
	return stats
}

// processAccount runs one account cycle. It never panics and never
// returns an error; failures are logged and counted.
func (o *Orchestrator) processAccount(ctx context.Context, acct model.AccountWithSecret) (stats RunStats) {
	if _, busy := o.inflight.LoadOrStore(acct.ID, struct{}{}); busy {
		logger.DebugCtx(ctx).Str("account", acct.ID).Str("email", acct.Email).Msg("account cycle already in flight, skipping")
		o.metrics.IncAccount(metrics.OutcomeSkipped)
		stats.AccountsSkipped++
		return stats
	}
	defer o.inflight.Delete(acct.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx).
				Str("account", acct.ID).
				Str("email", acct.Email).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("account cycle panicked")
			o.metrics.IncAccount(metrics.OutcomePanic)
			stats.AccountsFailed++
		}
	}()

	log := logger.FromContext(ctx).With().
		Str("account", acct.ID).
		Str("email", acct.Email).
		Str("auth_method", string(acct.AuthMethod)).
		Logger()

	creds, err := o.resolver.Resolve(ctx, acct)
	if err != nil {
		var refreshErr *credential.AuthRefreshError
		switch {
		case errors.Is(err, credential.ErrNotLinked):
			log.Debug().Msg("account not linked yet")
			o.metrics.IncAccount(metrics.OutcomeNotLinked)
			stats.AccountsSkipped++
			return stats
		case errors.As(err, &refreshErr):
			log.Error().Err(err).Msg("refreshing access token")
			o.metrics.IncAccount(metrics.OutcomeAuth)
		default:
			log.Error().Err(err).Msg("resolving credentials")
			o.metrics.IncAccount(metrics.OutcomeCredential)
		}
		stats.AccountsFailed++
		return stats
	}

	fetcher, err := o.fetchers.For(acct.AuthMethod)
	if err != nil {
		log.Error().Err(err).Msg("selecting mail source")
		o.metrics.IncAccount(metrics.OutcomeFetch)
		stats.AccountsFailed++
		return stats
	}

	fetchCtx := ctx
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	msgs, err := fetcher.FetchRecent(fetchCtx, creds, o.cfg.Limit)
	if err != nil {
		if source.IsAuthError(err) {
			log.Error().Err(err).Msg("mailbox rejected credentials")
			o.metrics.IncAccount(metrics.OutcomeAuth)
		} else {
			log.Error().Err(err).Msg("fetching messages")
			o.metrics.IncAccount(metrics.OutcomeFetch)
		}
		stats.AccountsFailed++
		return stats
	}

	rs, err := o.store.GetEnabledRules(ctx, acct.ID)
	if err != nil {
		log.Error().Err(err).Msg("loading rules")
		o.metrics.IncAccount(metrics.OutcomeStore)
		stats.AccountsFailed++
		return stats
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		o.processMessage(ctx, acct, rs, msg, &stats)
	}

	log.Debug().Int("messages", len(msgs)).Msg("account cycle complete")
	o.metrics.IncAccount(metrics.OutcomeOK)
	return stats
}

func (o *Orchestrator) processMessage(ctx context.Context, acct model.AccountWithSecret, rs []model.Rule, msg model.NormalizedMessage, stats *RunStats) {
	stats.Messages++

	if strings.TrimSpace(msg.MessageID) == "" {
		logger.WarnCtx(ctx).
			Str("account", acct.ID).
			Str("email", acct.Email).
			Str("subject", logger.SubjectPrefix(msg.Subject)).
			Msg("dropping message without message id")
		o.metrics.IncMessage(metrics.PathDropped)
		stats.Dropped++
		return
	}

	e := o.classify(ctx, msg, rs)
	if e.MatchedRule != nil {
		o.metrics.IncMessage(metrics.PathRule)
		stats.RuleMatched++
	} else {
		o.metrics.IncMessage(metrics.PathClassifier)
		stats.Classified++
	}

	now := o.now().UTC()
	e.AccountID = acct.ID
	e.MessageID = msg.MessageID
	e.FromAddr = msg.From
	e.ToAddr = cmp.Or(msg.To, acct.Email)
	e.Subject = msg.Subject
	e.ReceivedAt = now
	e.ExpiresAt = now.Add(o.cfg.Retention)
	e.CreatedAt = now

	ev := logger.FromContext(ctx).With().
		Str("account", acct.ID).
		Str("email", acct.Email).
		Str("message_id", msg.MessageID).
		Str("subject", logger.SubjectPrefix(msg.Subject)).
		Str("category", string(e.Category)).
		Str("reason", e.Reason).
		Logger()

	inserted, err := o.store.InsertEmailIfAbsent(ctx, e)
	switch {
	case err != nil:
		ev.Error().Err(err).Msg("persisting email")
		o.metrics.IncPersistError()
		stats.PersistErrors++
	case inserted:
		ev.Info().Msg("email stored")
		o.metrics.IncInserted()
		stats.Inserted++
	default:
		ev.Debug().Msg("email already stored")
		o.metrics.IncDuplicate()
		stats.Duplicates++
	}
}

// classify decides category, confidence and reason for msg. Rules take
// precedence over the classifier.
func (o *Orchestrator) classify(ctx context.Context, msg model.NormalizedMessage, rs []model.Rule) model.Email {
	if action, name := rules.Apply(msg, rs); action != nil {
		cat := action.SetCategory
		if !cat.Valid() {
			cat = model.CategoryNormal
		}
		return model.Email{
			Category:    cat,
			Confidence:  RuleConfidence,
			Reason:      "rule:" + name,
			MatchedRule: &name,
		}
	}

	res := o.classifier.Classify(ctx, msg)
	o.metrics.IncClassifier(classifierLabel(res))

	e := model.Email{
		Category:   res.Category,
		Confidence: res.Confidence,
		Reason:     res.Reason,
	}
	if res.Reason != classify.ReasonDisabled {
		aiCategory := string(res.Category)
		aiConfidence := float64(res.Confidence)
		aiSummary := res.Reason
		e.AICategory = &aiCategory
		e.AIConfidence = &aiConfidence
		e.AISummary = &aiSummary
		if res.Model != "" {
			aiModel := res.Model
			e.AIModel = &aiModel
		}
	}
	return e
}

func classifierLabel(res classify.Result) string {
	if res.Fallback() {
		return res.Reason
	}
	return classify.ReasonDefault
}
