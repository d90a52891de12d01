package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/collector"
	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/notify"
	"github.com/LJTian/MarketPulse/internal/processor"
	"github.com/LJTian/MarketPulse/internal/storage"
)

var (
	// ErrNoDataCollected 没有任何数据源成功，或成功的数据源过滤后没有记录；此时不上传产物
	ErrNoDataCollected = errors.New("no data collected")
	// ErrUploadFailed 产物上传失败，不自动重试
	ErrUploadFailed = errors.New("upload failed")
)

// 产物文件名中的时间格式
const artifactTimeLayout = "20060102_150405"

// SeenStore 跨批次去重：记录 ID 在窗口内上传过即丢弃
type SeenStore interface {
	Seen(ctx context.Context, ids []string) (map[string]bool, error)
	Mark(ctx context.Context, ids []string) error
}

// RunLedger 运行台账
type RunLedger interface {
	SaveRun(ctx context.Context, rec storage.RunRecord) error
}

// Notifier 采集结束通知
type Notifier interface {
	Notify(ctx context.Context, ev notify.RunEvent) error
}

type Options struct {
	// 产物文件名前缀，例如 market_sentiment
	CollectionPrefix string
	// 对象存储中的目录，例如 raw-data
	ArtifactPrefix string
}

// Coordinator 按配置顺序逐个采集数据源，汇总后写出一份产物。
// 跨批次去重、台账与通知都是可选的，失败只记日志。
type Coordinator struct {
	registry  collector.Registry
	processor *processor.Processor
	uploader  storage.Uploader
	opts      Options
	log       logrus.FieldLogger

	seen     SeenStore
	ledger   RunLedger
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

type Option func(*Coordinator)

func WithSeenStore(s SeenStore) Option { return func(c *Coordinator) { c.seen = s } }

func WithLedger(l RunLedger) Option { return func(c *Coordinator) { c.ledger = l } }

func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithClock 固定时钟，测试用
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(registry collector.Registry, p *processor.Processor, uploader storage.Uploader, opts Options, log logrus.FieldLogger, options ...Option) *Coordinator {
	c := &Coordinator{
		registry:  registry,
		processor: p,
		uploader:  uploader,
		opts:      opts,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// ArtifactPath 例如 raw-data/market_sentiment_20261017_120000.csv
func (c *Coordinator) ArtifactPath(startedAt time.Time) string {
	name := fmt.Sprintf("%s_%s.csv", c.opts.CollectionPrefix, startedAt.UTC().Format(artifactTimeLayout))
	if c.opts.ArtifactPrefix == "" {
		return name
	}
	return path.Join(c.opts.ArtifactPrefix, name)
}

// Run 执行一次采集。返回的 CollectionRun 在出错时同样有效，可用于汇总与排查。
// 单个数据源失败只记录并跳过；ctx 取消会中止整次采集。
func (c *Coordinator) Run(ctx context.Context, sources []config.Source) (*CollectionRun, error) {
	run := newRun(c.newID(), c.now())
	log := c.log.WithField("run_id", run.ID)
	c.saveLedger(ctx, run)

	err := c.run(ctx, run, sources, log)
	if err != nil {
		run.Err = err
		if run.State != StateFinalized {
			_ = run.transition(StateFailed)
		}
	}
	run.FinishedAt = c.now().UTC()

	// 无论成功与否都输出尝试 / 成功的数据源数量，以及按数据源、按分类的记录数
	entry := log.WithFields(logrus.Fields{
		"attempted":  run.Summary.Attempted,
		"succeeded":  run.Summary.Succeeded,
		"failed":     run.Summary.Failures(),
		"records":    run.Summary.Records,
		"sources":    run.Summary.SourceCounts(),
		"categories": run.Summary.CategoryCounts(),
		"state":      run.State,
	})
	if err != nil {
		entry.WithError(err).Error("collection run failed")
	} else {
		entry.WithField("artifact", run.ArtifactPath).Info("collection run finished")
	}

	c.saveLedger(context.WithoutCancel(ctx), run)
	c.publish(context.WithoutCancel(ctx), run)
	return run, err
}

func (c *Coordinator) run(ctx context.Context, run *CollectionRun, sources []config.Source, log logrus.FieldLogger) error {
	if err := run.transition(StateCollecting); err != nil {
		return err
	}
	batch := c.processor.NewBatch(run.StartedAt)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("collection aborted: %w", err)
		}
		srcLog := log.WithField("source", src.Name())

		records, res, err := c.collectSource(ctx, batch, src)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("collection aborted: %w", ctxErr)
			}
			srcLog.WithError(err).Warn("source failed, skipping")
			run.Summary.addFailure(src.Name(), string(src.Kind), err)
			continue
		}
		if err := run.append(records); err != nil {
			return err
		}
		run.Summary.addSuccess(res, records)
		srcLog.WithFields(logrus.Fields{"fetched": res.Stats.Fetched, "kept": len(records)}).Info("source collected")
	}

	if run.Summary.Succeeded == 0 {
		return fmt.Errorf("%w: all %d sources failed", ErrNoDataCollected, run.Summary.Attempted)
	}
	if len(run.records) == 0 {
		return fmt.Errorf("%w: %d sources succeeded but no records remained after filtering", ErrNoDataCollected, run.Summary.Succeeded)
	}

	if err := run.transition(StateFinalized); err != nil {
		return err
	}
	run.ArtifactPath = c.ArtifactPath(run.StartedAt)

	records := run.Records()
	body, err := storage.EncodeCSV(records)
	if err != nil {
		return fmt.Errorf("%w: encode artifact: %v", ErrUploadFailed, err)
	}
	if err := c.uploader.Put(ctx, run.ArtifactPath, body); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	run.Uploaded = true

	// 只有上传成功的记录才计入去重窗口
	if c.seen != nil {
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		if err := c.seen.Mark(ctx, ids); err != nil {
			log.WithError(err).Warn("mark uploaded ids failed")
		}
	}
	return nil
}

// collectSource 拉取、归一化并做跨批次去重
func (c *Coordinator) collectSource(ctx context.Context, batch *processor.Batch, src config.Source) ([]processor.Record, SourceResult, error) {
	res := SourceResult{Source: src.Name(), Kind: string(src.Kind)}

	fetcher, err := c.registry.Lookup(src)
	if err != nil {
		return nil, res, err
	}
	items, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, res, err
	}
	records, stats, err := batch.Process(src, items)
	if err != nil {
		return nil, res, err
	}
	res.Stats = stats

	if c.seen == nil || len(records) == 0 {
		return records, res, nil
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	seen, err := c.seen.Seen(ctx, ids)
	if err != nil {
		// 去重存储不可用时照常输出
		c.log.WithError(err).WithField("source", src.Name()).Warn("seen lookup failed, keeping all records")
		return records, res, nil
	}
	fresh := records[:0]
	for _, rec := range records {
		if seen[rec.ID] {
			res.Seen++
			continue
		}
		fresh = append(fresh, rec)
	}
	res.Stats.Kept = len(fresh)
	return fresh, res, nil
}

func (c *Coordinator) saveLedger(ctx context.Context, run *CollectionRun) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.SaveRun(ctx, ledgerRecord(run)); err != nil {
		c.log.WithError(err).WithField("run_id", run.ID).Warn("save run ledger failed")
	}
}

func (c *Coordinator) publish(ctx context.Context, run *CollectionRun) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, runEvent(run)); err != nil {
		c.log.WithError(err).WithField("run_id", run.ID).Warn("publish run event failed")
	}
}

func ledgerRecord(run *CollectionRun) storage.RunRecord {
	rec := storage.RunRecord{
		ID:               run.ID,
		State:            string(run.State),
		StartedAt:        run.StartedAt,
		ArtifactPath:     run.ArtifactPath,
		RecordCount:      len(run.records),
		SourcesAttempted: run.Summary.Attempted,
		SourcesSucceeded: run.Summary.Succeeded,
		Summary: map[string]any{
			"uploaded":   run.Uploaded,
			"sources":    run.Summary.Sources,
			"categories": run.Summary.CategoryCounts(),
		},
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		rec.FinishedAt = &finished
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	return rec
}

func runEvent(run *CollectionRun) notify.RunEvent {
	ev := notify.RunEvent{
		RunID:            run.ID,
		State:            string(run.State),
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		ArtifactPath:     run.ArtifactPath,
		Uploaded:         run.Uploaded,
		RecordCount:      len(run.records),
		SourcesAttempted: run.Summary.Attempted,
		SourcesSucceeded: run.Summary.Succeeded,
		Categories:       run.Summary.CategoryCounts(),
	}
	if run.Err != nil {
		ev.Error = run.Err.Error()
	}
	return ev
}
