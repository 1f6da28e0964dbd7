package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"OptionSentinel/internal/book"
	"OptionSentinel/internal/collector"
	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
	"OptionSentinel/internal/notifier"
	"OptionSentinel/internal/recorder"
	"OptionSentinel/internal/risk"

	"github.com/robfig/cron/v3"
)

// Sender delivers a formatted message.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// summaryRuns is how many recorded runs the weekly summary covers.
const summaryRuns = 7

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Collector *collector.Collector
	Revaluer  *book.Revaluer
	Notifier  Sender
	Recorder  recorder.Recorder
	Limits    risk.Limits
	BookFile  string
	Ctx       context.Context
	Now       func() time.Time

	running sync.Mutex // held for the duration of a revaluation
	mu      sync.Mutex
	last    *model.Run
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, col *collector.Collector, rv *book.Revaluer, tn Sender, rec recorder.Recorder, limits risk.Limits, bookFile string) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Collector: col,
		Revaluer:  rv,
		Notifier:  tn,
		Recorder:  rec,
		Limits:    limits,
		BookFile:  bookFile,
		Ctx:       ctx,
		Now:       time.Now,
	}
}

// RegisterAll registers the revaluation, expiry watch and summary tasks.
func (s *Scheduler) RegisterAll(revalueCron, expiryCron, summaryCron string) error {
	if _, err := s.Cron.AddFunc(revalueCron, s.revalueTask); err != nil {
		return fmt.Errorf("register revalue task: %w", err)
	}
	if _, err := s.Cron.AddFunc(expiryCron, s.expiryTask); err != nil {
		return fmt.Errorf("register expiry task: %w", err)
	}
	if _, err := s.Cron.AddFunc(summaryCron, s.summaryTask); err != nil {
		return fmt.Errorf("register summary task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	ctx := s.Cron.Stop()
	<-ctx.Done()
	log.Println("[INFO] scheduler stopped")
}

// RunNow executes the revaluation immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.revalueTask()
}

// LastRun returns the most recent successful revaluation, or nil.
func (s *Scheduler) LastRun() *model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) revalueTask() {
	if _, err := s.revalue(); err != nil {
		log.Printf("[ERROR] revalue: %v", err)
		s.trySend(fmt.Sprintf("❌ 估值任务失败: %v", err))
	}
}

var errBusy = errors.New("revaluation already in progress")

// revalue prices the book, checks limits, records and reports the run.
func (s *Scheduler) revalue() (*model.Run, error) {
	if !s.running.TryLock() {
		return nil, errBusy
	}
	defer s.running.Unlock()

	log.Println("[INFO] running revaluation")
	if s.Collector != nil {
		s.Collector.Invalidate()
	}

	run, err := s.Revaluer.Run(s.Ctx, s.Now())
	if err != nil {
		return nil, err
	}
	breaches := risk.Check(run, s.Limits)
	for _, b := range breaches {
		log.Printf("[WARN] limit %s", b)
	}

	s.mu.Lock()
	s.last = run
	s.mu.Unlock()

	if err := s.Recorder.RecordRun(run); err != nil {
		log.Printf("[ERROR] record run: %v", err)
	}
	if len(breaches) > 0 {
		if err := s.Recorder.RecordBreaches(run.ID, breaches); err != nil {
			log.Printf("[ERROR] record breaches: %v", err)
		}
	}

	s.trySend(notifier.FormatBookReport(run, breaches))
	return run, nil
}

// expiryLookbackDays bounds how far back a failed settlement is retried.
const expiryLookbackDays = 7

// expiryTask settles positions whose last fixing has passed. A position is
// marked in the book state only once its settlement is recorded, so a
// failure is retried on the next run within the lookback.
func (s *Scheduler) expiryTask() {
	log.Println("[INFO] running expiry watch")
	pd := daycount.Truncate(s.Now())
	yesterday := pd.AddDate(0, 0, -1)
	state := s.Revaluer.State

	for _, p := range s.Revaluer.Book().ExpiredBetween(pd.AddDate(0, 0, -expiryLookbackDays), yesterday) {
		p := p
		if state != nil && state.IsExpired(p.ID) {
			continue
		}
		v, err := s.Revaluer.Settle(&p)
		if err != nil {
			log.Printf("[ERROR] settle %s: %v", p.ID, err)
			s.trySend(fmt.Sprintf("❌ %s 到期结算失败: %v", p.ID, err))
			continue
		}

		if err := s.Recorder.RecordExpiry(&recorder.ExpiryEvent{
			PositionID: p.ID,
			Underlying: p.Underlying,
			Date:       daycount.Truncate(p.LastFixing()),
			Settlement: v.Market.Forward,
			UnitValue:  v.UnitValue,
		}); err != nil {
			log.Printf("[ERROR] record expiry %s: %v", p.ID, err)
			continue
		}
		if state != nil && !state.MarkExpired(p.ID, pd) {
			continue
		}
		s.trySend(notifier.FormatExpiryNotice(&p, v))
	}
}

func (s *Scheduler) summaryTask() {
	log.Println("[INFO] running weekly summary")
	s.trySend(s.summary())
}

func (s *Scheduler) summary() string {
	runs, err := s.Recorder.RecentRuns(summaryRuns)
	if err != nil {
		log.Printf("[ERROR] load recent runs: %v", err)
		return fmt.Sprintf("❌ 读取估值记录失败: %v", err)
	}
	return notifier.FormatWeeklySummary(runs)
}

// reloadBook re-reads the book file and swaps it into the revaluer.
func (s *Scheduler) reloadBook() (int, error) {
	b, err := book.Load(s.BookFile)
	if err != nil {
		return 0, err
	}
	s.Revaluer.SetBook(b)
	log.Printf("[INFO] book reloaded: %d positions", len(b.Positions))
	return len(b.Positions), nil
}

const helpText = "可用命令:\n" +
	"• /book 查看最新估值\n" +
	"• /reval 立即重新估值\n" +
	"• /position &lt;id&gt; 查看持仓明细\n" +
	"• /summary 查看周度汇总\n" +
	"• /reload 重新加载持仓文件"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	// Group chats address commands as /cmd@BotName.
	cmd, _, _ := strings.Cut(fields[0], "@")
	switch cmd {
	case "查看估值", "/book":
		run := s.LastRun()
		if run == nil {
			return "暂无估值结果，发送 /reval 立即估值"
		}
		return notifier.FormatBookReport(run, risk.Check(run, s.Limits))
	case "重新估值", "/reval":
		if _, err := s.revalue(); err != nil {
			return fmt.Sprintf("❌ 估值失败: %v", err)
		}
		return ""
	case "/position":
		if len(fields) < 2 {
			return "用法: /position &lt;id&gt;"
		}
		return s.positionDetail(fields[1])
	case "周报", "/summary":
		return s.summary()
	case "/reload":
		n, err := s.reloadBook()
		if err != nil {
			return fmt.Sprintf("❌ 加载持仓失败: %v", err)
		}
		return fmt.Sprintf("✅ 已加载 %d 个持仓", n)
	default:
		return helpText
	}
}

func (s *Scheduler) positionDetail(id string) string {
	p, err := s.Revaluer.Book().Find(id)
	if err != nil {
		return fmt.Sprintf("❌ %v", err)
	}
	v, err := s.Revaluer.Value(p, daycount.Truncate(s.Now()))
	if err != nil {
		return fmt.Sprintf("❌ %s 估值失败: %v", id, err)
	}
	return notifier.FormatPositionDetail(p, v)
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
