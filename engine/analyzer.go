package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/tool"
)

// ErrAnalyzerClosed is returned by Submit after Close.
var ErrAnalyzerClosed = errors.New("analyzer closed")

// ErrAnalyzerBusy is returned by Submit when the queue is full.
var ErrAnalyzerBusy = errors.New("analyzer queue full")

const analysisPrompt = `你是一个记忆分析助手。阅读下面这一轮对话，判断用户是否透露了新的个人事实（偏好、身份、工作、重要事件），或纠正了【长期事实库】中的内容。
如果有，调用 manage_memory 执行 upsert（或在用户要求时执行 delete）；如果没有，直接回复"无"。

【长期事实库】：
`

// AnalysisJob is one finished exchange to inspect for durable facts.
type AnalysisJob struct {
	UserID string
	Human  core.HumanMessage
	Reply  core.AssistantMessage
}

// AnalysisResult reports what a job changed.
type AnalysisResult struct {
	UserID  string
	Applied []tool.MemoryArgs
	Err     error
}

// AnalyzerOptions configure an Analyzer.
type AnalyzerOptions struct {
	Workers   int
	QueueSize int
	// Timeout bounds each analysis. Default 60s.
	Timeout time.Duration
	Logger  logging.Logger
	// OnComplete is called after every job, successful or not.
	OnComplete func(AnalysisResult)
}

// Analyzer infers memory mutations from finished turns in the background.
//
// Jobs are fire-and-forget: the turn that submits one does not wait for it.
// Analyses for the same user run one at a time. A new turn may start before
// a previous analysis has committed, in which case it sees the fact on a
// later turn.
type Analyzer struct {
	model   model.Model
	memory  *memory.Manager
	memTool *tool.MemoryTool
	opts    AnalyzerOptions

	users *core.KeyedMutex
	queue chan AnalysisJob
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAnalyzer starts an Analyzer with its worker pool.
func NewAnalyzer(m model.Model, mem *memory.Manager, optFns ...func(o *AnalyzerOptions)) *Analyzer {
	opts := AnalyzerOptions{
		Workers:   2,
		QueueSize: 64,
		Timeout:   60 * time.Second,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Analyzer{
		model:   m,
		memory:  mem,
		memTool: tool.NewMemoryTool(),
		opts:    opts,
		users:   core.NewKeyedMutex(),
		queue:   make(chan AnalysisJob, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

// Submit enqueues a job without blocking.
func (a *Analyzer) Submit(job AnalysisJob) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrAnalyzerClosed
	}
	select {
	case a.queue <- job:
		return nil
	default:
		a.opts.Logger.Warn("analyzer.queue.full", "user_id", job.UserID)
		return ErrAnalyzerBusy
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for workers.
func (a *Analyzer) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.cancel()
}

func (a *Analyzer) worker() {
	defer a.wg.Done()
	for job := range a.queue {
		res := a.process(job)
		if a.opts.OnComplete != nil {
			a.opts.OnComplete(res)
		}
	}
}

func (a *Analyzer) process(job AnalysisJob) AnalysisResult {
	unlock := a.users.Lock(job.UserID)
	defer unlock()

	ctx, cancel := context.WithTimeout(a.ctx, a.opts.Timeout)
	defer cancel()

	res := AnalysisResult{UserID: job.UserID}

	snapshot, err := a.memory.Snapshot(ctx, job.UserID)
	if err != nil {
		res.Err = err
		return res
	}

	_, answer := SplitThinking(job.Reply.Text)
	req := model.Request{
		System: analysisPrompt + RenderFacts(snapshot),
		Messages: []core.Message{
			job.Human,
			core.AssistantMessage{ID: job.Reply.ID, Text: answer},
			core.NewHumanMessage("请分析上面这一轮对话。"),
		},
		Tools: []model.ToolDefinition{{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        a.memTool.Name(),
				Description: a.memTool.Description(),
				Parameters:  a.memTool.Parameters(),
			},
		}},
	}

	start := time.Now()
	msg, err := model.Collect(ctx, a.model, req, nil)
	logging.ModelCall(a.opts.Logger, a.model.Info().String(), time.Since(start), err)
	if err != nil {
		res.Err = err
		return res
	}

	var errs []error
	for _, call := range msg.ToolCalls {
		if call.Name != tool.MemoryToolName {
			continue
		}
		args, err := tool.ParseMemoryArgs(call.Arguments)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch args.Action {
		case tool.ActionUpsert:
			err = a.memory.Upsert(ctx, job.UserID, args.MemoryID, args.Content)
		case tool.ActionDelete:
			err = a.memory.Delete(ctx, job.UserID, args.MemoryID)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Applied = append(res.Applied, args)
	}
	res.Err = errors.Join(errs...)

	a.opts.Logger.Info("analyzer.done", "user_id", job.UserID, "applied", len(res.Applied))
	return res
}
