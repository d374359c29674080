// Package receiptfetch downloads vendor receipts for auto-linked orders on a
// bounded worker pool, stores them and verifies them.
package receiptfetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/purchase-approval/internal/purchase"
	"github.com/frahmantamala/purchase-approval/internal/receipt"
	"github.com/frahmantamala/purchase-approval/internal/vendorapi"
	"github.com/frahmantamala/purchase-approval/internal/verification"
)

var (
	ErrQueueFull = errors.New("receipt fetch queue is full")
	ErrStopped   = errors.New("receipt fetch pool is stopped")
)

const statusWriteTimeout = 5 * time.Second

type Job struct {
	OrderID   string
	RequestID int64
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing receipt fetch", "worker_id", w.ID, "order_id", job.OrderID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type DocumentSource interface {
	GetOrderReceipt(ctx context.Context, orderID string) (*vendorapi.Document, error)
}

type ReceiptStore interface {
	AddVendorReceipt(ctx context.Context, requestID int64, f receipt.File) (*receipt.Receipt, error)
}

type StatusWriter interface {
	SetExternalReceiptStatus(ctx context.Context, id int64, status purchase.ExternalReceiptStatus) error
}

type Verifier interface {
	VerifyReceipt(ctx context.Context, receiptID int64, force bool) (*verification.Analysis, error)
}

type Config struct {
	MaxWorkers int
	QueueSize  int
	JobTimeout time.Duration
}

// Pool implements the reconciliation receipt fetch trigger.
type Pool struct {
	documents DocumentSource
	receipts  ReceiptStore
	status    StatusWriter
	verifier  Verifier
	logger    *slog.Logger

	jobTimeout time.Duration
	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	once       sync.Once
}

func NewPool(documents DocumentSource, receipts ReceiptStore, status StatusWriter, verifier Verifier, config Config, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}

	p := &Pool{
		documents:  documents,
		receipts:   receipts,
		status:     status,
		verifier:   verifier,
		logger:     logger,
		jobTimeout: jobTimeout,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.maxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.ctx, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("receipt fetch worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			}
		case <-p.ctx.Done():
			p.logger.Info("receipt fetch dispatcher shutting down")
			return
		}
	}
}

// TriggerReceiptFetch queues a download without blocking the caller.
func (p *Pool) TriggerReceiptFetch(orderID string, requestID int64) error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	p.pending.Add(1)
	select {
	case p.jobQueue <- Job{OrderID: orderID, RequestID: requestID}:
		p.logger.Info("receipt fetch queued", "order_id", orderID, "request_id", requestID, "queue_length", len(p.jobQueue))
		return nil
	default:
		p.pending.Done()
		p.logger.Warn("receipt fetch queue full", "order_id", orderID, "request_id", requestID, "queue_capacity", cap(p.jobQueue))
		return ErrQueueFull
	}
}

// Drain blocks until every accepted job has been processed. Jobs abandoned by
// Shutdown are never counted as done, so call it before shutting down.
func (p *Pool) Drain() {
	p.pending.Wait()
}

func (p *Pool) Shutdown() {
	p.logger.Info("shutting down receipt fetch pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("receipt fetch pool shutdown complete")
}

func (p *Pool) process(job Job) {
	defer p.pending.Done()
	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()
	p.Fetch(ctx, job)
}

// Fetch runs one job inline. A download or storage failure marks the
// request's vendor receipt as failed; verification problems do not.
func (p *Pool) Fetch(ctx context.Context, job Job) {
	doc, err := p.documents.GetOrderReceipt(ctx, job.OrderID)
	if err != nil {
		p.logger.Error("vendor receipt download failed", "error", err, "order_id", job.OrderID, "request_id", job.RequestID)
		p.markStatus(ctx, job, purchase.ExternalReceiptFailed)
		return
	}

	rec, err := p.receipts.AddVendorReceipt(ctx, job.RequestID, receipt.File{
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		Data:        doc.Data,
	})
	if err != nil {
		p.logger.Error("failed to store vendor receipt", "error", err, "order_id", job.OrderID, "request_id", job.RequestID)
		p.markStatus(ctx, job, purchase.ExternalReceiptFailed)
		return
	}
	p.markStatus(ctx, job, purchase.ExternalReceiptFetched)

	if p.verifier == nil {
		return
	}
	analysis, err := p.verifier.VerifyReceipt(ctx, rec.ID, false)
	if err != nil {
		p.logger.Error("vendor receipt verification failed", "error", err, "receipt_id", rec.ID)
		return
	}
	p.logger.Info("vendor receipt fetched and verified",
		"order_id", job.OrderID,
		"request_id", job.RequestID,
		"receipt_id", rec.ID,
		"confidence", analysis.Result.Confidence,
		"recommendation", analysis.Result.Recommendation)
}

// markStatus writes even after the job's deadline has passed, so a timed-out
// download still ends as failed.
func (p *Pool) markStatus(ctx context.Context, job Job, status purchase.ExternalReceiptStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := p.status.SetExternalReceiptStatus(ctx, job.RequestID, status); err != nil {
		p.logger.Error("failed to record vendor receipt status", "error", err, "request_id", job.RequestID, "status", status)
	}
}
