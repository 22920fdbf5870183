package ledger

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Submitter serializes every write originating from the intermediary account.
// The account has a single on-ledger sequence number; concurrent submissions
// from it race on ordering, so all contract invocations funnel through one
// worker goroutine.
type Submitter struct {
	gateway   Gateway
	jobs      chan submitJob
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

type submitJob struct {
	ctx    context.Context
	label  string
	exec   func(context.Context) (*Transaction, error)
	result chan submitResult
}

type submitResult struct {
	tx  *Transaction
	err error
}

// ErrSubmitterClosed is returned for submissions after Close.
var ErrSubmitterClosed = errors.New("ledger submitter is closed")

// NewSubmitter starts the single submission worker.
func NewSubmitter(gateway Gateway, logger *zap.Logger) *Submitter {
	s := &Submitter{
		gateway: gateway,
		jobs:    make(chan submitJob),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go s.run()
	return s
}

func (s *Submitter) run() {
	defer close(s.done)
	for {
		select {
		case job := <-s.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- submitResult{err: err}
				continue
			}
			tx, err := job.exec(job.ctx)
			if err != nil {
				s.logger.Warn("intermediary submission failed",
					zap.String("op", job.label),
					zap.Error(err))
			}
			job.result <- submitResult{tx: tx, err: err}
		case <-s.closing:
			return
		}
	}
}

// Invoke queues a contract call and blocks until the worker has submitted it
// and the ledger confirmed or rejected it.
func (s *Submitter) Invoke(ctx context.Context, call ContractCall) (*Transaction, error) {
	return s.submit(ctx, call.ContractID+"."+call.Method, func(ctx context.Context) (*Transaction, error) {
		return s.gateway.InvokeContract(ctx, call)
	})
}

// Pay queues a native payment from the intermediary account; it shares the
// worker with contract calls so sequence numbers never interleave.
func (s *Submitter) Pay(ctx context.Context, destination string, amountStroops int64, memo string) (*Transaction, error) {
	return s.submit(ctx, "payment", func(ctx context.Context) (*Transaction, error) {
		return s.gateway.SendPayment(ctx, destination, amountStroops, memo)
	})
}

func (s *Submitter) submit(ctx context.Context, label string, exec func(context.Context) (*Transaction, error)) (*Transaction, error) {
	job := submitJob{ctx: ctx, label: label, exec: exec, result: make(chan submitResult, 1)}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closing:
		return nil, ErrSubmitterClosed
	}

	select {
	case res := <-job.result:
		return res.tx, res.err
	case <-ctx.Done():
		// The worker still owns the in-flight submission; the buffered
		// result channel lets it finish without blocking.
		return nil, ctx.Err()
	}
}

// Close stops the worker; any submission already handed to it finishes first.
func (s *Submitter) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	<-s.done
}
