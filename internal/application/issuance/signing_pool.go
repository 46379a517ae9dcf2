package issuance

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"3tcapital/ecfcore/internal/core/signing"
)

// Signer produces a signed document.
type Signer interface {
	Sign(document string, identity *signing.Identity, selector string) (string, error)
}

type signJob struct {
	ctx      context.Context
	document string
	identity *signing.Identity
	selector string
	result   chan signResult
}

type signResult struct {
	xml string
	err error
}

// SigningPool runs signatures on a fixed set of workers so CPU bound RSA work
// never runs on more goroutines than configured.
type SigningPool struct {
	signer  Signer
	workers int
	jobs    chan signJob
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewSigningPool starts workers goroutines (at least one).
func NewSigningPool(signer Signer, workers int) *SigningPool {
	if workers <= 0 {
		workers = 1
	}
	p := &SigningPool{
		signer:  signer,
		workers: workers,
		jobs:    make(chan signJob),
		stop:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Workers is the number of concurrent signing slots.
func (p *SigningPool) Workers() int {
	return p.workers
}

// Sign waits for a free worker and returns its result. Waiting honours ctx.
func (p *SigningPool) Sign(ctx context.Context, document string, identity *signing.Identity, selector string) (string, error) {
	job := signJob{
		ctx:      ctx,
		document: document,
		identity: identity,
		selector: selector,
		result:   make(chan signResult, 1),
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "waiting for a signing slot")
	case <-p.stop:
		return "", errors.New("signing pool stopped")
	}

	select {
	case r := <-job.result:
		return r.xml, r.err
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "waiting for signature")
	}
}

// Stop ends the workers after their current job.
func (p *SigningPool) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *SigningPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case job := <-p.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- signResult{err: errors.Wrap(err, "signing skipped")}
				continue
			}
			xml, err := p.signer.Sign(job.document, job.identity, job.selector)
			job.result <- signResult{xml: xml, err: err}
		}
	}
}
