package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/log"
	"github.com/eth2030/xproof/metrics"
	"github.com/eth2030/xproof/zkvm"
)

// WitnessSource gathers the witness bundle for a request.
type WitnessSource interface {
	Collect(ctx context.Context, req *batch.Request) (*guest.Input, error)
}

// SourceFunc adapts a function to WitnessSource.
type SourceFunc func(ctx context.Context, req *batch.Request) (*guest.Input, error)

func (f SourceFunc) Collect(ctx context.Context, req *batch.Request) (*guest.Input, error) {
	return f(ctx, req)
}

// RetryPolicy resubmits an input after a retryable backend error. The
// zero policy never resubmits; remote submissions may be billed per
// attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Options configure a Driver.
type Options struct {
	// Timeout bounds one backend submission, retries excluded. Zero
	// leaves only the caller's context.
	Timeout time.Duration
	Retry   RetryPolicy
	// Submitter is applied to requests built by ProveGrouped.
	Submitter batch.Submitter
	Logger    *log.Logger
}

// ProofBundle is a finished proof ready for on-chain submission: Journal
// and Seal (selector-prefixed) go to the verifier contract.
type ProofBundle struct {
	RunID     string
	Backend   string
	ImageID   common.Hash
	Journal   []byte
	Seal      []byte
	Stats     zkvm.SessionStats
	StarkTime time.Duration
	SnarkTime time.Duration
}

// Driver runs proof requests end to end.
type Driver struct {
	backend Backend
	source  WitnessSource
	opts    Options
	log     *log.Logger
}

// NewDriver returns a driver proving on backend with witnesses from
// source.
func NewDriver(backend Backend, source WitnessSource, opts Options) *Driver {
	l := opts.Logger
	if l == nil {
		l = log.Default()
	}
	return &Driver{backend: backend, source: source, opts: opts, log: l.Module("prover")}
}

// Prove validates req, gathers its witnesses and proves them. Shape and
// policy errors are returned before any witness is fetched.
func (d *Driver) Prove(ctx context.Context, req *batch.Request) (*ProofBundle, error) {
	return d.run(ctx, req, true)
}

// Execute is Prove without proving: the bundle carries the journal but no
// seal.
func (d *Driver) Execute(ctx context.Context, req *batch.Request) (*ProofBundle, error) {
	return d.run(ctx, req, false)
}

// ProveGrouped is Prove over the grouped request shape: group i reads
// users[i][j] in markets[i][j] for target targets[i][j] on chain
// chainIDs[i].
func (d *Driver) ProveGrouped(ctx context.Context, users, markets [][]common.Address, targets [][]uint64, chainIDs []uint64, l1Inclusion bool) (*ProofBundle, error) {
	req, err := batch.FromGrouped(users, markets, targets, chainIDs, l1Inclusion, d.opts.Submitter)
	if err != nil {
		return nil, err
	}
	return d.Prove(ctx, req)
}

func (d *Driver) run(ctx context.Context, req *batch.Request, prove bool) (*ProofBundle, error) {
	runID := uuid.NewString()
	l := d.log.With("run", runID, "backend", d.backend.Name())
	metrics.ProofsRequested.Inc()

	bundle, err := d.execute(ctx, l, runID, req, prove)
	if err != nil {
		metrics.ProofsFailed.Inc()
		l.Warn("proof run failed", "err", err)
		return nil, err
	}
	metrics.ProofsSucceeded.Inc()
	for _, n := range bundle.Stats.AnchorVerifications {
		metrics.AnchorVerifications.Add(int64(n))
	}
	metrics.PositionsVerified.Add(int64(bundle.Stats.Positions))
	l.Info("proof run complete", "positions", bundle.Stats.Positions,
		"stark", bundle.StarkTime, "snark", bundle.SnarkTime)
	return bundle, nil
}

func (d *Driver) execute(ctx context.Context, l *log.Logger, runID string, req *batch.Request, prove bool) (*ProofBundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in, err := d.source.Collect(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prover: collect witnesses: %w", err)
	}
	image, err := guest.EncodeInput(in)
	if err != nil {
		return nil, fmt.Errorf("prover: encode input: %w", err)
	}
	l.Debug("input image ready", "bytes", len(image), "chains", len(in.Chains))

	res, err := d.submit(ctx, l, image, prove)
	if err != nil {
		return nil, err
	}
	b := &ProofBundle{
		RunID:     runID,
		Backend:   d.backend.Name(),
		ImageID:   res.Receipt.ImageID,
		Journal:   res.Receipt.Journal,
		Stats:     res.Receipt.Stats,
		StarkTime: res.StarkTime,
		SnarkTime: res.SnarkTime,
	}
	if prove {
		b.Seal = res.Receipt.Attestation()
	}
	return b, nil
}

// submit sends image to the backend, resubmitting only as the retry
// policy allows.
func (d *Driver) submit(ctx context.Context, l *log.Logger, image []byte, prove bool) (*Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := d.attempt(ctx, image, prove)
		if err == nil {
			return res, nil
		}
		if !Retryable(err) || attempt >= d.opts.Retry.MaxRetries || ctx.Err() != nil {
			return nil, err
		}
		metrics.ProofsRetried.Inc()
		l.Info("retrying backend submission", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctxErr(d.backend.Name(), ctx.Err())
		case <-time.After(d.opts.Retry.Backoff):
		}
	}
}

func (d *Driver) attempt(ctx context.Context, image []byte, prove bool) (*Result, error) {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	metrics.ProofsInFlight.Inc()
	defer metrics.ProofsInFlight.Dec()
	t := metrics.NewTimer(metrics.ProvingTime)
	defer t.Stop()

	var (
		res *Result
		err error
	)
	if prove {
		res, err = d.backend.Prove(ctx, image)
	} else {
		res, err = d.backend.Execute(ctx, image)
	}
	if err != nil {
		var pe *ProveError
		if !errors.As(err, &pe) {
			err = proveErr(d.backend.Name(), ErrBackendUnavailable, err)
		}
		return nil, err
	}
	return res, nil
}
