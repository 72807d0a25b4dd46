// Package prover is the host side of a proof run: it validates the
// request, gathers witnesses, encodes the guest input image and hands it to
// a local or remote proving backend. Both backends honor the same
// contract, so callers never depend on where proving happens.
package prover

import (
	"context"
	"errors"
	"time"

	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/zkvm"
)

// Result is a backend's answer for one image.
type Result struct {
	Receipt *zkvm.Receipt
	// StarkTime covers execution and the segment proofs, SnarkTime the
	// final compression. Execute-only results leave SnarkTime zero.
	StarkTime time.Duration
	SnarkTime time.Duration
}

// Backend proves guest input images. Errors are *ProveError.
type Backend interface {
	Name() string
	// Prove executes image and returns a sealed receipt.
	Prove(ctx context.Context, image []byte) (*Result, error)
	// Execute runs image without proving. The receipt carries no seal.
	Execute(ctx context.Context, image []byte) (*Result, error)
}

// LocalBackend runs the program in process and seals journals with the
// development seal.
type LocalBackend struct {
	Program *guest.Program
}

// NewLocalBackend returns a local backend for prog.
func NewLocalBackend(prog *guest.Program) *LocalBackend {
	return &LocalBackend{Program: prog}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Prove(ctx context.Context, image []byte) (*Result, error) {
	return b.run(ctx, image, true)
}

func (b *LocalBackend) Execute(ctx context.Context, image []byte) (*Result, error) {
	return b.run(ctx, image, false)
}

// run executes in a separate goroutine so a cancelled caller is released
// at once. The guest itself cannot be interrupted; its result is dropped.
func (b *LocalBackend) run(ctx context.Context, image []byte, seal bool) (*Result, error) {
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		start := time.Now()
		r, err := zkvm.Execute(b.Program, image)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res := &Result{Receipt: r, StarkTime: time.Since(start)}
		if seal {
			start = time.Now()
			r.Seal = zkvm.DevSeal(r.ImageID, r.Journal)
			res.SnarkTime = time.Since(start)
		}
		done <- outcome{res: res}
	}()

	select {
	case <-ctx.Done():
		return nil, ctxErr(b.Name(), ctx.Err())
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, zkvm.ErrGuestTrapped) {
				return nil, proveErr(b.Name(), ErrExecutionTrapped, o.err)
			}
			return nil, proveErr(b.Name(), ErrBackendUnavailable, o.err)
		}
		return o.res, nil
	}
}

// ctxErr classifies a context error: an expired deadline is a proving
// timeout, a cancellation leaves the backend usable.
func ctxErr(backend string, err error) *ProveError {
	if errors.Is(err, context.DeadlineExceeded) {
		return proveErr(backend, ErrProvingTimeout, err)
	}
	return proveErr(backend, ErrBackendUnavailable, err)
}
