package main

import (
	"context"
	"fmt"

	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/config"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/prover"
	"github.com/eth2030/xproof/witness"
)

// driver wires the configured witness sources and backend into a proof
// driver. The returned func closes the RPC connections.
//
// The guest always carries the combined registry so its image id matches
// the deployed verifier on every network. Witnesses are only collected
// for chains on the configured network.
func (a *app) driver(ctx context.Context) (*prover.Driver, func(), error) {
	reg, err := chain.NewNetworkRegistry(chain.Network(a.cfg.Network))
	if err != nil {
		return nil, nil, err
	}
	prog := guest.New(chain.DefaultRegistry())

	backend, err := a.backend(prog)
	if err != nil {
		return nil, nil, err
	}
	collector, closeSources, err := a.collector(ctx, reg)
	if err != nil {
		return nil, nil, err
	}
	submitter, err := batch.ParseSubmitter(a.cfg.Submitter)
	if err != nil {
		closeSources()
		return nil, nil, err
	}
	d := prover.NewDriver(backend, collector, prover.Options{
		Timeout: a.cfg.Prover.Timeout,
		Retry: prover.RetryPolicy{
			MaxRetries: a.cfg.Prover.MaxRetries,
			Backoff:    a.cfg.Prover.RetryBackoff,
		},
		Submitter: submitter,
		Logger:    a.log,
	})
	return d, closeSources, nil
}

func (a *app) backend(prog *guest.Program) (prover.Backend, error) {
	p := a.cfg.Prover
	switch p.Backend {
	case config.BackendRemote:
		id, err := prog.ImageID()
		if err != nil {
			return nil, err
		}
		return prover.NewRemoteBackend(prover.RemoteConfig{
			URL:          p.RemoteURL,
			APIKey:       p.APIKey,
			Version:      p.Version,
			PollInterval: p.PollInterval,
		}, id), nil
	case config.BackendLocal:
		return prover.NewLocalBackend(prog), nil
	}
	return nil, fmt.Errorf("unknown prover backend %q", p.Backend)
}

func (a *app) collector(ctx context.Context, reg *chain.Registry) (*witness.Collector, func(), error) {
	eps, err := a.cfg.Endpoints()
	if err != nil {
		return nil, nil, err
	}
	var clients []*witness.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	chains := make(map[uint64]witness.Sources, len(eps))
	for id, ep := range eps {
		p, err := reg.Lookup(id)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ec, err := witness.Dial(ctx, ep.RPC)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("chain %s: %w", p.Name, err)
		}
		clients = append(clients, ec)
		src := witness.Sources{Execution: ec}
		switch p.Family {
		case chain.FamilyBeacon:
			if ep.Beacon == "" {
				// relayed through p.Relay.ChainID
				break
			}
			src.Beacon = witness.NewBeaconClient(ep.Beacon, nil)
			if src.Checkpoint, err = ep.CheckpointRoot(); err != nil {
				closeAll()
				return nil, nil, err
			}
		case chain.FamilyOPStack:
			src.Sequencer = witness.NewSequencerClient(ep.Sequencer, nil)
		}
		chains[id] = src
		a.log.Debug("chain sources configured", "chain", p.Name, "id", id, "family", p.Family)
	}
	c, err := witness.NewCollector(witness.Config{
		Registry:         reg,
		Chains:           chains,
		GameLookback:     a.cfg.Witness.GameLookback,
		ProofConcurrency: a.cfg.Witness.ProofConcurrency,
		Logger:           a.log,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return c, closeAll, nil
}
