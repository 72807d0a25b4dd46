// Package batch defines the verification request: an ordered list of
// (user, market, target chains, source chain) entries and the policy
// flags the run must honor. Shape and policy are checked here, before any
// witness is gathered.
package batch

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrShape is returned for a malformed request: mismatched grouped
	// vectors, empty target lists or an empty batch.
	ErrShape = errors.New("batch: malformed request")
	// ErrPolicy is returned for a well-formed request the submitter is
	// not allowed to make.
	ErrPolicy = errors.New("batch: policy violation")
)

// Submitter identifies who is generating the proof. The zero value is
// the restricted role, so a request that never names its submitter is
// held to the self-sequenced policy.
type Submitter uint8

const (
	// SubmitterSelf is any party proving for itself.
	SubmitterSelf Submitter = iota
	// SubmitterSequencer is the protocol's own sequencer infrastructure.
	SubmitterSequencer
)

func (s Submitter) String() string {
	switch s {
	case SubmitterSequencer:
		return "sequencer"
	case SubmitterSelf:
		return "self"
	default:
		return fmt.Sprintf("submitter(%d)", uint8(s))
	}
}

// ParseSubmitter parses the names returned by String. The empty string
// is self.
func ParseSubmitter(s string) (Submitter, error) {
	switch s {
	case "self", "":
		return SubmitterSelf, nil
	case "sequencer":
		return SubmitterSequencer, nil
	}
	return 0, fmt.Errorf("batch: unknown submitter %q", s)
}

// Entry asks for a user's positions in one market on one source chain,
// one position per target chain.
type Entry struct {
	User          common.Address
	Market        common.Address
	Targets       []uint64
	SourceChainID uint64
}

// Request is an ordered batch of entries.
type Request struct {
	Entries            []Entry
	RequireL1Inclusion bool
	Submitter          Submitter
}

// Validate checks the request's shape and then its policy. A self-submitted
// request must require L1 inclusion; it is rejected, not downgraded.
func (r *Request) Validate() error {
	if len(r.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrShape)
	}
	for i, e := range r.Entries {
		if len(e.Targets) == 0 {
			return fmt.Errorf("%w: entry %d has no target chains", ErrShape, i)
		}
		if e.SourceChainID == 0 {
			return fmt.Errorf("%w: entry %d has no source chain", ErrShape, i)
		}
	}
	switch r.Submitter {
	case SubmitterSequencer:
	case SubmitterSelf:
		if !r.RequireL1Inclusion {
			return fmt.Errorf("%w: self-sequenced requests must require L1 inclusion", ErrPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown submitter %d", ErrPolicy, r.Submitter)
	}
	return nil
}

// SourceChains returns the distinct source chain ids in first-seen order.
func (r *Request) SourceChains() []uint64 {
	var (
		out  []uint64
		seen = make(map[uint64]bool)
	)
	for _, e := range r.Entries {
		if !seen[e.SourceChainID] {
			seen[e.SourceChainID] = true
			out = append(out, e.SourceChainID)
		}
	}
	return out
}

// Markets returns the distinct markets read on chainID in first-seen
// order.
func (r *Request) Markets(chainID uint64) []common.Address {
	var (
		out  []common.Address
		seen = make(map[common.Address]bool)
	)
	for _, e := range r.Entries {
		if e.SourceChainID == chainID && !seen[e.Market] {
			seen[e.Market] = true
			out = append(out, e.Market)
		}
	}
	return out
}

// Positions returns the number of positions the request reads.
func (r *Request) Positions() int {
	n := 0
	for _, e := range r.Entries {
		n += len(e.Targets)
	}
	return n
}

// FromGrouped builds a request from the grouped proving API: group i reads
// users[i][j] in markets[i][j] for target targets[i][j], all on source
// chain chainIDs[i]. Each (user, market, target) triple becomes one entry.
func FromGrouped(users, markets [][]common.Address, targets [][]uint64, chainIDs []uint64, l1Inclusion bool, submitter Submitter) (*Request, error) {
	if len(users) != len(chainIDs) || len(markets) != len(chainIDs) || len(targets) != len(chainIDs) {
		return nil, fmt.Errorf("%w: %d user groups, %d market groups, %d target groups, %d chain ids",
			ErrShape, len(users), len(markets), len(targets), len(chainIDs))
	}
	r := &Request{RequireL1Inclusion: l1Inclusion, Submitter: submitter}
	for i, id := range chainIDs {
		if len(markets[i]) != len(users[i]) || len(targets[i]) != len(users[i]) {
			return nil, fmt.Errorf("%w: group %d has %d users, %d markets, %d targets",
				ErrShape, i, len(users[i]), len(markets[i]), len(targets[i]))
		}
		for j := range users[i] {
			r.Entries = append(r.Entries, Entry{
				User:          users[i][j],
				Market:        markets[i][j],
				Targets:       []uint64{targets[i][j]},
				SourceChainID: id,
			})
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
