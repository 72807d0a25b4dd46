// Package anchor proves that an execution-layer state root descends from a
// trust-minimized point of its chain's consensus. Each consensus family has
// a verifier; all of them consume pre-fetched witness material and perform
// no I/O.
//
// An Anchor can only be produced by a verifier. Readers of chain state
// accept nothing else as the source of a state root.
package anchor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/trie"
)

// Anchor is a verified execution block of one chain. The zero value is
// unverified and rejected everywhere.
type Anchor struct {
	chainID    uint64
	family     chain.Family
	number     uint64
	hash       common.Hash
	stateRoot  common.Hash
	timestamp  uint64
	trustRoot  common.Hash
	l1Included bool
	verified   bool
}

func (a *Anchor) ChainID() uint64 { return a.chainID }
func (a *Anchor) Family() chain.Family { return a.family }
func (a *Anchor) BlockNumber() uint64 { return a.number }
func (a *Anchor) BlockHash() common.Hash { return a.hash }
func (a *Anchor) StateRoot() common.Hash { return a.stateRoot }
func (a *Anchor) Timestamp() uint64 { return a.timestamp }
func (a *Anchor) L1Included() bool { return a.l1Included }
func (a *Anchor) Verified() bool { return a != nil && a.verified }

// TrustRoot is what the anchor ultimately rests on: the beacon checkpoint
// root for Ethereum, the anchoring L1 block hash for rollups proven with L1
// inclusion, and the left-padded sequencer address otherwise. Ethereum
// anchors relayed through an OP-Stack chain rest on the relay sequencer.
func (a *Anchor) TrustRoot() common.Hash { return a.trustRoot }

func (a *Anchor) String() string {
	return fmt.Sprintf("anchor{chain=%d block=%d hash=%s}", a.chainID, a.number, a.hash.TerminalString())
}

// ChainWitness carries everything needed to anchor one chain. Header is the
// RLP execution header whose state root will be read; Links are the RLP
// headers that follow it, in ascending order, ending at the block the
// consensus material vouches for. Exactly one of the family fields is set;
// an Ethereum witness carries either Beacon or Relay.
type ChainWitness struct {
	ChainID uint64
	Header  []byte
	Links   [][]byte

	Beacon  *BeaconWitness  `rlp:"nil"`
	OPStack *OPStackWitness `rlp:"nil"`
	Linea   *LineaWitness   `rlp:"nil"`
	Relay   *RelayWitness   `rlp:"nil"`
}

// BeaconWitness is light client material from a trusted checkpoint up to a
// finalized header whose execution payload is the tip of Links.
type BeaconWitness struct {
	CheckpointRoot common.Hash
	Bootstrap      light.Bootstrap
	Updates        []light.Update
}

// OPStackWitness carries the sequencer's signed block commitment and, when
// L1 inclusion is required, the dispute game that settled the tip.
type OPStackWitness struct {
	Commitment []byte
	Game       *GameWitness `rlp:"nil"`
}

// GameWitness proves a resolved dispute game on L1 for the tip block.
// MessagePasser is proven against the tip's L2 state; Factory and Game
// against the L1 anchor's state, each with the single storage slot read.
type GameWitness struct {
	MessagePasser trie.AccountProof
	Factory       trie.AccountProof
	Game          trie.AccountProof
}

// RelayWitness anchors Ethereum through the relay chain's L1Block
// predeploy. Commitment is the relay sequencer's signed commitment for
// Header, an RLP relay chain header. L1Block is the predeploy account
// proven against Header's state root with its number and hash slots.
type RelayWitness struct {
	Commitment []byte
	Header     []byte
	L1Block    trie.AccountProof
}

// LineaWitness carries the LineaRollup account on L1 with its finalized
// block number slot. Only needed when L1 inclusion is required.
type LineaWitness struct {
	Rollup *trie.AccountProof `rlp:"nil"`
}

// Kind classifies anchor failures.
type Kind uint8

const (
	SignatureInvalid Kind = iota + 1
	CommitteePeriodMismatch
	StaleUpdate
	SequencerSigInvalid
	DisputeGameUnresolved
	L1InclusionMissing
	ExecutionMismatch
	ReorgDepth
	WitnessMalformed
)

var kindNames = map[Kind]string{
	SignatureInvalid:        "SignatureInvalid",
	CommitteePeriodMismatch: "CommitteePeriodMismatch",
	StaleUpdate:             "StaleUpdate",
	SequencerSigInvalid:     "SequencerSigInvalid",
	DisputeGameUnresolved:   "DisputeGameUnresolved",
	L1InclusionMissing:      "L1InclusionMissing",
	ExecutionMismatch:       "ExecutionMismatch",
	ReorgDepth:              "ReorgDepth",
	WitnessMalformed:        "WitnessMalformed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string { return "anchor: " + k.String() }

// Error is an anchor verification failure for one chain.
type Error struct {
	ChainID uint64
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("anchor: chain %d: %v", e.ChainID, e.Kind)
	}
	return fmt.Sprintf("anchor: chain %d: %v: %v", e.ChainID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func fail(chainID uint64, kind Kind, err error) *Error {
	return &Error{ChainID: chainID, Kind: kind, Err: err}
}

func failf(chainID uint64, kind Kind, format string, args ...any) *Error {
	return fail(chainID, kind, fmt.Errorf(format, args...))
}

// lightKind maps a light client failure onto an anchor error kind.
func lightKind(err error) Kind {
	switch {
	case errors.Is(err, light.ErrSignatureInvalid),
		errors.Is(err, light.ErrInsufficientParticipation),
		errors.Is(err, light.ErrBitsLength):
		return SignatureInvalid
	case errors.Is(err, light.ErrCommitteePeriodMismatch):
		return CommitteePeriodMismatch
	case errors.Is(err, light.ErrStaleUpdate), errors.Is(err, light.ErrSlotOrder):
		return StaleUpdate
	}
	return WitnessMalformed
}
