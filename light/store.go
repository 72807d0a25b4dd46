package light

import (
	"errors"
	"fmt"

	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/ssz"
)

var (
	ErrCheckpointMismatch      = errors.New("light: bootstrap header does not match trusted checkpoint")
	ErrInvalidHeader           = errors.New("light: execution payload branch invalid")
	ErrInvalidCommitteeBranch  = errors.New("light: sync committee branch invalid")
	ErrInvalidFinalityBranch   = errors.New("light: finality branch invalid")
	ErrCommitteePeriodMismatch = errors.New("light: update signed outside the known committee periods")
	ErrStaleUpdate             = errors.New("light: update does not advance the store")
	ErrSlotOrder               = errors.New("light: update slots out of order")
	ErrNextCommitteeConflict   = errors.New("light: next sync committee conflicts with known committee")
)

// Store is the light client state of a single proof run. It starts from a
// trusted checkpoint and only moves forward; every update is fully checked
// before any field changes, so a failed update leaves the store untouched.
type Store struct {
	params *chain.BeaconParams

	finalized  LightClientHeader
	optimistic LightClientHeader
	current    *SyncCommittee
	next       *SyncCommittee
}

// NewStore bootstraps a store from a checkpoint block root the caller
// already trusts.
func NewStore(params *chain.BeaconParams, trustedRoot [32]byte, b *Bootstrap) (*Store, error) {
	if params == nil || b == nil {
		return nil, fmt.Errorf("%w: missing bootstrap", ErrCheckpointMismatch)
	}
	if err := verifyHeader(&b.Header); err != nil {
		return nil, err
	}
	if b.Header.Beacon.HashTreeRoot() != trustedRoot {
		return nil, ErrCheckpointMismatch
	}
	layout, err := layoutAt(params, b.Header.Beacon.Slot)
	if err != nil {
		return nil, err
	}
	if len(b.CurrentSyncCommittee.Pubkeys) != SyncCommitteeSize {
		return nil, ErrCommitteeSize
	}
	if err := ssz.VerifyBranch(b.CurrentSyncCommittee.HashTreeRoot(), b.CurrentSyncCommitteeBranch,
		layout.currentSyncCommittee, b.Header.Beacon.StateRoot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitteeBranch, err)
	}
	current := b.CurrentSyncCommittee
	return &Store{
		params:     params,
		finalized:  b.Header,
		optimistic: b.Header,
		current:    &current,
	}, nil
}

// Finalized returns the latest finalized header.
func (s *Store) Finalized() LightClientHeader { return s.finalized }

// Optimistic returns the latest attested header.
func (s *Store) Optimistic() LightClientHeader { return s.optimistic }

// Period returns the committee period of the finalized header.
func (s *Store) Period() uint64 { return SyncCommitteePeriod(s.finalized.Beacon.Slot) }

// NextCommitteeKnown reports whether the following period's committee has
// been learned.
func (s *Store) NextCommitteeKnown() bool { return s.next != nil }

// ProcessUpdate validates u and applies it. Errors leave the store
// unchanged.
func (s *Store) ProcessUpdate(u *Update) error {
	attested := &u.AttestedHeader.Beacon
	if u.SignatureSlot <= attested.Slot {
		return fmt.Errorf("%w: signature slot %d, attested slot %d", ErrSlotOrder, u.SignatureSlot, attested.Slot)
	}
	if u.FinalizedHeader != nil && attested.Slot < u.FinalizedHeader.Beacon.Slot {
		return fmt.Errorf("%w: attested slot %d before finalized slot %d", ErrSlotOrder, attested.Slot, u.FinalizedHeader.Beacon.Slot)
	}

	storePeriod := s.Period()
	sigPeriod := SyncCommitteePeriod(u.SignatureSlot)
	switch {
	case sigPeriod == storePeriod:
	case sigPeriod == storePeriod+1 && s.next != nil:
	default:
		return fmt.Errorf("%w: store period %d, signature period %d", ErrCommitteePeriodMismatch, storePeriod, sigPeriod)
	}

	attestedPeriod := SyncCommitteePeriod(attested.Slot)
	learnsNext := u.NextSyncCommittee != nil && s.next == nil && attestedPeriod == storePeriod
	advancesFinality := u.FinalizedHeader != nil && u.FinalizedHeader.Beacon.Slot > s.finalized.Beacon.Slot
	if attested.Slot <= s.optimistic.Beacon.Slot && !advancesFinality && !learnsNext {
		return fmt.Errorf("%w: attested slot %d, store slot %d", ErrStaleUpdate, attested.Slot, s.optimistic.Beacon.Slot)
	}

	if err := verifyHeader(&u.AttestedHeader); err != nil {
		return err
	}
	layout, err := layoutAt(s.params, attested.Slot)
	if err != nil {
		return err
	}

	if u.FinalizedHeader != nil {
		if err := verifyHeader(u.FinalizedHeader); err != nil {
			return err
		}
		if err := ssz.VerifyBranch(u.FinalizedHeader.Beacon.HashTreeRoot(), u.FinalityBranch,
			layout.finalizedRoot, attested.StateRoot); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFinalityBranch, err)
		}
		finPeriod := SyncCommitteePeriod(u.FinalizedHeader.Beacon.Slot)
		if advancesFinality && finPeriod != storePeriod && !(finPeriod == storePeriod+1 && s.next != nil) {
			return fmt.Errorf("%w: finalized period %d, store period %d", ErrCommitteePeriodMismatch, finPeriod, storePeriod)
		}
	}

	if u.NextSyncCommittee != nil {
		if len(u.NextSyncCommittee.Pubkeys) != SyncCommitteeSize {
			return ErrCommitteeSize
		}
		root := u.NextSyncCommittee.HashTreeRoot()
		if attestedPeriod == storePeriod && s.next != nil && s.next.HashTreeRoot() != root {
			return ErrNextCommitteeConflict
		}
		if err := ssz.VerifyBranch(root, u.NextSyncCommitteeBranch,
			layout.nextSyncCommittee, attested.StateRoot); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommitteeBranch, err)
		}
	}

	committee := s.current
	if sigPeriod == storePeriod+1 {
		committee = s.next
	}
	domain, err := SyncCommitteeDomain(s.params, u.SignatureSlot)
	if err != nil {
		return err
	}
	if err := verifySyncAggregate(committee, &u.SyncAggregate, SigningRoot(attested.HashTreeRoot(), domain)); err != nil {
		return err
	}

	s.apply(u, storePeriod, learnsNext, advancesFinality)
	return nil
}

func (s *Store) apply(u *Update, storePeriod uint64, learnsNext, advancesFinality bool) {
	if learnsNext {
		next := *u.NextSyncCommittee
		s.next = &next
	}
	if advancesFinality {
		if SyncCommitteePeriod(u.FinalizedHeader.Beacon.Slot) == storePeriod+1 {
			s.current = s.next
			s.next = nil
			if u.NextSyncCommittee != nil && SyncCommitteePeriod(u.AttestedHeader.Beacon.Slot) == storePeriod+1 {
				next := *u.NextSyncCommittee
				s.next = &next
			}
		}
		s.finalized = *u.FinalizedHeader
	}
	if u.AttestedHeader.Beacon.Slot > s.optimistic.Beacon.Slot {
		s.optimistic = u.AttestedHeader
	}
	if s.finalized.Beacon.Slot > s.optimistic.Beacon.Slot {
		s.optimistic = s.finalized
	}
}

// verifyHeader checks the execution payload header is committed to by the
// beacon block body.
func verifyHeader(h *LightClientHeader) error {
	root, err := h.Execution.HashTreeRoot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if err := ssz.VerifyBranch(root, h.ExecutionBranch, executionPayloadGIndex, h.Beacon.BodyRoot); err != nil {
		return fmt.Errorf("%w: slot %d: %v", ErrInvalidHeader, h.Beacon.Slot, err)
	}
	return nil
}
