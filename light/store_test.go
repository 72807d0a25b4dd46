package light_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/light/lighttest"
)

const period = light.SlotsPerSyncCommitteePeriod

func exec(n uint64) light.ExecutionPayloadHeader {
	return lighttest.Execution(n, common.BigToHash(common.Big1), common.BytesToHash([]byte{byte(n), byte(n >> 8)}))
}

func bootstrap(t *testing.T, b *lighttest.Builder, slot uint64) *light.Store {
	t.Helper()
	blk := b.Block(slot, exec(slot), nil)
	s, err := light.NewStore(b.Params, blk.Root(), b.Bootstrap(blk))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStore(t *testing.T) {
	b := lighttest.NewBuilder()
	blk := b.Block(100, exec(1), nil)

	s, err := light.NewStore(b.Params, blk.Root(), b.Bootstrap(blk))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := s.Finalized().Beacon.Slot; got != 100 {
		t.Fatalf("finalized slot = %d, want 100", got)
	}
	if s.NextCommitteeKnown() {
		t.Fatal("next committee known after bootstrap")
	}

	if _, err := light.NewStore(b.Params, [32]byte{1}, b.Bootstrap(blk)); !errors.Is(err, light.ErrCheckpointMismatch) {
		t.Fatalf("wrong checkpoint: err = %v, want %v", err, light.ErrCheckpointMismatch)
	}

	bs := b.Bootstrap(blk)
	bs.CurrentSyncCommittee = *b.Committee(7)
	if _, err := light.NewStore(b.Params, blk.Root(), bs); !errors.Is(err, light.ErrInvalidCommitteeBranch) {
		t.Fatalf("wrong committee: err = %v, want %v", err, light.ErrInvalidCommitteeBranch)
	}

	bs = b.Bootstrap(blk)
	bs.Header.Execution.StateRoot = common.Hash{0xff}
	if _, err := light.NewStore(b.Params, blk.Root(), bs); !errors.Is(err, light.ErrInvalidHeader) {
		t.Fatalf("tampered payload: err = %v, want %v", err, light.ErrInvalidHeader)
	}
}

func TestProcessUpdate_Finality(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)

	fin := b.Block(200, exec(2), nil)
	att := b.Block(264, exec(3), &fin.Header)
	u := b.Update(att, &fin.Header, false, 265)

	if err := s.ProcessUpdate(u); err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if got := s.Finalized().Beacon.Slot; got != 200 {
		t.Fatalf("finalized slot = %d, want 200", got)
	}
	if got := s.Optimistic().Beacon.Slot; got != 264 {
		t.Fatalf("optimistic slot = %d, want 264", got)
	}
	if got := s.Finalized().Execution.BlockNumber; got != 2 {
		t.Fatalf("finalized block = %d, want 2", got)
	}

	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrStaleUpdate) {
		t.Fatalf("replay: err = %v, want %v", err, light.ErrStaleUpdate)
	}
}

func TestProcessUpdate_Rotation(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)

	att := b.Block(300, exec(3), nil)
	if err := s.ProcessUpdate(b.Update(att, nil, true, 301)); err != nil {
		t.Fatalf("next committee update: %v", err)
	}
	if !s.NextCommitteeKnown() {
		t.Fatal("next committee not learned")
	}

	fin := b.Block(period+10, exec(4), nil)
	att2 := b.Block(period+80, exec(5), &fin.Header)
	if err := s.ProcessUpdate(b.Update(att2, &fin.Header, true, period+81)); err != nil {
		t.Fatalf("rotation update: %v", err)
	}
	if got := s.Period(); got != 1 {
		t.Fatalf("period = %d, want 1", got)
	}
	if !s.NextCommitteeKnown() {
		t.Fatal("period 2 committee not learned on rotation")
	}
}

func TestProcessUpdate_LateNextCommittee(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)
	if err := s.ProcessUpdate(b.Update(b.Block(300, exec(3), nil), nil, false, 301)); err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}

	// Behind the optimistic header without finality: only useful if it
	// brings the next committee.
	att := b.Block(250, exec(4), nil)
	if err := s.ProcessUpdate(b.Update(att, nil, false, 251)); !errors.Is(err, light.ErrStaleUpdate) {
		t.Fatalf("without next committee: err = %v, want %v", err, light.ErrStaleUpdate)
	}
	if err := s.ProcessUpdate(b.Update(att, nil, true, 251)); err != nil {
		t.Fatalf("with next committee: %v", err)
	}
	if !s.NextCommitteeKnown() {
		t.Fatal("next committee not learned")
	}
	if got := s.Optimistic().Beacon.Slot; got != 300 {
		t.Fatalf("optimistic slot = %d, want 300", got)
	}

	// Once learned, the same update is stale again.
	if err := s.ProcessUpdate(b.Update(att, nil, true, 251)); !errors.Is(err, light.ErrStaleUpdate) {
		t.Fatalf("replay: err = %v, want %v", err, light.ErrStaleUpdate)
	}
}

func TestProcessUpdate_PeriodMismatch(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)

	att := b.Block(period+3, exec(3), nil)
	if err := s.ProcessUpdate(b.Update(att, nil, false, period+5)); !errors.Is(err, light.ErrCommitteePeriodMismatch) {
		t.Fatalf("err = %v, want %v", err, light.ErrCommitteePeriodMismatch)
	}

	att = b.Block(3*period, exec(3), nil)
	if err := s.ProcessUpdate(b.Update(att, nil, false, 3*period+1)); !errors.Is(err, light.ErrCommitteePeriodMismatch) {
		t.Fatalf("far future: err = %v, want %v", err, light.ErrCommitteePeriodMismatch)
	}
}

func TestProcessUpdate_Signature(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)
	fin := b.Block(200, exec(2), nil)
	att := b.Block(264, exec(3), &fin.Header)

	// Signature over a different header.
	u := b.Update(att, &fin.Header, false, 265)
	other := b.Update(b.Block(250, exec(9), nil), nil, false, 265)
	u.SyncAggregate.Signature = other.SyncAggregate.Signature
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrSignatureInvalid) {
		t.Fatalf("foreign signature: err = %v, want %v", err, light.ErrSignatureInvalid)
	}

	// Committee of another period.
	u = b.Update(att, &fin.Header, false, 265)
	u.SyncAggregate.Signature = b.Update(b.Block(period+1, exec(1), nil), nil, false, period+2).SyncAggregate.Signature
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrSignatureInvalid) {
		t.Fatalf("wrong committee: err = %v, want %v", err, light.ErrSignatureInvalid)
	}

	u = b.Update(att, &fin.Header, false, 265)
	b.Sign(u, 341)
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrInsufficientParticipation) {
		t.Fatalf("341 signers: err = %v, want %v", err, light.ErrInsufficientParticipation)
	}

	u.SyncAggregate.Bits = u.SyncAggregate.Bits[:10]
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrBitsLength) {
		t.Fatalf("short bits: err = %v, want %v", err, light.ErrBitsLength)
	}

	// Failures left the store at the bootstrap header.
	if got := s.Finalized().Beacon.Slot; got != 100 {
		t.Fatalf("finalized slot = %d after failures, want 100", got)
	}

	u = b.Update(att, &fin.Header, false, 265)
	b.Sign(u, 342)
	if err := s.ProcessUpdate(u); err != nil {
		t.Fatalf("342 signers: %v", err)
	}
}

func TestProcessUpdate_Branches(t *testing.T) {
	b := lighttest.NewBuilder()
	s := bootstrap(t, b, 100)
	fin := b.Block(200, exec(2), nil)
	att := b.Block(264, exec(3), &fin.Header)

	u := b.Update(att, &fin.Header, false, 265)
	u.FinalityBranch[0] = [32]byte{1}
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrInvalidFinalityBranch) {
		t.Fatalf("finality branch: err = %v, want %v", err, light.ErrInvalidFinalityBranch)
	}

	u = b.Update(att, &fin.Header, true, 265)
	u.NextSyncCommittee = b.Committee(9)
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrInvalidCommitteeBranch) {
		t.Fatalf("next committee branch: err = %v, want %v", err, light.ErrInvalidCommitteeBranch)
	}

	u = b.Update(att, &fin.Header, false, 265)
	u.AttestedHeader.Execution.BlockNumber++
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrInvalidHeader) {
		t.Fatalf("payload: err = %v, want %v", err, light.ErrInvalidHeader)
	}

	u = b.Update(att, &fin.Header, false, 264)
	if err := s.ProcessUpdate(u); !errors.Is(err, light.ErrSlotOrder) {
		t.Fatalf("signature slot: err = %v, want %v", err, light.ErrSlotOrder)
	}
}

func TestProcessUpdate_Electra(t *testing.T) {
	b := lighttest.NewBuilder()
	base := uint64(lighttest.ElectraEpoch) * light.SlotsPerEpoch
	s := bootstrap(t, b, base+5)

	fin := b.Block(base+64, exec(2), nil)
	att := b.Block(base+128, exec(3), &fin.Header)
	u := b.Update(att, &fin.Header, false, base+129)
	if len(u.FinalityBranch) != 7 {
		t.Fatalf("finality branch depth = %d, want 7", len(u.FinalityBranch))
	}
	if err := s.ProcessUpdate(u); err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if got := s.Finalized().Beacon.Slot; got != base+64 {
		t.Fatalf("finalized slot = %d, want %d", got, base+64)
	}
}

func TestComputeDomain(t *testing.T) {
	gvr := [32]byte{1, 2, 3}
	d1 := light.ComputeDomain(light.DomainSyncCommittee, [4]byte{4}, gvr)
	d2 := light.ComputeDomain(light.DomainSyncCommittee, [4]byte{5}, gvr)
	if [4]byte(d1[:4]) != light.DomainSyncCommittee {
		t.Fatalf("domain type = %x, want %x", d1[:4], light.DomainSyncCommittee)
	}
	if d1 == d2 {
		t.Fatal("fork versions produced the same domain")
	}
}
