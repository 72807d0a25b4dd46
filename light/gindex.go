package light

import (
	"errors"

	"github.com/eth2030/xproof/chain"
)

var ErrUnsupportedFork = errors.New("light: slot is before the first supported fork")

// stateLayout holds the BeaconState generalized indices the light client
// proves against. Electra grew BeaconState past 32 fields, adding a tree
// level.
type stateLayout struct {
	currentSyncCommittee uint64
	nextSyncCommittee    uint64
	finalizedRoot        uint64
}

var (
	denebLayout   = stateLayout{currentSyncCommittee: 54, nextSyncCommittee: 55, finalizedRoot: 105}
	electraLayout = stateLayout{currentSyncCommittee: 86, nextSyncCommittee: 87, finalizedRoot: 169}
)

// StateDepth returns the depth of the BeaconState field tree for fork.
func StateDepth(fork string) int {
	if fork == "deneb" {
		return 5
	}
	return 6
}

// layoutAt returns the state layout of the fork active at slot.
func layoutAt(params *chain.BeaconParams, slot uint64) (stateLayout, error) {
	fork, ok := params.ForkAt(Epoch(slot))
	if !ok {
		return stateLayout{}, ErrUnsupportedFork
	}
	if fork.Name == "deneb" {
		return denebLayout, nil
	}
	return electraLayout, nil
}
