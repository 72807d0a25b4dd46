// Package zkvm is the boundary of the proving environment. It executes the
// guest program over an encoded input image and produces receipts whose
// seals bind the journal to the program image.
package zkvm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/journal"
)

// ErrGuestTrapped is returned when the guest program fails on its input.
var ErrGuestTrapped = errors.New("zkvm: guest trapped")

// SessionStats describe one guest execution.
type SessionStats struct {
	InputBytes          int
	JournalBytes        int
	Entries             int
	Positions           int
	AnchorVerifications map[uint64]int
}

// Receipt is the result of a session. Seal is empty for execute-only
// sessions.
type Receipt struct {
	ImageID common.Hash
	Journal []byte
	Seal    []byte
	Stats   SessionStats
}

// Execute runs prog over image without proving.
func Execute(prog *guest.Program, image []byte) (*Receipt, error) {
	id, err := prog.ImageID()
	if err != nil {
		return nil, err
	}
	in, err := guest.DecodeInput(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGuestTrapped, err)
	}
	c, stats, err := prog.Run(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGuestTrapped, err)
	}
	j, err := journal.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGuestTrapped, err)
	}
	return &Receipt{
		ImageID: id,
		Journal: j,
		Stats: SessionStats{
			InputBytes:          len(image),
			JournalBytes:        len(j),
			Entries:             stats.Entries,
			Positions:           stats.Positions,
			AnchorVerifications: stats.AnchorVerifications,
		},
	}, nil
}

// Prove runs prog over image and seals the journal with the development
// seal.
func Prove(prog *guest.Program, image []byte) (*Receipt, error) {
	r, err := Execute(prog, image)
	if err != nil {
		return nil, err
	}
	r.Seal = DevSeal(r.ImageID, r.Journal)
	return r, nil
}

// Attestation returns the selector-prefixed seal submitted on chain.
func (r *Receipt) Attestation() []byte {
	return journal.EncodeSeal(journal.DevSelector, r.Seal)
}
