// Package rollup decodes and checks the commitments rollup sequencers
// publish and the L1 contract state that settles them: OP-Stack block
// gossip commitments, output roots and dispute games, and Linea signed
// block headers.
package rollup

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/snappy"

	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/ssz"
)

var (
	ErrCommitmentEncoding = errors.New("rollup: commitment is not valid snappy")
	ErrCommitmentShort    = errors.New("rollup: commitment too short")
	ErrPayloadShort       = errors.New("rollup: execution payload shorter than its fixed part")
	ErrPayloadOffset      = errors.New("rollup: execution payload offsets out of range")
)

// Offsets into the SSZ ExecutionPayload fixed part.
const (
	payloadStateRoot   = 52
	payloadBlockNumber = 404
	payloadTimestamp   = 428
	payloadExtraOffset = 436
	payloadBlockHash   = 472
	payloadTxOffset    = 504
	// payloadFixedMin is the Bellatrix fixed size; later versions append
	// fields after the transactions offset.
	payloadFixedMin = 508
)

// Commitment is a signed OP-Stack block gossip message. The signed data
// is the parent beacon block root followed by the SSZ execution payload.
type Commitment struct {
	Signature [crypto.SignatureLength]byte
	Data      []byte

	ParentBeaconRoot common.Hash
	StateRoot        common.Hash
	BlockNumber      uint64
	Timestamp        uint64
	BlockHash        common.Hash
}

// DecodeCommitment decodes a snappy-compressed commitment and extracts the
// payload fields the verifier needs.
func DecodeCommitment(raw []byte) (*Commitment, error) {
	msg, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommitmentEncoding, err)
	}
	if len(msg) < crypto.SignatureLength+32 {
		return nil, ErrCommitmentShort
	}
	c := &Commitment{Data: msg[crypto.SignatureLength:]}
	copy(c.Signature[:], msg[:crypto.SignatureLength])
	copy(c.ParentBeaconRoot[:], c.Data[:32])

	payload := c.Data[32:]
	if len(payload) < payloadFixedMin {
		return nil, ErrPayloadShort
	}
	extra, err := ssz.ReadOffset(payload, payloadExtraOffset, payloadFixedMin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadOffset, err)
	}
	txs, err := ssz.ReadOffset(payload, payloadTxOffset, payloadFixedMin)
	if err != nil || txs < extra {
		return nil, fmt.Errorf("%w: transactions", ErrPayloadOffset)
	}
	copy(c.StateRoot[:], payload[payloadStateRoot:payloadStateRoot+32])
	c.BlockNumber = binary.LittleEndian.Uint64(payload[payloadBlockNumber:])
	c.Timestamp = binary.LittleEndian.Uint64(payload[payloadTimestamp:])
	copy(c.BlockHash[:], payload[payloadBlockHash:payloadBlockHash+32])
	return c, nil
}

// CommitmentSigningHash is the digest an OP-Stack sequencer signs for a
// block gossip message on chainID.
func CommitmentSigningHash(chainID uint64, data []byte) common.Hash {
	var domain [32]byte
	var chain [32]byte
	binary.BigEndian.PutUint64(chain[24:], chainID)
	return crypto.Keccak256Hash(domain[:], chain[:], crypto.Keccak256(data))
}

// Signer recovers the address that signed the commitment.
func (c *Commitment) Signer(chainID uint64) (common.Address, error) {
	h := CommitmentSigningHash(chainID, c.Data)
	return crypto.RecoverAddress(h[:], c.Signature[:])
}

// Payload holds the execution payload fields a commitment exposes.
type Payload struct {
	ParentBeaconRoot common.Hash
	StateRoot        common.Hash
	BlockNumber      uint64
	Timestamp        uint64
	BlockHash        common.Hash
	ExtraData        []byte
}

// EncodeCommitment builds and signs a commitment for p. Fields the
// verifier does not read are left zero; the payload carries no
// transactions.
func EncodeCommitment(chainID uint64, p *Payload, key *ecdsa.PrivateKey) ([]byte, error) {
	payload := make([]byte, payloadFixedMin, payloadFixedMin+len(p.ExtraData))
	copy(payload[payloadStateRoot:], p.StateRoot[:])
	binary.LittleEndian.PutUint64(payload[payloadBlockNumber:], p.BlockNumber)
	binary.LittleEndian.PutUint64(payload[payloadTimestamp:], p.Timestamp)
	binary.LittleEndian.PutUint32(payload[payloadExtraOffset:], payloadFixedMin)
	copy(payload[payloadBlockHash:], p.BlockHash[:])
	binary.LittleEndian.PutUint32(payload[payloadTxOffset:], uint32(payloadFixedMin+len(p.ExtraData)))
	payload = append(payload, p.ExtraData...)

	data := append(append([]byte(nil), p.ParentBeaconRoot[:]...), payload...)
	h := CommitmentSigningHash(chainID, data)
	sig, err := crypto.SignHash(h[:], key)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, append(sig, data...)), nil
}
