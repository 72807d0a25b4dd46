package witness

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/eth2030/xproof/light"
)

// BeaconSource serves light client data for one beacon chain.
type BeaconSource interface {
	Bootstrap(ctx context.Context, root common.Hash) (*light.Bootstrap, error)
	// Updates returns the best update of each period in
	// [start, start+count).
	Updates(ctx context.Context, start, count uint64) ([]light.Update, error)
	FinalityUpdate(ctx context.Context) (*light.Update, error)
}

// BeaconClient reads the light client endpoints of the beacon node REST
// API.
type BeaconClient struct {
	url    string
	client *http.Client
}

// NewBeaconClient returns a client for the beacon node at url. A nil
// client uses http.DefaultClient.
func NewBeaconClient(url string, client *http.Client) *BeaconClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &BeaconClient{url: strings.TrimRight(url, "/"), client: client}
}

func (c *BeaconClient) Bootstrap(ctx context.Context, root common.Hash) (*light.Bootstrap, error) {
	var env envelope[bootstrapJSON]
	if err := getJSON(ctx, c.client, c.url+"/eth/v1/beacon/light_client/bootstrap/"+root.Hex(), &env); err != nil {
		return nil, err
	}
	return env.Data.light()
}

func (c *BeaconClient) Updates(ctx context.Context, start, count uint64) ([]light.Update, error) {
	var envs []envelope[updateJSON]
	url := fmt.Sprintf("%s/eth/v1/beacon/light_client/updates?start_period=%d&count=%d", c.url, start, count)
	if err := getJSON(ctx, c.client, url, &envs); err != nil {
		return nil, err
	}
	out := make([]light.Update, len(envs))
	for i := range envs {
		u, err := envs[i].Data.light()
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		out[i] = *u
	}
	return out, nil
}

func (c *BeaconClient) FinalityUpdate(ctx context.Context) (*light.Update, error) {
	var env envelope[updateJSON]
	if err := getJSON(ctx, c.client, c.url+"/eth/v1/beacon/light_client/finality_update", &env); err != nil {
		return nil, err
	}
	u, err := env.Data.light()
	if err != nil {
		return nil, err
	}
	if u.FinalizedHeader == nil {
		return nil, fmt.Errorf("%w: finality update without finalized header", ErrMalformedResponse)
	}
	return u, nil
}

// JSON shapes of the beacon API. Integers are decimal strings, byte
// strings 0x-prefixed hex.

type envelope[T any] struct {
	Version string `json:"version"`
	Data    T      `json:"data"`
}

type beaconHeaderJSON struct {
	Slot          uint64      `json:"slot,string"`
	ProposerIndex uint64      `json:"proposer_index,string"`
	ParentRoot    common.Hash `json:"parent_root"`
	StateRoot     common.Hash `json:"state_root"`
	BodyRoot      common.Hash `json:"body_root"`
}

type executionJSON struct {
	ParentHash       common.Hash    `json:"parent_hash"`
	FeeRecipient     common.Address `json:"fee_recipient"`
	StateRoot        common.Hash    `json:"state_root"`
	ReceiptsRoot     common.Hash    `json:"receipts_root"`
	LogsBloom        hexutil.Bytes  `json:"logs_bloom"`
	PrevRandao       common.Hash    `json:"prev_randao"`
	BlockNumber      uint64         `json:"block_number,string"`
	GasLimit         uint64         `json:"gas_limit,string"`
	GasUsed          uint64         `json:"gas_used,string"`
	Timestamp        uint64         `json:"timestamp,string"`
	ExtraData        hexutil.Bytes  `json:"extra_data"`
	BaseFeePerGas    string         `json:"base_fee_per_gas"`
	BlockHash        common.Hash    `json:"block_hash"`
	TransactionsRoot common.Hash    `json:"transactions_root"`
	WithdrawalsRoot  common.Hash    `json:"withdrawals_root"`
	BlobGasUsed      uint64         `json:"blob_gas_used,string"`
	ExcessBlobGas    uint64         `json:"excess_blob_gas,string"`
}

type lightHeaderJSON struct {
	Beacon          beaconHeaderJSON `json:"beacon"`
	Execution       executionJSON    `json:"execution"`
	ExecutionBranch []common.Hash    `json:"execution_branch"`
}

type syncCommitteeJSON struct {
	Pubkeys         []hexutil.Bytes `json:"pubkeys"`
	AggregatePubkey hexutil.Bytes   `json:"aggregate_pubkey"`
}

type syncAggregateJSON struct {
	Bits      hexutil.Bytes `json:"sync_committee_bits"`
	Signature hexutil.Bytes `json:"sync_committee_signature"`
}

type bootstrapJSON struct {
	Header                     lightHeaderJSON   `json:"header"`
	CurrentSyncCommittee       syncCommitteeJSON `json:"current_sync_committee"`
	CurrentSyncCommitteeBranch []common.Hash     `json:"current_sync_committee_branch"`
}

type updateJSON struct {
	AttestedHeader          lightHeaderJSON    `json:"attested_header"`
	NextSyncCommittee       *syncCommitteeJSON `json:"next_sync_committee,omitempty"`
	NextSyncCommitteeBranch []common.Hash      `json:"next_sync_committee_branch,omitempty"`
	FinalizedHeader         *lightHeaderJSON   `json:"finalized_header,omitempty"`
	FinalityBranch          []common.Hash      `json:"finality_branch,omitempty"`
	SyncAggregate           syncAggregateJSON  `json:"sync_aggregate"`
	SignatureSlot           uint64             `json:"signature_slot,string"`
}

func branch(hs []common.Hash) [][32]byte {
	if len(hs) == 0 {
		return nil
	}
	out := make([][32]byte, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func fixed(dst []byte, src hexutil.Bytes, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformedResponse, what, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

func (e *executionJSON) light() (light.ExecutionPayloadHeader, error) {
	h := light.ExecutionPayloadHeader{
		ParentHash:       e.ParentHash,
		FeeRecipient:     e.FeeRecipient,
		StateRoot:        e.StateRoot,
		ReceiptsRoot:     e.ReceiptsRoot,
		PrevRandao:       e.PrevRandao,
		BlockNumber:      e.BlockNumber,
		GasLimit:         e.GasLimit,
		GasUsed:          e.GasUsed,
		Timestamp:        e.Timestamp,
		ExtraData:        e.ExtraData,
		BlockHash:        e.BlockHash,
		TransactionsRoot: e.TransactionsRoot,
		WithdrawalsRoot:  e.WithdrawalsRoot,
		BlobGasUsed:      e.BlobGasUsed,
		ExcessBlobGas:    e.ExcessBlobGas,
	}
	if err := fixed(h.LogsBloom[:], e.LogsBloom, "logs bloom"); err != nil {
		return h, err
	}
	fee, err := uint256.FromDecimal(e.BaseFeePerGas)
	if err != nil {
		return h, fmt.Errorf("%w: base fee %q: %v", ErrMalformedResponse, e.BaseFeePerGas, err)
	}
	h.BaseFeePerGas = fee
	return h, nil
}

func (h *lightHeaderJSON) light() (light.LightClientHeader, error) {
	exec, err := h.Execution.light()
	if err != nil {
		return light.LightClientHeader{}, err
	}
	return light.LightClientHeader{
		Beacon: light.BeaconBlockHeader{
			Slot:          h.Beacon.Slot,
			ProposerIndex: h.Beacon.ProposerIndex,
			ParentRoot:    h.Beacon.ParentRoot,
			StateRoot:     h.Beacon.StateRoot,
			BodyRoot:      h.Beacon.BodyRoot,
		},
		Execution:       exec,
		ExecutionBranch: branch(h.ExecutionBranch),
	}, nil
}

func (c *syncCommitteeJSON) light() (*light.SyncCommittee, error) {
	sc := &light.SyncCommittee{Pubkeys: make([][48]byte, len(c.Pubkeys))}
	for i, pk := range c.Pubkeys {
		if err := fixed(sc.Pubkeys[i][:], pk, "pubkey"); err != nil {
			return nil, err
		}
	}
	if err := fixed(sc.AggregatePubkey[:], c.AggregatePubkey, "aggregate pubkey"); err != nil {
		return nil, err
	}
	return sc, nil
}

func (b *bootstrapJSON) light() (*light.Bootstrap, error) {
	h, err := b.Header.light()
	if err != nil {
		return nil, err
	}
	sc, err := b.CurrentSyncCommittee.light()
	if err != nil {
		return nil, err
	}
	return &light.Bootstrap{
		Header:                     h,
		CurrentSyncCommittee:       *sc,
		CurrentSyncCommitteeBranch: branch(b.CurrentSyncCommitteeBranch),
	}, nil
}

func (u *updateJSON) light() (*light.Update, error) {
	att, err := u.AttestedHeader.light()
	if err != nil {
		return nil, err
	}
	out := &light.Update{
		AttestedHeader:          att,
		NextSyncCommitteeBranch: branch(u.NextSyncCommitteeBranch),
		FinalityBranch:          branch(u.FinalityBranch),
		SyncAggregate:           light.SyncAggregate{Bits: u.SyncAggregate.Bits},
		SignatureSlot:           u.SignatureSlot,
	}
	if err := fixed(out.SyncAggregate.Signature[:], u.SyncAggregate.Signature, "sync signature"); err != nil {
		return nil, err
	}
	if u.NextSyncCommittee != nil {
		if out.NextSyncCommittee, err = u.NextSyncCommittee.light(); err != nil {
			return nil, err
		}
	}
	if u.FinalizedHeader != nil {
		fin, err := u.FinalizedHeader.light()
		if err != nil {
			return nil, err
		}
		out.FinalizedHeader = &fin
	}
	return out, nil
}
