package witness

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang/snappy"

	"github.com/eth2030/xproof/anchor"
	"github.com/eth2030/xproof/crypto"
	"github.com/eth2030/xproof/light"
	"github.com/eth2030/xproof/trie"
	"github.com/eth2030/xproof/trie/trietest"
)

// fakeGame is a dispute game listed by the fake factory.
type fakeGame struct {
	gameType uint32
	created  uint64
	proxy    common.Address
	l2Block  uint64
}

// fakeChain is an execution node over fixture headers and state, served
// in process through the go-ethereum RPC server.
type fakeChain struct {
	mu      sync.Mutex
	headers map[uint64]*types.Header
	latest  uint64
	state   *trietest.State
	factory common.Address
	games   []fakeGame
	proofs  int
}

func newFakeChain(t *testing.T, w *anchor.ChainWitness, st *trietest.State) *fakeChain {
	t.Helper()
	c := &fakeChain{headers: make(map[uint64]*types.Header), state: st}
	for _, raw := range append([][]byte{w.Header}, w.Links...) {
		h := new(types.Header)
		if err := rlp.DecodeBytes(raw, h); err != nil {
			t.Fatalf("decode header: %v", err)
		}
		c.headers[h.Number.Uint64()] = h
		c.latest = max(c.latest, h.Number.Uint64())
	}
	return c
}

func (c *fakeChain) client(t *testing.T) *Client {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &fakeEth{c}); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
	rc := rpc.DialInProc(srv)
	t.Cleanup(func() {
		rc.Close()
		srv.Stop()
	})
	return NewClient(rc)
}

type fakeEth struct{ c *fakeChain }

func (e *fakeEth) GetBlockByNumber(n rpc.BlockNumber, _ bool) (*types.Header, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	num := e.c.latest
	if n >= 0 {
		num = uint64(n.Int64())
	}
	return e.c.headers[num], nil
}

func (e *fakeEth) GetStorageAt(addr common.Address, key common.Hash, _ rpc.BlockNumber) (hexutil.Bytes, error) {
	var v [32]byte
	if p := e.c.state.Prove(addr, key); len(p.Storage) == 1 {
		v = p.Storage[0].Value.Bytes32()
	}
	return v[:], nil
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (e *fakeEth) Call(args callArgs, _ rpc.BlockNumber) (hexutil.Bytes, error) {
	data := args.Input
	if len(data) == 0 {
		data = args.Data
	}
	if args.To == nil || len(data) < 4 {
		return nil, errors.New("bad call")
	}
	m, err := GamesABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	switch m.Name {
	case "gameCount":
		if *args.To != e.c.factory {
			return nil, errors.New("execution reverted")
		}
		return m.Outputs.Pack(big.NewInt(int64(len(e.c.games))))
	case "gameAtIndex":
		in, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		g := e.c.games[in[0].(*big.Int).Int64()]
		return m.Outputs.Pack(g.gameType, g.created, g.proxy)
	case "l2BlockNumber":
		for _, g := range e.c.games {
			if g.proxy == *args.To {
				return m.Outputs.Pack(new(big.Int).SetUint64(g.l2Block))
			}
		}
	}
	return nil, errors.New("execution reverted")
}

type storageProofJSON struct {
	Key   string       `json:"key"`
	Value *hexutil.Big `json:"value"`
	Proof []string     `json:"proof"`
}

type accountProofJSON struct {
	Address      common.Address     `json:"address"`
	AccountProof []string           `json:"accountProof"`
	Balance      *hexutil.Big       `json:"balance"`
	CodeHash     common.Hash        `json:"codeHash"`
	Nonce        hexutil.Uint64     `json:"nonce"`
	StorageHash  common.Hash        `json:"storageHash"`
	StorageProof []storageProofJSON `json:"storageProof"`
}

func encodeNodes(nodes [][]byte) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = hexutil.Encode(n)
	}
	return out
}

func (e *fakeEth) GetProof(addr common.Address, keys []string, _ rpc.BlockNumber) (*accountProofJSON, error) {
	e.c.mu.Lock()
	e.c.proofs++
	e.c.mu.Unlock()
	slots := make([]common.Hash, len(keys))
	for i, k := range keys {
		slots[i] = common.HexToHash(k)
	}
	p := e.c.state.Prove(addr, slots...)
	return proofJSON(p), nil
}

func proofJSON(p *trie.AccountProof) *accountProofJSON {
	out := &accountProofJSON{
		Address:      p.Address,
		AccountProof: encodeNodes(p.Proof),
		Balance:      (*hexutil.Big)(p.Balance.ToBig()),
		CodeHash:     p.CodeHash,
		Nonce:        hexutil.Uint64(p.Nonce),
		StorageHash:  p.StorageHash,
		StorageProof: []storageProofJSON{},
	}
	for _, sp := range p.Storage {
		out.StorageProof = append(out.StorageProof, storageProofJSON{
			Key:   sp.Key.Hex(),
			Value: (*hexutil.Big)(sp.Value.ToBig()),
			Proof: encodeNodes(sp.Proof),
		})
	}
	return out
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// newFakeBeacon serves the light client path of a beacon witness: the
// last update as the finality update, the rest by period range.
func newFakeBeacon(t *testing.T, bw *anchor.BeaconWitness) *httptest.Server {
	t.Helper()
	last := len(bw.Updates) - 1
	mux := http.NewServeMux()
	mux.HandleFunc("GET /eth/v1/beacon/light_client/bootstrap/{root}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("root") != bw.CheckpointRoot.Hex() {
			http.Error(w, "unknown block root", http.StatusNotFound)
			return
		}
		reply(w, envelope[bootstrapJSON]{Version: "deneb", Data: bootstrapToJSON(&bw.Bootstrap)})
	})
	mux.HandleFunc("GET /eth/v1/beacon/light_client/finality_update", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, envelope[updateJSON]{Version: "deneb", Data: updateToJSON(&bw.Updates[last])})
	})
	mux.HandleFunc("GET /eth/v1/beacon/light_client/updates", func(w http.ResponseWriter, _ *http.Request) {
		out := []envelope[updateJSON]{}
		for i := range bw.Updates[:last] {
			out = append(out, envelope[updateJSON]{Version: "deneb", Data: updateToJSON(&bw.Updates[i])})
		}
		reply(w, out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newFakeSequencer serves raw as the sequencer's latest commitment.
func newFakeSequencer(t *testing.T, raw []byte) *httptest.Server {
	t.Helper()
	msg, err := snappy.Decode(nil, raw)
	if err != nil {
		t.Fatalf("snappy: %v", err)
	}
	body := CommitmentJSON{
		Data:      snappy.Encode(nil, msg[crypto.SignatureLength:]),
		Signature: msg[:crypto.SignatureLength],
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reply(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hashes(b [][32]byte) []common.Hash {
	out := make([]common.Hash, len(b))
	for i := range b {
		out[i] = b[i]
	}
	return out
}

func headerToJSON(h *light.LightClientHeader) lightHeaderJSON {
	e := &h.Execution
	fee := "0"
	if e.BaseFeePerGas != nil {
		fee = e.BaseFeePerGas.Dec()
	}
	return lightHeaderJSON{
		Beacon: beaconHeaderJSON{
			Slot:          h.Beacon.Slot,
			ProposerIndex: h.Beacon.ProposerIndex,
			ParentRoot:    h.Beacon.ParentRoot,
			StateRoot:     h.Beacon.StateRoot,
			BodyRoot:      h.Beacon.BodyRoot,
		},
		Execution: executionJSON{
			ParentHash:       e.ParentHash,
			FeeRecipient:     e.FeeRecipient,
			StateRoot:        e.StateRoot,
			ReceiptsRoot:     e.ReceiptsRoot,
			LogsBloom:        e.LogsBloom[:],
			PrevRandao:       e.PrevRandao,
			BlockNumber:      e.BlockNumber,
			GasLimit:         e.GasLimit,
			GasUsed:          e.GasUsed,
			Timestamp:        e.Timestamp,
			ExtraData:        e.ExtraData,
			BaseFeePerGas:    fee,
			BlockHash:        e.BlockHash,
			TransactionsRoot: e.TransactionsRoot,
			WithdrawalsRoot:  e.WithdrawalsRoot,
			BlobGasUsed:      e.BlobGasUsed,
			ExcessBlobGas:    e.ExcessBlobGas,
		},
		ExecutionBranch: hashes(h.ExecutionBranch),
	}
}

func committeeToJSON(sc *light.SyncCommittee) *syncCommitteeJSON {
	out := &syncCommitteeJSON{
		Pubkeys:         make([]hexutil.Bytes, len(sc.Pubkeys)),
		AggregatePubkey: sc.AggregatePubkey[:],
	}
	for i := range sc.Pubkeys {
		out.Pubkeys[i] = sc.Pubkeys[i][:]
	}
	return out
}

func bootstrapToJSON(b *light.Bootstrap) bootstrapJSON {
	return bootstrapJSON{
		Header:                     headerToJSON(&b.Header),
		CurrentSyncCommittee:       *committeeToJSON(&b.CurrentSyncCommittee),
		CurrentSyncCommitteeBranch: hashes(b.CurrentSyncCommitteeBranch),
	}
}

func updateToJSON(u *light.Update) updateJSON {
	out := updateJSON{
		AttestedHeader:          headerToJSON(&u.AttestedHeader),
		NextSyncCommitteeBranch: hashes(u.NextSyncCommitteeBranch),
		FinalityBranch:          hashes(u.FinalityBranch),
		SyncAggregate: syncAggregateJSON{
			Bits:      u.SyncAggregate.Bits,
			Signature: u.SyncAggregate.Signature[:],
		},
		SignatureSlot: u.SignatureSlot,
	}
	if u.NextSyncCommittee != nil {
		out.NextSyncCommittee = committeeToJSON(u.NextSyncCommittee)
	}
	if u.FinalizedHeader != nil {
		fin := headerToJSON(u.FinalizedHeader)
		out.FinalizedHeader = &fin
	}
	return out
}
