package witness

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang/snappy"

	"github.com/eth2030/xproof/crypto"
)

// SequencerSource serves the latest signed block commitment of an
// OP-Stack chain, in the encoding rollup.DecodeCommitment reads.
type SequencerSource interface {
	LatestCommitment(ctx context.Context) ([]byte, error)
}

// SequencerClient polls a sequencer commitment endpoint. The endpoint
// answers with the gossiped payload, snappy-compressed, and its signature.
type SequencerClient struct {
	url    string
	client *http.Client
}

// NewSequencerClient returns a client for the endpoint at url.
func NewSequencerClient(url string, client *http.Client) *SequencerClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &SequencerClient{url: url, client: client}
}

// CommitmentJSON is the endpoint's response body.
type CommitmentJSON struct {
	Data      hexutil.Bytes `json:"data"`
	Signature hexutil.Bytes `json:"signature"`
}

func (c *SequencerClient) LatestCommitment(ctx context.Context) ([]byte, error) {
	var cj CommitmentJSON
	if err := getJSON(ctx, c.client, c.url, &cj); err != nil {
		return nil, err
	}
	return cj.Commitment()
}

// Commitment joins signature and payload into one snappy block.
func (cj *CommitmentJSON) Commitment() ([]byte, error) {
	if len(cj.Signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes", ErrMalformedResponse, len(cj.Signature))
	}
	data, err := snappy.Decode(nil, cj.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: commitment data: %v", ErrMalformedResponse, err)
	}
	msg := make([]byte, 0, len(cj.Signature)+len(data))
	msg = append(append(msg, cj.Signature...), data...)
	return snappy.Encode(nil, msg), nil
}
