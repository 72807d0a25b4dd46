package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/eth2030/xproof/journal"
	"github.com/eth2030/xproof/zkvm"
)

// Remote session and snark job states.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimedOut  = "TIMED_OUT"
	StatusAborted   = "ABORTED"
)

// RemoteConfig configures a RemoteBackend.
type RemoteConfig struct {
	URL    string
	APIKey string
	// Version is sent as x-risc0-version.
	Version      string
	PollInterval time.Duration
	Client       *http.Client
}

// RemoteBackend drives a hosted proving service over its job API: upload
// the input, start a session, poll it, start a snark compression, poll it
// and download the receipts.
type RemoteBackend struct {
	cfg     RemoteConfig
	imageID common.Hash
}

// NewRemoteBackend returns a backend proving imageID on the service at
// cfg.URL. The image must already be registered with the service.
func NewRemoteBackend(cfg RemoteConfig, imageID common.Hash) *RemoteBackend {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &RemoteBackend{cfg: cfg, imageID: imageID}
}

func (b *RemoteBackend) Name() string { return "remote" }

type uploadResponse struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

type sessionRequest struct {
	Img         string   `json:"img"`
	Input       string   `json:"input"`
	Assumptions []string `json:"assumptions"`
	ExecuteOnly bool     `json:"execute_only"`
}

type createResponse struct {
	UUID string `json:"uuid"`
}

type sessionStatus struct {
	Status     string  `json:"status"`
	ReceiptURL string  `json:"receipt_url,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`
	State      string  `json:"state,omitempty"`
	Elapsed    float64 `json:"elapsed_time,omitempty"`
}

type snarkRequest struct {
	SessionID string `json:"session_id"`
}

type snarkStatus struct {
	Status   string `json:"status"`
	Output   string `json:"output,omitempty"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// RemoteReceipt is the receipt document the service serves for sessions
// and snark jobs. Session receipts carry no seal.
type RemoteReceipt struct {
	ImageID common.Hash   `json:"image_id"`
	Journal hexutil.Bytes `json:"journal"`
	Seal    hexutil.Bytes `json:"seal,omitempty"`
}

func (b *RemoteBackend) Prove(ctx context.Context, image []byte) (*Result, error) {
	return b.run(ctx, image, false)
}

func (b *RemoteBackend) Execute(ctx context.Context, image []byte) (*Result, error) {
	return b.run(ctx, image, true)
}

func (b *RemoteBackend) run(ctx context.Context, image []byte, executeOnly bool) (*Result, error) {
	start := time.Now()
	var up uploadResponse
	if err := b.call(ctx, http.MethodGet, b.cfg.URL+"/inputs/upload", nil, &up); err != nil {
		return nil, err
	}
	if err := b.put(ctx, up.URL, image); err != nil {
		return nil, err
	}
	var sess createResponse
	req := sessionRequest{Img: b.imageID.Hex(), Input: up.UUID, Assumptions: []string{}, ExecuteOnly: executeOnly}
	if err := b.call(ctx, http.MethodPost, b.cfg.URL+"/sessions/create", req, &sess); err != nil {
		return nil, err
	}

	var st sessionStatus
	err := b.poll(ctx, func() (string, string, error) {
		st = sessionStatus{}
		err := b.call(ctx, http.MethodGet, b.cfg.URL+"/sessions/status/"+sess.UUID, nil, &st)
		return st.Status, st.ErrorMsg, err
	})
	if err != nil {
		return nil, err
	}
	var rec RemoteReceipt
	if err := b.call(ctx, http.MethodGet, st.ReceiptURL, nil, &rec); err != nil {
		return nil, err
	}
	if rec.ImageID != b.imageID {
		return nil, proveErr(b.Name(), ErrExecutionTrapped, fmt.Errorf("receipt for image %s, want %s", rec.ImageID, b.imageID))
	}
	receipt, err := b.receipt(image, rec.Journal)
	if err != nil {
		return nil, err
	}
	res := &Result{Receipt: receipt, StarkTime: time.Since(start)}
	if executeOnly {
		return res, nil
	}

	start = time.Now()
	var snark createResponse
	if err := b.call(ctx, http.MethodPost, b.cfg.URL+"/snark/create", snarkRequest{SessionID: sess.UUID}, &snark); err != nil {
		return nil, err
	}
	var ss snarkStatus
	err = b.poll(ctx, func() (string, string, error) {
		ss = snarkStatus{}
		err := b.call(ctx, http.MethodGet, b.cfg.URL+"/snark/status/"+snark.UUID, nil, &ss)
		return ss.Status, ss.ErrorMsg, err
	})
	if err != nil {
		return nil, err
	}
	var sealed RemoteReceipt
	if err := b.call(ctx, http.MethodGet, ss.Output, nil, &sealed); err != nil {
		return nil, err
	}
	if !bytes.Equal(sealed.Journal, rec.Journal) {
		return nil, proveErr(b.Name(), ErrExecutionTrapped, errors.New("snark receipt journal differs from session journal"))
	}
	receipt.Seal = sealed.Seal
	res.SnarkTime = time.Since(start)
	return res, nil
}

// receipt rebuilds session stats from the journal the service returned.
func (b *RemoteBackend) receipt(image, j []byte) (*zkvm.Receipt, error) {
	c, err := journal.Decode(j)
	if err != nil {
		return nil, proveErr(b.Name(), ErrExecutionTrapped, err)
	}
	stats := zkvm.SessionStats{
		InputBytes:          len(image),
		JournalBytes:        len(j),
		Positions:           len(c.Positions),
		AnchorVerifications: make(map[uint64]int, len(c.Anchors)),
	}
	for _, a := range c.Anchors {
		stats.AnchorVerifications[a.ChainID]++
	}
	return &zkvm.Receipt{ImageID: b.imageID, Journal: j, Stats: stats}, nil
}

// poll calls status until the job leaves RUNNING.
func (b *RemoteBackend) poll(ctx context.Context, status func() (string, string, error)) error {
	t := time.NewTicker(b.cfg.PollInterval)
	defer t.Stop()
	for {
		s, msg, err := status()
		if err != nil {
			return err
		}
		switch s {
		case StatusSucceeded:
			return nil
		case StatusTimedOut:
			return proveErr(b.Name(), ErrProvingTimeout, fmt.Errorf("job timed out: %s", msg))
		case StatusFailed, StatusAborted:
			return proveErr(b.Name(), ErrExecutionTrapped, fmt.Errorf("job %s: %s", strings.ToLower(s), msg))
		case StatusRunning:
		default:
			return proveErr(b.Name(), ErrBackendUnavailable, fmt.Errorf("unknown job status %q", s))
		}
		select {
		case <-ctx.Done():
			return ctxErr(b.Name(), ctx.Err())
		case <-t.C:
		}
	}
}

func (b *RemoteBackend) call(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		enc, err := json.Marshal(body)
		if err != nil {
			return proveErr(b.Name(), ErrBackendUnavailable, err)
		}
		rd = bytes.NewReader(enc)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return proveErr(b.Name(), ErrBackendUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return proveErr(b.Name(), ErrBackendUnavailable, fmt.Errorf("%s %s: %w", method, url, err))
	}
	return nil
}

func (b *RemoteBackend) put(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return proveErr(b.Name(), ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := b.do(ctx, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do sends req with the service headers and maps transport failures and
// non-2xx answers onto backend errors.
func (b *RemoteBackend) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("x-api-key", b.cfg.APIKey)
	if b.cfg.Version != "" {
		req.Header.Set("x-risc0-version", b.cfg.Version)
	}
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(b.Name(), ctx.Err())
		}
		return nil, proveErr(b.Name(), ErrBackendUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, proveErr(b.Name(), ErrBackendUnavailable,
			fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(msg)))
	}
	return resp, nil
}
