package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/guest"
	"github.com/eth2030/xproof/journal"
	"github.com/eth2030/xproof/metrics"
	"github.com/eth2030/xproof/prover"
)

// requestFile is the JSON request read by prove and exec, in the
// grouped shape of the proving API.
type requestFile struct {
	L1Inclusion bool        `json:"l1Inclusion"`
	Groups      []groupFile `json:"groups"`
}

type groupFile struct {
	ChainID uint64           `json:"chainId"`
	Users   []common.Address `json:"users"`
	Markets []common.Address `json:"markets"`
	Targets []uint64         `json:"targets"`
}

func readRequest(path string, submitter batch.Submitter) (*batch.Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf requestFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	var (
		users, markets [][]common.Address
		targets        [][]uint64
		ids            []uint64
	)
	for _, g := range rf.Groups {
		users = append(users, g.Users)
		markets = append(markets, g.Markets)
		targets = append(targets, g.Targets)
		ids = append(ids, g.ChainID)
	}
	return batch.FromGrouped(users, markets, targets, ids, rf.L1Inclusion, submitter)
}

type bundleJSON struct {
	RunID               string         `json:"runId"`
	Backend             string         `json:"backend"`
	ImageID             common.Hash    `json:"imageId"`
	Journal             hexutil.Bytes  `json:"journal"`
	Seal                hexutil.Bytes  `json:"seal,omitempty"`
	Positions           int            `json:"positions"`
	AnchorVerifications map[uint64]int `json:"anchorVerifications"`
	StarkTime           string         `json:"starkTime,omitempty"`
	SnarkTime           string         `json:"snarkTime,omitempty"`
}

func duration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func newProveCmd(a *app, prove bool) *cobra.Command {
	var reqPath, outPath string
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Collect witnesses for a request and prove them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			submitter, err := batch.ParseSubmitter(a.cfg.Submitter)
			if err != nil {
				return err
			}
			req, err := readRequest(reqPath, submitter)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if a.cfg.MetricsAddr != "" {
				exp := metrics.NewExporter("xproof", metrics.DefaultRegistry)
				go func() {
					if err := exp.Serve(ctx, a.cfg.MetricsAddr); err != nil {
						a.log.Warn("metrics server stopped", "addr", a.cfg.MetricsAddr, "err", err)
					}
				}()
			}
			d, closeSources, err := a.driver(ctx)
			if err != nil {
				return err
			}
			defer closeSources()

			do := d.Prove
			if !prove {
				do = d.Execute
			}
			b, err := do(ctx, req)
			if err != nil {
				return err
			}
			return a.writeBundle(outPath, b)
		},
	}
	if !prove {
		cmd.Use = "exec"
		cmd.Short = "Run a request through the guest without proving"
	}
	cmd.Flags().StringVar(&reqPath, "request", "", "Path to the JSON request")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the bundle here instead of stdout")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func (a *app) writeBundle(path string, b *prover.ProofBundle) error {
	out := bundleJSON{
		RunID:               b.RunID,
		Backend:             b.Backend,
		ImageID:             b.ImageID,
		Journal:             b.Journal,
		Seal:                b.Seal,
		Positions:           b.Stats.Positions,
		AnchorVerifications: b.Stats.AnchorVerifications,
		StarkTime:           duration(b.StarkTime),
		SnarkTime:           duration(b.SnarkTime),
	}
	if path == "" {
		return writeJSON(a.stdout, out)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type anchorJSON struct {
	ChainID     uint64      `json:"chainId"`
	Family      string      `json:"family"`
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	StateRoot   common.Hash `json:"stateRoot"`
	TrustRoot   common.Hash `json:"trustRoot"`
}

type positionJSON struct {
	User          common.Address `json:"user"`
	Market        common.Address `json:"market"`
	AmountIn      string         `json:"amountIn"`
	AmountOut     string         `json:"amountOut"`
	ChainID       uint64         `json:"chainId"`
	TargetChainID uint64         `json:"targetChainId"`
	L1Inclusion   bool           `json:"l1Inclusion"`
}

type commitmentJSON struct {
	Version     uint8          `json:"version"`
	L1Inclusion bool           `json:"l1Inclusion"`
	Anchors     []anchorJSON   `json:"anchors"`
	Positions   []positionJSON `json:"positions"`
}

func commitmentToJSON(c *journal.Commitment) commitmentJSON {
	out := commitmentJSON{
		Version:     c.Version,
		L1Inclusion: c.L1Inclusion,
		Anchors:     make([]anchorJSON, len(c.Anchors)),
		Positions:   make([]positionJSON, len(c.Positions)),
	}
	for i, an := range c.Anchors {
		out.Anchors[i] = anchorJSON{
			ChainID:     an.ChainID,
			Family:      chain.Family(an.Family).String(),
			BlockNumber: an.BlockNumber,
			BlockHash:   an.BlockHash,
			StateRoot:   an.StateRoot,
			TrustRoot:   an.TrustRoot,
		}
	}
	for i := range c.Positions {
		p := &c.Positions[i]
		out.Positions[i] = positionJSON{
			User:          p.User,
			Market:        p.Market,
			AmountIn:      p.AmountIn.Dec(),
			AmountOut:     p.AmountOut.Dec(),
			ChainID:       p.ChainID,
			TargetChainID: p.TargetChainID,
			L1Inclusion:   p.L1Inclusion,
		}
	}
	return out
}

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "journal",
		Short:       "Inspect journals",
		Annotations: map[string]string{skipConfig: "true"},
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "decode <hex | ->",
		Short:       "Print an encoded journal as JSON; - reads hex from stdin",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(raw)
			}
			b, err := hexutil.Decode(strings.TrimSpace(text))
			if err != nil {
				return fmt.Errorf("journal hex: %w", err)
			}
			c, err := journal.Decode(b)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, commitmentToJSON(c))
		},
	})
	return cmd
}

func newImageIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "image-id",
		Short:       "Print the guest program image id",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(*cobra.Command, []string) error {
			id, err := guest.New(chain.DefaultRegistry()).ImageID()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, id.Hex())
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version and exit",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "xproof %s (commit %s)\n", version, commit)
		},
	}
}
