package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	log "github.com/sirupsen/logrus"
)

const (
	defaultClaimTimeout = 2 * time.Minute
	// processWaitDelay bounds how long a killed claim process may keep its
	// output pipes open through children it left behind.
	processWaitDelay = time.Second
)

// ClaimRequest carries everything needed to sweep a paid swap's lockup
// output to the destination address.
type ClaimRequest struct {
	SwapId             string         `json:"swapId"`
	PrivateKey         string         `json:"privateKey"`
	Preimage           string         `json:"preimage"`
	SwapTree           string         `json:"swapTree"`
	LockupAddress      string         `json:"lockupAddress"`
	RefundPublicKey    string         `json:"refundPublicKey"`
	DestinationAddress string         `json:"destinationAddress"`
	BlindingKey        string         `json:"blindingKey"`
	Currency           boltz.Currency `json:"currency"`
	LockupTransaction  string         `json:"lockupTransaction,omitempty"`
}

// Claimer builds a signed claim transaction and returns it hex encoded.
type Claimer interface {
	Claim(ctx context.Context, req ClaimRequest) (string, error)
}

// ProcessClaimer runs an external executable per claim. The transaction is
// read from its stdout, diagnostics from its stderr.
type ProcessClaimer struct {
	Path string
	// Args are placed before the claim subcommand.
	Args []string
	// Env is appended to the current environment.
	Env []string
}

func (p *ProcessClaimer) Claim(ctx context.Context, req ClaimRequest) (string, error) {
	args := append([]string{}, p.Args...)
	args = append(args,
		"claim",
		"--swap-id="+req.SwapId,
		"--private-key="+req.PrivateKey,
		"--preimage="+req.Preimage,
		"--swap-tree="+req.SwapTree,
		"--lockup-address="+req.LockupAddress,
		"--refund-public-key="+req.RefundPublicKey,
		"--destination-address="+req.DestinationAddress,
		"--blinding-key="+req.BlindingKey,
		"--currency="+string(req.Currency),
	)
	if req.LockupTransaction != "" {
		args = append(args, "--lockup-transaction="+req.LockupTransaction)
	}

	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.WaitDelay = processWaitDelay
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("claim process interrupted: %w", ctxErr)
		}
		return "", fmt.Errorf("claim process failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseTransaction(stdout.String())
}

// DaemonClaimer asks a long running claim service over HTTP.
type DaemonClaimer struct {
	URL    string
	Client *http.Client
}

type claimResponse struct {
	Transaction string `json:"transaction"`
	Error       string `json:"error"`
}

func (d *DaemonClaimer) Claim(ctx context.Context, req ClaimRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(d.URL, "/") + "/claim"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claim daemon unreachable: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read claim daemon response: %w", err)
	}

	var resp claimResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("invalid claim daemon response (HTTP %d): %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || resp.Error != "" {
		return "", fmt.Errorf("claim daemon error (HTTP %d): %s", res.StatusCode, resp.Error)
	}

	return parseTransaction(resp.Transaction)
}

func parseTransaction(out string) (string, error) {
	tx := strings.TrimSpace(out)
	if tx == "" {
		return "", errors.New("claimer returned no transaction")
	}
	if _, err := hex.DecodeString(tx); err != nil {
		return "", fmt.Errorf("claimer returned invalid transaction hex: %w", err)
	}
	return tx, nil
}

type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, currency boltz.Currency, txHex string) (string, error)
}

// ClaimInvoker turns a paid swap into a broadcast claim transaction.
type ClaimInvoker struct {
	claimer     Claimer
	broadcaster Broadcaster
	timeout     time.Duration
}

func NewClaimInvoker(claimer Claimer, broadcaster Broadcaster, timeout time.Duration) *ClaimInvoker {
	if timeout <= 0 {
		timeout = defaultClaimTimeout
	}
	return &ClaimInvoker{claimer: claimer, broadcaster: broadcaster, timeout: timeout}
}

// Invoke claims rec and returns the broadcast txid. The outcome is stored
// on the record, the swap's status is never changed.
func (c *ClaimInvoker) Invoke(ctx context.Context, rec *SwapRecord) (string, error) {
	txid, err := c.invoke(ctx, rec)
	rec.setClaimResult(txid, err)

	logger := log.WithField("swap_id", rec.Id())
	if err != nil {
		logger.WithError(err).Warn("failed to claim swap")
		return "", err
	}
	logger.Infof("claimed swap in tx %s", txid)
	return txid, nil
}

func (c *ClaimInvoker) invoke(ctx context.Context, rec *SwapRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := rec.claimRequest()
	if err != nil {
		return "", err
	}

	txHex, err := c.claimer.Claim(ctx, req)
	if err != nil {
		return "", err
	}

	txid, err := c.broadcaster.BroadcastTransaction(ctx, req.Currency, txHex)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast claim transaction: %w", err)
	}
	return txid, nil
}
