package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"LendDesk/internal/position"
)

// userDeclinedCode is the EIP-1193 "user rejected request" error code
// surfaced by wallet backends.
const userDeclinedCode = 4001

// receiptPollInterval is how often AwaitConfirmation re-polls for a receipt.
const receiptPollInterval = 500 * time.Millisecond

// RPCConfig controls how the client connects to a JSON-RPC endpoint.
type RPCConfig struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// RPCClient implements the minimal subset of JSON-RPC 2.0 spoken by the
// chain node and the signing daemon.
type RPCClient struct {
	baseURL string
	http    *http.Client
	bearer  string
}

// NewRPCClient constructs an RPCClient from the provided configuration.
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		bearer:  strings.TrimSpace(cfg.BearerToken),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call performs a JSON-RPC request against the configured endpoint.
func (c *RPCClient) Call(ctx context.Context, method string, params any, result any) error {
	if c == nil {
		return fmt.Errorf("rpc client is nil")
	}
	reqBody := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Client", "lenddesk")
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call rpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc call failed with status %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Wire representations. Amounts travel as decimal strings to preserve
// on-chain precision; payloads travel hex-encoded.

type positionWire struct {
	ID                 string `json:"id"`
	Borrower           string `json:"borrower"`
	CollateralAsset    string `json:"collateral_asset"`
	LoanAsset          string `json:"loan_asset"`
	CollateralAmount   string `json:"collateral_amount"`
	Principal          string `json:"principal"`
	InterestRate       int64  `json:"interest_rate"`
	CreatedAtUS        int64  `json:"created_at_us"`
	LastInterestUpdate int64  `json:"last_interest_update_us"`
	IsActive           bool   `json:"is_active"`
}

type debtSnapshotWire struct {
	Principal       string `json:"principal"`
	AccruedInterest string `json:"accrued_interest"`
	TotalDebt       string `json:"total_debt"`
	AsOfUS          int64  `json:"as_of_us"`
}

type receiptWire struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      int    `json:"status"`
}

type signedOperationWire struct {
	From    string        `json:"from"`
	Payload hexutil.Bytes `json:"payload"`
}

func parseAmount(field, s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s amount %q", field, s)
	}
	return v, nil
}

func decodePosition(w positionWire) (position.Position, error) {
	collateral, err := parseAmount("collateral", w.CollateralAmount)
	if err != nil {
		return position.Position{}, err
	}
	principal, err := parseAmount("principal", w.Principal)
	if err != nil {
		return position.Position{}, err
	}
	p := position.Position{
		ID:                 w.ID,
		Borrower:           common.HexToAddress(w.Borrower),
		CollateralAsset:    w.CollateralAsset,
		LoanAsset:          w.LoanAsset,
		CollateralAmount:   collateral,
		Principal:          principal,
		InterestRate:       w.InterestRate,
		CreatedAt:          time.UnixMicro(w.CreatedAtUS).UTC(),
		LastInterestUpdate: time.UnixMicro(w.LastInterestUpdate).UTC(),
		IsActive:           w.IsActive,
	}
	if err := p.Validate(); err != nil {
		return position.Position{}, fmt.Errorf("position %s: %w", w.ID, err)
	}
	return p, nil
}

// RPCLedger adapts the chain node's JSON-RPC surface to the Ledger
// interface. Confirmation waiting polls for the receipt instead of sleeping
// a fixed delay: the chain's own confirmation signal is the only reliable
// ordering between dependent operations.
type RPCLedger struct {
	client *RPCClient
}

// NewRPCLedger wraps an RPCClient as a Ledger.
func NewRPCLedger(client *RPCClient) *RPCLedger {
	return &RPCLedger{client: client}
}

func (l *RPCLedger) Position(ctx context.Context, id string) (position.Position, error) {
	var w positionWire
	if err := l.client.Call(ctx, "loan_getPosition", []any{id}, &w); err != nil {
		return position.Position{}, fmt.Errorf("get position: %w", err)
	}
	if w.ID == "" {
		return position.Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return decodePosition(w)
}

func (l *RPCLedger) PositionsByBorrower(ctx context.Context, borrower common.Address) ([]position.Position, error) {
	var wires []positionWire
	if err := l.client.Call(ctx, "loan_listPositions", []any{borrower.Hex()}, &wires); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	positions := make([]position.Position, 0, len(wires))
	for _, w := range wires {
		p, err := decodePosition(w)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (l *RPCLedger) DebtSnapshot(ctx context.Context, positionID string) (DebtSnapshot, error) {
	var w debtSnapshotWire
	if err := l.client.Call(ctx, "loan_getDebtSnapshot", []any{positionID}, &w); err != nil {
		return DebtSnapshot{}, fmt.Errorf("get debt snapshot: %w", err)
	}
	principal, err := parseAmount("principal", w.Principal)
	if err != nil {
		return DebtSnapshot{}, err
	}
	interest, err := parseAmount("accrued_interest", w.AccruedInterest)
	if err != nil {
		return DebtSnapshot{}, err
	}
	total, err := parseAmount("total_debt", w.TotalDebt)
	if err != nil {
		return DebtSnapshot{}, err
	}
	snap := DebtSnapshot{
		Principal:       principal,
		AccruedInterest: interest,
		TotalDebt:       total,
		AsOf:            time.UnixMicro(w.AsOfUS).UTC(),
	}
	if err := snap.Validate(); err != nil {
		return DebtSnapshot{}, err
	}
	return snap, nil
}

func (l *RPCLedger) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var s string
	if err := l.client.Call(ctx, "token_allowance", []any{token.Hex(), owner.Hex(), spender.Hex()}, &s); err != nil {
		return nil, fmt.Errorf("get allowance: %w", err)
	}
	return parseAmount("allowance", s)
}

func (l *RPCLedger) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var s string
	if err := l.client.Call(ctx, "token_balanceOf", []any{token.Hex(), owner.Hex()}, &s); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return parseAmount("balance", s)
}

func (l *RPCLedger) SubmitAuthorization(ctx context.Context, op SignedOperation) (OperationHandle, error) {
	return l.submit(ctx, op)
}

func (l *RPCLedger) SubmitSettlement(ctx context.Context, op SignedOperation) (OperationHandle, error) {
	return l.submit(ctx, op)
}

func (l *RPCLedger) submit(ctx context.Context, op SignedOperation) (OperationHandle, error) {
	wire := signedOperationWire{From: op.From.Hex(), Payload: op.Payload}
	var txHash string
	if err := l.client.Call(ctx, "chain_sendOperation", []any{wire}, &txHash); err != nil {
		return OperationHandle{}, fmt.Errorf("submit %s: %w", op.Kind, err)
	}
	return OperationHandle{
		TxHash:    common.HexToHash(txHash),
		Submitted: time.Now().UTC(),
	}, nil
}

func (l *RPCLedger) AwaitConfirmation(ctx context.Context, handle OperationHandle, timeout time.Duration) (Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		var w *receiptWire
		if err := l.client.Call(ctx, "chain_getReceipt", []any{handle.TxHash.Hex()}, &w); err != nil {
			return Receipt{}, fmt.Errorf("get receipt: %w", err)
		}
		if w != nil && w.TxHash != "" {
			receipt := Receipt{
				TxHash:      common.HexToHash(w.TxHash),
				BlockNumber: w.BlockNumber,
				GasUsed:     w.GasUsed,
				Success:     w.Status == 1,
			}
			if !receipt.Success {
				return receipt, ErrExecutionReverted
			}
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return Receipt{}, ErrConfirmationTimeout
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RPCSigner adapts a remote signing daemon (the wallet side of the client)
// to the Signer interface. A declined prompt maps to ErrUserDeclined via the
// EIP-1193 rejection code.
type RPCSigner struct {
	client *RPCClient
}

// NewRPCSigner wraps an RPCClient as a Signer.
func NewRPCSigner(client *RPCClient) *RPCSigner {
	return &RPCSigner{client: client}
}

func (s *RPCSigner) SignAuthorization(ctx context.Context, req AuthorizationRequest) (SignedOperation, error) {
	params := map[string]any{
		"owner":   req.Owner.Hex(),
		"token":   req.Token.Hex(),
		"spender": req.Spender.Hex(),
		"amount":  req.Amount.String(),
	}
	return s.sign(ctx, "signer_signAuthorization", OpAuthorization, params)
}

func (s *RPCSigner) SignSettlement(ctx context.Context, req SettlementRequest) (SignedOperation, error) {
	params := map[string]any{
		"borrower":    req.Borrower.Hex(),
		"position_id": req.PositionID,
		"token":       req.Token.Hex(),
		"amount":      req.Amount.String(),
	}
	return s.sign(ctx, "signer_signSettlement", OpSettlement, params)
}

func (s *RPCSigner) sign(ctx context.Context, method string, kind OperationKind, params any) (SignedOperation, error) {
	var w signedOperationWire
	if err := s.client.Call(ctx, method, []any{params}, &w); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && rpcErr.Code == userDeclinedCode {
			return SignedOperation{}, ErrUserDeclined
		}
		return SignedOperation{}, fmt.Errorf("%s: %w", method, err)
	}
	return SignedOperation{
		Kind:    kind,
		From:    common.HexToAddress(w.From),
		Payload: w.Payload,
	}, nil
}
