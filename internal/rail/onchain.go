package rail

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// OnchainRail settles treasury transfers on an EVM chain. The custody
// collaborator signs the raw transaction; SignedPayload carries the encoded
// signed transaction and this rail only broadcasts and watches it.
type OnchainRail struct {
	RailName string
	eth      *ethclient.Client
}

func DialOnchain(ctx context.Context, name, rpcURL string) (*OnchainRail, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}
	return &OnchainRail{RailName: name, eth: eth}, nil
}

func (r *OnchainRail) Name() string { return r.RailName }

func (r *OnchainRail) Close() {
	r.eth.Close()
}

func (r *OnchainRail) decodeTx(req Request) (*coretypes.Transaction, error) {
	if len(req.SignedPayload) == 0 {
		return nil, &Decline{Rail: r.RailName, Reason: "missing signed transaction"}
	}
	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(req.SignedPayload); err != nil {
		return nil, &Decline{Rail: r.RailName, Reason: fmt.Sprintf("malformed signed transaction: %v", err)}
	}
	return tx, nil
}

// Authorize checks the chain is reachable and the payload decodes. The
// transaction hash becomes the authorization ref.
func (r *OnchainRail) Authorize(ctx context.Context, req Request) (Authorization, error) {
	tx, err := r.decodeTx(req)
	if err != nil {
		return Authorization{}, err
	}
	if _, err := r.eth.ChainID(ctx); err != nil {
		return Authorization{}, fmt.Errorf("%s: chain unreachable: %w", r.RailName, err)
	}
	return Authorization{Ref: tx.Hash().Hex()}, nil
}

func (r *OnchainRail) Execute(ctx context.Context, req Request, auth Authorization) (Execution, error) {
	tx, err := r.decodeTx(req)
	if err != nil {
		return Execution{}, err
	}
	if err := r.eth.SendTransaction(ctx, tx); err != nil {
		// A rebroadcast of a known transaction is the idempotent success case.
		if isAlreadyKnown(err) {
			return Execution{ProviderRef: tx.Hash().Hex()}, nil
		}
		return Execution{}, fmt.Errorf("%s: broadcast: %w", r.RailName, err)
	}
	return Execution{ProviderRef: tx.Hash().Hex()}, nil
}

func (r *OnchainRail) Confirm(ctx context.Context, req Request, exec Execution) (Confirmation, error) {
	tx, err := r.decodeTx(req)
	if err != nil {
		return Confirmation{}, err
	}
	receipt, err := r.eth.TransactionReceipt(ctx, tx.Hash())
	if errors.Is(err, ethereum.NotFound) {
		return Confirmation{Settled: false}, nil
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("%s: receipt: %w", r.RailName, err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return Confirmation{}, &Decline{Rail: r.RailName, Reason: "transaction reverted"}
	}
	return Confirmation{Settled: true, SettledAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

// Refund is not a capability of this rail; settled transfers are final.
func (r *OnchainRail) Refund(ctx context.Context, req Request, exec Execution) error {
	return &Decline{Rail: r.RailName, Reason: "onchain transfers are irreversible"}
}

func isAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "already known" || msg == "ALREADY_EXISTS: already known"
}
