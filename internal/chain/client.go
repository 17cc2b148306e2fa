// internal/chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	defaultTimeout = 10 * time.Second
)

// Client is a thin round-robin wrapper over a list of RPC endpoints. A
// node that errors is skipped until the rotation comes back around.
type Client struct {
	mutex     sync.Mutex
	clients   []*rpcNode
	currIndex int
	logger    *zap.Logger
}

type rpcNode struct {
	client *rpc.Client
	url    string

	mu     sync.RWMutex
	active bool
}

func (n *rpcNode) isActive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active
}

func (n *rpcNode) setActive(active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = active
}

// NewClient creates a client over the given RPC endpoint list.
func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	var nodes []*rpcNode
	for _, urlStr := range rpcURLs {
		if _, err := url.Parse(urlStr); err != nil {
			logger.Warn("Invalid RPC URL", zap.String("url", urlStr), zap.Error(err))
			continue
		}
		nodes = append(nodes, &rpcNode{
			client: rpc.New(urlStr),
			url:    urlStr,
			active: true,
		})
	}
	if len(nodes) == 0 {
		return nil, errors.New("no valid RPC URLs provided")
	}

	return &Client{
		clients: nodes,
		logger:  logger.Named("chain"),
	}, nil
}

// Validate checks connectivity against every endpoint; at least one must
// answer.
func (c *Client) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, node := range c.clients {
		wg.Add(1)
		go func(n *rpcNode) {
			defer wg.Done()
			if _, err := n.client.GetVersion(ctx); err != nil {
				c.logger.Warn("RPC endpoint unreachable",
					zap.String("url", n.url), zap.Error(err))
				n.setActive(false)
				return
			}
			n.setActive(true)
		}(node)
	}
	wg.Wait()

	if !c.hasActiveClients() {
		return errors.New("no active RPC connections available")
	}
	return nil
}

func (c *Client) hasActiveClients() bool {
	for _, node := range c.clients {
		if node.isActive() {
			return true
		}
	}
	return false
}

func (c *Client) getNextClient() *rpcNode {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	initialIndex := c.currIndex
	for {
		c.currIndex = (c.currIndex + 1) % len(c.clients)
		node := c.clients[c.currIndex]
		if node.isActive() {
			return node
		}
		if c.currIndex == initialIndex {
			// Every node is marked down; reactivate and retry the
			// rotation rather than failing permanently.
			for _, n := range c.clients {
				n.setActive(true)
			}
			return c.clients[c.currIndex]
		}
	}
}

// withRetry rotates across endpoints until one answers.
func withRetry[T any](c *Client, fn func(*rpc.Client) (T, error)) (T, error) {
	var lastErr error
	var zero T
	for attempt := 0; attempt < maxRetries; attempt++ {
		node := c.getNextClient()
		if node == nil {
			return zero, errors.New("no active RPC clients available")
		}

		result, err := fn(node.client)
		if err != nil {
			lastErr = err
			node.setActive(false)
			continue
		}
		return result, nil
	}
	return zero, fmt.Errorf("rpc call failed after %d attempts: %w", maxRetries, lastErr)
}

// GetAccountInfo fetches raw account data at confirmed commitment.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return withRetry(c, func(cl *rpc.Client) (*rpc.GetAccountInfoResult, error) {
		return cl.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
	})
}

// GetBalance returns the SOL balance in lamports.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	out, err := withRetry(c, func(cl *rpc.Client) (*rpc.GetBalanceResult, error) {
		return cl.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetTokenAccounts lists SPL token accounts owned by the wallet.
func (c *Client) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) (*rpc.GetTokenAccountsResult, error) {
	return withRetry(c, func(cl *rpc.Client) (*rpc.GetTokenAccountsResult, error) {
		return cl.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
		)
	})
}

// GetTransaction fetches a confirmed transaction with its metadata.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	return withRetry(c, func(cl *rpc.Client) (*rpc.GetTransactionResult, error) {
		return cl.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			MaxSupportedTransactionVersion: &maxVersion,
			Commitment:                     rpc.CommitmentConfirmed,
		})
	})
}

// GetLatestBlockhash returns a finalized blockhash for signing.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := withRetry(c, func(cl *rpc.Client) (*rpc.GetLatestBlockhashResult, error) {
		return cl.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction, skipping preflight.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return withRetry(c, func(cl *rpc.Client) (solana.Signature, error) {
		return cl.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
}

// ConfirmTransaction polls signature status until the transaction is
// confirmed, errors, or ctx expires.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timed out for %s: %w", sig, ctx.Err())
		case <-ticker.C:
			out, err := withRetry(c, func(cl *rpc.Client) (*rpc.GetSignatureStatusesResult, error) {
				return cl.GetSignatureStatuses(ctx, false, sig)
			})
			if err != nil {
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
