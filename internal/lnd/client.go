// Package lnd provides a gRPC client wrapper for interacting with an LND node.
//
// This package abstracts the Lightning Network Daemon (LND) behind a clean
// interface so the rest of the codebase depends on LightningClient, not on
// LND internals. This makes testing and a future migration (e.g. CLN) easier.
//
// ============================================================================
// ARCHITECTURE OVERVIEW
// ============================================================================
//
//	┌──────────────┐     ┌──────────────────┐     ┌─────────────────┐
//	│ internal/     │────▶│ internal/convert │────▶│ LightningClient  │ (interface)
//	│ lnwatcher     │     │ Engine (flows)   │     │                  │
//	└──────────────┘     └──────────────────┘     └────────┬─────────┘
//	                                                        │
//	                                             ┌──────────▼─────────┐
//	                                             │   lnd.Client        │ (this package)
//	                                             │   (gRPC to LND)     │
//	                                             └──────────┬─────────┘
//	                                                        │ gRPC + TLS + macaroon
//	                                             ┌──────────▼─────────┐
//	                                             │   LND daemon        │
//	                                             │   (docker container) │
//	                                             └────────────────────┘
//
// internal/lnwatcher subscribes to invoice/payment/forward events off this
// client to turn settled Lightning activity into TrackedOps; cmd/bridge/main.go
// wires the *Client into the watcher, the treasury, and the conversion engine
// at startup.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// ============================================================================
// Config — LND connection settings (populated from config.toml [lnd] section)
// ============================================================================

type Config struct {
	GRPCHost              string // "localhost" or the LND container's service name
	GRPCPort              string // 10009
	TLSCertPath           string // Path to LND's tls.cert
	MacaroonPath          string // Path to admin.macaroon (or custom-baked macaroon)
	Network               string // "mainnet", "testnet", "regtest"
	PaymentTimeoutSeconds int    // Max time for Lightning payment settlement (default: 30)
	MaxPaymentFeeSats     int64  // Max routing fee in sats (default: 100)
}

// ============================================================================
// LightningClient — interface for Lightning + on-chain operations
// ============================================================================
//
// internal/convert (LightningSender), internal/ledger.Treasury and
// internal/lnwatcher each depend on their own narrower slice of it rather
// than the concrete Client, so their flows can be tested against a fake.
type LightningClient interface {
	// ---- Lightning payments ----

	// PayInvoice pays a BOLT11 invoice and returns the payment result. Called
	// by internal/convert's F1 flow to pay a Hive deposit out to a Lightning
	// invoice or a resolved lightning-address.
	PayInvoice(ctx context.Context, bolt11 string, maxFeeSats int64) (*PaymentResult, error)

	// DecodeInvoice decodes a BOLT11 invoice string without paying it.
	// PayInvoice calls it first to reject expired and zero-amount invoices.
	DecodeInvoice(ctx context.Context, bolt11 string) (*Invoice, error)

	// ---- On-chain transactions ----

	// SendOnChain sends BTC from the LND wallet to a destination address.
	// No flow in internal/convert calls it.
	//   - targetConf controls fee rate: 2=next block, 6=~1h, 144=~1day
	SendOnChain(ctx context.Context, address string, amountSats int64, targetConf int32) (*OnChainResult, error)

	// NewAddress generates a new on-chain Bitcoin address from LND's wallet,
	// used for treasury deposit operations (receiving OTC-purchased BTC).
	NewAddress(ctx context.Context) (string, error)

	// ---- Balance & treasury ----

	// GetWalletBalance returns the on-chain wallet balance (confirmed +
	// unconfirmed), used by internal/ledger.Treasury to compute a snapshot.
	GetWalletBalance(ctx context.Context) (*WalletBalance, error)

	// GetChannelBalance returns the total balance across all Lightning
	// channels, used by internal/ledger.Treasury alongside GetWalletBalance.
	GetChannelBalance(ctx context.Context) (*ChannelBalance, error)

	// GetInfo returns basic LND node information (alias, pubkey, synced
	// status), used by cmd/bridge/main.go at startup to fail fast if LND
	// isn't reachable or synced.
	GetInfo(ctx context.Context) (*NodeInfo, error)

	// Close closes the underlying gRPC connection.
	Close() error
}

// ============================================================================
// Result types — returned by LightningClient methods
// ============================================================================

type PaymentResultStatus int

const (
	Succeeded PaymentResultStatus = iota
	Failed
	Inflight
)

type PaymentResult struct {
	PaymentHash     string              // hex-encoded payment hash (32 bytes)
	PaymentPreimage string              // hex-encoded preimage (proof of payment)
	FeeSats         int64               // Routing fee paid in satoshis
	Status          PaymentResultStatus // "SUCCEEDED", "FAILED", "IN_FLIGHT"
}

type Invoice struct {
	Destination string // Recipient node public key
	AmountSats  int64  // Invoice amount in satoshis (0 = any amount)
	PaymentHash string // Hex-encoded payment hash
	Expiry      int64  // Seconds until invoice expires
	Description string // Invoice description/memo
	IsExpired   bool   // true if invoice has expired
}

type OnChainResult struct {
	TxHash string // Hex-encoded transaction hash (64 chars)
}

type WalletBalance struct {
	ConfirmedSats   int64 // On-chain confirmed balance
	UnconfirmedSats int64 // On-chain unconfirmed (pending) balance
	TotalSats       int64 // Confirmed + Unconfirmed
}

type ChannelBalance struct {
	LocalSats  int64 // Our side of channels (spendable via Lightning)
	RemoteSats int64 // Remote side of channels (receivable capacity)
}

type NodeInfo struct {
	Alias         string
	PubKey        string
	SyncedToChain bool
	SyncedToGraph bool
	BlockHeight   uint32
	NumChannels   uint32
}

// ============================================================================
// Client — concrete implementation of LightningClient using LND gRPC
// ============================================================================

// macaroonCredential implements grpc.PerRPCCredentials.
// It attaches the hex-encoded macaroon as gRPC metadata on every RPC call,
// so LND can authenticate and authorize the request.
type macaroonCredential struct {
	macaroon string // hex-encoded serialized macaroon
}

// GetRequestMetadata is called by gRPC before each RPC. It returns the
// "macaroon" key with the hex-encoded value that LND expects.
func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

// RequireTransportSecurity returns true because macaroons are sensitive
// credentials that must only be sent over TLS-encrypted connections.
func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

type Client struct {
	conn         *grpc.ClientConn       // gRPC connection (reused for all calls)
	lnClient     lnrpc.LightningClient  // Auto-generated gRPC stub
	routerClient routerrpc.RouterClient // Router sub-server client (SendPaymentV2)
	Cfg          Config                 // Connection & behavior config
}

func NewClient(cfg Config) (*Client, error) {
	// NewClientTLSFromFile reads the PEM cert file and builds TLS credentials.
	// First arg is the file path (not contents), second is the server name
	// override ("" = use the name from the cert).
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	fileMacaroonData, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon file %s: %w", cfg.MacaroonPath, err)
	}
	macaroonCreds := macaroonCredential{macaroon: hex.EncodeToString(fileMacaroonData)}

	url := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macaroonCreds))
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", url, err)
	}

	lnClient := lnrpc.NewLightningClient(conn)

	// Validate connection by calling GetInfo — fails fast if LND is not
	// running, wallet is locked, or credentials are wrong.
	info, err := lnClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to LND (is it running? wallet unlocked?): %w", err)
	}

	fmt.Printf("LND connected — alias=%s pubkey=%s height=%d synced_chain=%t synced_graph=%t\n",
		info.Alias, info.IdentityPubkey, info.BlockHeight, info.SyncedToChain, info.SyncedToGraph)

	if !info.SyncedToChain {
		fmt.Println("WARNING: LND is not synced to chain — payments may fail until sync completes")
	}

	return &Client{
		conn:         conn,
		lnClient:     lnClient,
		routerClient: routerrpc.NewRouterClient(conn),
		Cfg:          cfg,
	}, nil
}

// Close closes the underlying gRPC connection to LND.
func (c *Client) Close() error {
	return c.conn.Close()
}
