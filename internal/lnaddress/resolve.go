// Package lnaddress resolves a lightning-address (user@host, the
// human-readable alias LNURL-pay popularized for Lightning invoices) into
// a payable BOLT-11 invoice, satisfying convert.InvoiceResolver.
package lnaddress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// requestTimeout bounds both LNURL-pay round trips (the well-known lookup
// and the callback invoice request); the resolver sits in the same
// outbound-HTTP category as the exchange price providers (15s REST
// deadline), but LNURL endpoints are typically much faster so a tighter
// budget is used here.
const requestTimeout = 10 * time.Second

type payServiceResponse struct {
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Tag         string `json:"tag"`
	Metadata    string `json:"metadata"`
}

type invoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Resolver implements convert.InvoiceResolver over plain LNURL-pay HTTP.
type Resolver struct {
	httpClient *http.Client
	baseURL    string // non-empty only in tests, overrides "https://"+host
}

// New builds a Resolver against production LNURL-pay hosts. A nil
// httpClient gets a default with requestTimeout applied.
func New(httpClient *http.Client) *Resolver {
	return newResolver("", httpClient)
}

// NewWithBaseURL builds a Resolver that queries baseURL instead of
// "https://"+host for the well-known lookup, the same test seam
// internal/exchange.NewProvider exposes via its baseURL parameter.
func NewWithBaseURL(baseURL string, httpClient *http.Client) *Resolver {
	return newResolver(baseURL, httpClient)
}

func newResolver(baseURL string, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Resolver{httpClient: httpClient, baseURL: baseURL}
}

// ResolveLightningAddress turns "user@host" into a BOLT-11 invoice for
// amountMsats by following the two-step LNURL-pay flow: fetch the pay
// service's well-known metadata, then request an invoice of the exact
// amount from its callback.
func (r *Resolver) ResolveLightningAddress(ctx context.Context, address string, amountMsats int64) (string, error) {
	user, host, err := splitAddress(address)
	if err != nil {
		return "", err
	}

	base := r.baseURL
	if base == "" {
		base = "https://" + host
	}
	wellKnownURL := fmt.Sprintf("%s/.well-known/lnurlp/%s", base, user)
	var payService payServiceResponse
	if err := r.fetchJSON(ctx, wellKnownURL, &payService); err != nil {
		return "", fmt.Errorf("lnaddress: fetching pay service metadata for %s: %w", address, err)
	}

	if payService.Tag != "" && payService.Tag != "payRequest" {
		return "", fmt.Errorf("lnaddress: %s is not a payRequest service (tag=%q)", address, payService.Tag)
	}
	if payService.Callback == "" {
		return "", fmt.Errorf("lnaddress: %s returned no callback URL", address)
	}
	if payService.MinSendable > 0 && amountMsats < payService.MinSendable {
		return "", fmt.Errorf("lnaddress: %d msats below %s's minimum of %d", amountMsats, address, payService.MinSendable)
	}
	if payService.MaxSendable > 0 && amountMsats > payService.MaxSendable {
		return "", fmt.Errorf("lnaddress: %d msats above %s's maximum of %d", amountMsats, address, payService.MaxSendable)
	}

	callbackURL := payService.Callback
	separator := "?"
	if strings.Contains(callbackURL, "?") {
		separator = "&"
	}
	callbackURL = fmt.Sprintf("%s%samount=%d", callbackURL, separator, amountMsats)

	var invoice invoiceResponse
	if err := r.fetchJSON(ctx, callbackURL, &invoice); err != nil {
		return "", fmt.Errorf("lnaddress: requesting invoice from %s: %w", address, err)
	}
	if invoice.Status == "ERROR" {
		return "", fmt.Errorf("lnaddress: %s rejected invoice request: %s", address, invoice.Reason)
	}
	if invoice.PR == "" {
		return "", fmt.Errorf("lnaddress: %s returned no invoice", address)
	}

	logger.Info("lnaddress: resolved lightning address",
		zap.String("address", address), zap.Int64("amount_msats", amountMsats))

	return invoice.PR, nil
}

func splitAddress(address string) (user, host string, err error) {
	parts := strings.SplitN(address, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("lnaddress: %q is not a valid lightning address", address)
	}
	return parts[0], parts[1], nil
}

func (r *Resolver) fetchJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}
