package lnd

import (
	"context"
	"io"
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type mockInvoiceStream struct {
	grpc.ClientStream
	invoices []*lnrpc.Invoice
	idx      int
}

func (s *mockInvoiceStream) Recv() (*lnrpc.Invoice, error) {
	if s.idx >= len(s.invoices) {
		return nil, io.EOF
	}
	inv := s.invoices[s.idx]
	s.idx++
	return inv, nil
}
func (s *mockInvoiceStream) Header() (metadata.MD, error) { return nil, nil }
func (s *mockInvoiceStream) Trailer() metadata.MD         { return nil }
func (s *mockInvoiceStream) CloseSend() error             { return nil }
func (s *mockInvoiceStream) Context() context.Context     { return context.Background() }
func (s *mockInvoiceStream) SendMsg(m interface{}) error   { return nil }
func (s *mockInvoiceStream) RecvMsg(m interface{}) error   { return nil }

type mockTrackPaymentsStream struct {
	grpc.ClientStream
	payments []*lnrpc.Payment
	idx      int
}

func (s *mockTrackPaymentsStream) Recv() (*lnrpc.Payment, error) {
	if s.idx >= len(s.payments) {
		return nil, io.EOF
	}
	p := s.payments[s.idx]
	s.idx++
	return p, nil
}
func (s *mockTrackPaymentsStream) Header() (metadata.MD, error) { return nil, nil }
func (s *mockTrackPaymentsStream) Trailer() metadata.MD         { return nil }
func (s *mockTrackPaymentsStream) CloseSend() error             { return nil }
func (s *mockTrackPaymentsStream) Context() context.Context     { return context.Background() }
func (s *mockTrackPaymentsStream) SendMsg(m interface{}) error  { return nil }
func (s *mockTrackPaymentsStream) RecvMsg(m interface{}) error  { return nil }

type subscribingLightningClient struct {
	lnrpc.LightningClient
	subscribeInvoicesFn func(ctx context.Context, in *lnrpc.InvoiceSubscription, opts ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error)
}

func (m *subscribingLightningClient) SubscribeInvoices(ctx context.Context, in *lnrpc.InvoiceSubscription, opts ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error) {
	return m.subscribeInvoicesFn(ctx, in, opts...)
}

type trackingRouterClient struct {
	routerrpc.RouterClient
	trackPaymentsFn func(ctx context.Context, in *routerrpc.TrackPaymentsRequest, opts ...grpc.CallOption) (routerrpc.Router_TrackPaymentsClient, error)
}

func (m *trackingRouterClient) TrackPayments(ctx context.Context, in *routerrpc.TrackPaymentsRequest, opts ...grpc.CallOption) (routerrpc.Router_TrackPaymentsClient, error) {
	return m.trackPaymentsFn(ctx, in, opts...)
}

func TestSubscribeInvoices_StreamsThenClosesOnEOF(t *testing.T) {
	mockLN := &subscribingLightningClient{
		subscribeInvoicesFn: func(_ context.Context, in *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error) {
			assert.Equal(t, uint64(5), in.AddIndex)
			return &mockInvoiceStream{invoices: []*lnrpc.Invoice{
				{AddIndex: 6, State: lnrpc.Invoice_SETTLED, RHash: []byte{0xab}, Value: 1000, Memo: "m"},
			}}, nil
		},
	}
	client := newTestClient(mockLN, &mockRouterClient{})

	events, errc := client.SubscribeInvoices(context.Background(), 5, 0)

	first := <-events
	assert.Equal(t, uint64(6), first.AddIndex)
	assert.Equal(t, lnrpc.Invoice_SETTLED, first.State)
	assert.Equal(t, int64(1000), first.ValueSat)

	_, open := <-events
	assert.False(t, open)

	err := <-errc
	require.Error(t, err)
}

func TestTrackPayments_StreamsTerminalStatus(t *testing.T) {
	mockRouter := &trackingRouterClient{
		trackPaymentsFn: func(_ context.Context, in *routerrpc.TrackPaymentsRequest, _ ...grpc.CallOption) (routerrpc.Router_TrackPaymentsClient, error) {
			assert.True(t, in.NoInflightUpdates)
			return &mockTrackPaymentsStream{payments: []*lnrpc.Payment{
				{PaymentHash: "h1", Status: lnrpc.Payment_SUCCEEDED, FeeSat: 3},
			}}, nil
		},
	}
	client := newTestClient(&mockLightningClient{}, mockRouter)

	events, _ := client.TrackPayments(context.Background())

	first := <-events
	assert.Equal(t, "h1", first.PaymentHash)
	assert.Equal(t, lnrpc.Payment_SUCCEEDED, first.Status)
	assert.Equal(t, int64(3), first.FeeSat)
}
