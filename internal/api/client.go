package api

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the typed client for portfolio.v1.PortfolioService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InitializePortfolio(ctx context.Context, in *InitializePortfolioRequest, opts ...grpc.CallOption) (*PortfolioResponse, error) {
	return invoke[PortfolioResponse](ctx, c.cc, MethodInitializePortfolio, in, opts)
}

func (c *Client) GetPortfolio(ctx context.Context, in *GetPortfolioRequest, opts ...grpc.CallOption) (*PortfolioResponse, error) {
	return invoke[PortfolioResponse](ctx, c.cc, MethodGetPortfolio, in, opts)
}

func (c *Client) DeriveAddress(ctx context.Context, in *DeriveAddressRequest, opts ...grpc.CallOption) (*DeriveAddressResponse, error) {
	return invoke[DeriveAddressResponse](ctx, c.cc, MethodDeriveAddress, in, opts)
}

func (c *Client) FundWallet(ctx context.Context, in *FundWalletRequest, opts ...grpc.CallOption) (*FundWalletResponse, error) {
	return invoke[FundWalletResponse](ctx, c.cc, MethodFundWallet, in, opts)
}

func (c *Client) GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, MethodGetAccount, in, opts)
}

func (c *Client) ListJournals(ctx context.Context, in *ListJournalsRequest, opts ...grpc.CallOption) (*ListJournalsResponse, error) {
	return invoke[ListJournalsResponse](ctx, c.cc, MethodListJournals, in, opts)
}

func (c *Client) VerifyIntegrity(ctx context.Context, in *VerifyIntegrityRequest, opts ...grpc.CallOption) (*VerifyIntegrityResponse, error) {
	return invoke[VerifyIntegrityResponse](ctx, c.cc, MethodVerifyIntegrity, in, opts)
}
