package main

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/api"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/portfolio"
	"PortfolioLedger/internal/program"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/crypto/ed25519"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// remote carries the connection flags shared by every RPC command.
type remote struct {
	server  string
	timeout time.Duration
}

func (r *remote) setFlags(f *flag.FlagSet) {
	server := os.Getenv("PORTFOLIOCTL_SERVER")
	if server == "" {
		server = "localhost:9090"
	}
	f.StringVar(&r.server, "server", server, "gRPC address of the ledger (env PORTFOLIOCTL_SERVER).")
	f.DurationVar(&r.timeout, "timeout", 10*time.Second, "Deadline for the whole command.")
}

// call dials the ledger, runs fn and prints its result as JSON.
func (r *remote) call(ctx context.Context, fn func(context.Context, *api.Client) (any, error)) subcommands.ExitStatus {
	conn, err := grpc.NewClient(r.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", r.server, err)
		return subcommands.ExitFailure
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := fn(ctx, api.NewClient(conn))
	if err != nil {
		st := status.Convert(err)
		fmt.Fprintf(os.Stderr, "%s: %s\n", st.Code(), st.Message())
		return subcommands.ExitFailure
	}
	return printJSON(resp)
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func usageError(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitUsageError
}

// ownerFrom resolves an owner from either an explicit key or a keypair file.
func ownerFrom(owner, keypair string) (address.PublicKey, error) {
	switch {
	case owner != "":
		return address.ParsePublicKey(owner)
	case keypair != "":
		key, err := ReadKeypair(keypair)
		if err != nil {
			return address.PublicKey{}, err
		}
		return address.PublicKeyOf(key), nil
	default:
		return address.PublicKey{}, fmt.Errorf("one of -owner or -k is required")
	}
}

// --- keys ---

type keygenCmd struct {
	out string
}

func (*keygenCmd) Name() string     { return "keygen" }
func (*keygenCmd) Synopsis() string { return "generate an Ed25519 keypair file" }
func (*keygenCmd) Usage() string {
	return `portfolioctl keygen -o <file>

  Writes a new keypair as a JSON array of 64 bytes and prints its public key.
  Never overwrites an existing file.
`
}

func (c *keygenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "id.json", "Path of the keypair file to create.")
}

func (c *keygenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pub, err := GenerateKeypair(c.out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(pub)
	return subcommands.ExitSuccess
}

type pubkeyCmd struct {
	keypair string
}

func (*pubkeyCmd) Name() string     { return "pubkey" }
func (*pubkeyCmd) Synopsis() string { return "print the public key of a keypair file" }
func (*pubkeyCmd) Usage() string {
	return `portfolioctl pubkey -k <file>
`
}

func (c *pubkeyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.keypair, "k", "id.json", "Keypair file.")
}

func (c *pubkeyCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	key, err := ReadKeypair(c.keypair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(address.PublicKeyOf(key))
	return subcommands.ExitSuccess
}

// --- portfolios ---

type deriveCmd struct {
	remote
	owner     string
	keypair   string
	programID string
	offline   bool
}

func (*deriveCmd) Name() string     { return "derive" }
func (*deriveCmd) Synopsis() string { return "compute the portfolio record address of an owner" }
func (*deriveCmd) Usage() string {
	return `portfolioctl derive (-owner <pubkey> | -k <file>) [-offline [-program <id>]]

  Asks the ledger for the record address, or derives it locally with -offline.
`
}

func (c *deriveCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.owner, "owner", "", "Owner public key (base58).")
	f.StringVar(&c.keypair, "k", "", "Keypair file of the owner.")
	f.StringVar(&c.programID, "program", program.DefaultProgramID.String(), "Program id for -offline.")
	f.BoolVar(&c.offline, "offline", false, "Derive locally without contacting the ledger.")
}

func (c *deriveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	owner, err := ownerFrom(c.owner, c.keypair)
	if err != nil {
		return usageError("derive: %v", err)
	}

	if c.offline {
		programID, err := address.ParsePublicKey(c.programID)
		if err != nil {
			return usageError("derive: -program: %v", err)
		}
		addr, bump, err := portfolio.DeriveAddress(owner, programID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		return printJSON(api.DeriveAddressResponse{Address: addr.String(), Bump: bump, ProgramID: programID.String()})
	}

	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		return client.DeriveAddress(ctx, &api.DeriveAddressRequest{Owner: owner.String()})
	})
}

type initCmd struct {
	remote
	keypair   string
	funding   string
	requestID string
	programID string
	ifAbsent  bool
}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "sign and submit an initialize instruction" }
func (*initCmd) Usage() string {
	return `portfolioctl init -k <file> [-funding <pubkey>] [-request-id <id>] [-if-absent]

  Creates the owner's portfolio record, paying rent from the funding wallet.
  The owner keypair signs the instruction. Without -program the program id
  is fetched from the ledger.
`
}

func (c *initCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.keypair, "k", "id.json", "Owner keypair file.")
	f.StringVar(&c.funding, "funding", "", "Funding wallet (defaults to the owner).")
	f.StringVar(&c.requestID, "request-id", "", "Request id (defaults to a random UUID).")
	f.StringVar(&c.programID, "program", "", "Program id to sign for.")
	f.BoolVar(&c.ifAbsent, "if-absent", false, "Succeed without creating when the record already exists.")
}

func (c *initCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	key, err := ReadKeypair(c.keypair)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	owner := address.PublicKeyOf(key)

	funding := owner
	if c.funding != "" {
		if funding, err = address.ParsePublicKey(c.funding); err != nil {
			return usageError("init: -funding: %v", err)
		}
	}
	requestID := c.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		programID, err := c.resolveProgram(ctx, client, owner)
		if err != nil {
			return nil, err
		}
		req := SignInitialize(key, funding, requestID, programID)
		req.IfAbsent = c.ifAbsent
		return client.InitializePortfolio(ctx, req)
	})
}

func (c *initCmd) resolveProgram(ctx context.Context, client *api.Client, owner address.PublicKey) (address.PublicKey, error) {
	if c.programID != "" {
		return address.ParsePublicKey(c.programID)
	}
	resp, err := client.DeriveAddress(ctx, &api.DeriveAddressRequest{Owner: owner.String()})
	if err != nil {
		return address.PublicKey{}, err
	}
	return address.ParsePublicKey(resp.ProgramID)
}

// SignInitialize builds a signed initialize request for the key's owner.
func SignInitialize(key ed25519.PrivateKey, funding address.PublicKey, requestID string, programID address.PublicKey) *api.InitializePortfolioRequest {
	owner := address.PublicKeyOf(key)
	ins := event.InitializePortfolio{RequestID: requestID, Owner: owner, FundingSource: funding}
	sig := address.Sign(key, ins.SigningMessage(programID))
	return &api.InitializePortfolioRequest{
		RequestID:     requestID,
		Owner:         owner.String(),
		FundingSource: funding.String(),
		Signature:     sig.String(),
	}
}

type showCmd struct {
	remote
	owner   string
	keypair string
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "fetch an owner's portfolio record" }
func (*showCmd) Usage() string {
	return `portfolioctl show (-owner <pubkey> | -k <file>)
`
}

func (c *showCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.owner, "owner", "", "Owner public key (base58).")
	f.StringVar(&c.keypair, "k", "", "Keypair file of the owner.")
}

func (c *showCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	owner, err := ownerFrom(c.owner, c.keypair)
	if err != nil {
		return usageError("show: %v", err)
	}
	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		return client.GetPortfolio(ctx, &api.GetPortfolioRequest{Owner: owner.String()})
	})
}

// --- wallets ---

type airdropCmd struct {
	remote
	to        string
	lamports  uint64
	requestID string
}

func (*airdropCmd) Name() string     { return "airdrop" }
func (*airdropCmd) Synopsis() string { return "credit a wallet from the faucet" }
func (*airdropCmd) Usage() string {
	return `portfolioctl airdrop -to <pubkey> -lamports <n> [-request-id <id>]

  Only works when the ledger runs with PORTFOLIO_FAUCET_ENABLED=true.
`
}

func (c *airdropCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.to, "to", "", "Wallet public key (base58).")
	f.Uint64Var(&c.lamports, "lamports", 0, "Amount to credit.")
	f.StringVar(&c.requestID, "request-id", "", "Request id (defaults to a random UUID).")
}

func (c *airdropCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.to == "" || c.lamports == 0 {
		return usageError("airdrop: -to and -lamports are required")
	}
	requestID := c.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		return client.FundWallet(ctx, &api.FundWalletRequest{RequestID: requestID, Wallet: c.to, Lamports: c.lamports})
	})
}

type accountCmd struct {
	remote
	address string
}

func (*accountCmd) Name() string     { return "account" }
func (*accountCmd) Synopsis() string { return "show the raw state of any account" }
func (*accountCmd) Usage() string {
	return `portfolioctl account -address <pubkey>
`
}

func (c *accountCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.address, "address", "", "Account address (base58).")
}

func (c *accountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.address == "" {
		return usageError("account: -address is required")
	}
	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		return client.GetAccount(ctx, &api.GetAccountRequest{Address: c.address})
	})
}

// --- audit ---

type journalsCmd struct {
	remote
	address string
	limit   int
	before  int64
}

func (*journalsCmd) Name() string     { return "journals" }
func (*journalsCmd) Synopsis() string { return "list journal entries touching an address, newest first" }
func (*journalsCmd) Usage() string {
	return `portfolioctl journals -address <pubkey> [-limit <n>] [-before <sequence>]

  Needs the Postgres backend.
`
}

func (c *journalsCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
	f.StringVar(&c.address, "address", "", "Wallet or record address (base58).")
	f.IntVar(&c.limit, "limit", 20, "Maximum entries to return.")
	f.Int64Var(&c.before, "before", 0, "Only entries with a lower sequence; 0 for the newest.")
}

func (c *journalsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.address == "" {
		return usageError("journals: -address is required")
	}
	return c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		return client.ListJournals(ctx, &api.ListJournalsRequest{Address: c.address, Limit: int32(c.limit), BeforeSequence: c.before})
	})
}

type verifyCmd struct {
	remote
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check the event log hash chain and journals" }
func (*verifyCmd) Usage() string {
	return `portfolioctl verify

  Exits non-zero when the ledger reports an unhealthy event log.
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	c.remote.setFlags(f)
}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var healthy bool
	exit := c.call(ctx, func(ctx context.Context, client *api.Client) (any, error) {
		resp, err := client.VerifyIntegrity(ctx, &api.VerifyIntegrityRequest{})
		if err == nil {
			healthy = resp.IsHealthy
		}
		return resp, err
	})
	if exit == subcommands.ExitSuccess && !healthy {
		return subcommands.ExitFailure
	}
	return exit
}
