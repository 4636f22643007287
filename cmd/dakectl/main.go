// Command dakectl drives a dake server from the command line: it creates and
// resolves markets, places sealed bets, settles positions and follows the
// event feed.
//
// Usage:
//
//	dakectl [flags] <command> [args]
//
// Commands:
//
//	keygen <file>                      write a new password-sealed key file
//	markets [status]                   list markets
//	market <address>                   show a market
//	positions <market>                 list a market's positions
//	position <address>                 show a position
//	create <id> <question>             create a market (-seed, -accounting, -resolve-in)
//	bet <market> yes|no <amount>       place a sealed bet (-grant-self)
//	close <market>                     close betting
//	resolve <market> yes|no            resolve a market
//	check <position>                   compute the is-winner flag (-grant-owner)
//	grant <position> [recipient]       grant decrypt access to the is-winner flag
//	claim <position>                   decrypt the flag and claim winnings
//	watch [market...]                  stream events
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/dake/internal/client"
	"github.com/alanyoungcy/dake/internal/crypto"
	"github.com/alanyoungcy/dake/internal/domain"
)

type options struct {
	api        string
	chainID    int64
	key        string
	keyFile    string
	password   string
	seed       int64
	accounting string
	resolveIn  time.Duration
	grantSelf  bool
	grantOwner bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.api, "api", envOr("DAKE_API_URL", "http://localhost:8000"), "API root")
	flag.Int64Var(&opts.chainID, "chain-id", 31337, "signing domain chain id")
	flag.StringVar(&opts.key, "key", os.Getenv("DAKE_CLIENT_KEY"), "hex private key")
	flag.StringVar(&opts.keyFile, "key-file", os.Getenv("DAKE_CLIENT_KEY_FILE"), "sealed key file")
	flag.StringVar(&opts.password, "password", os.Getenv("DAKE_CLIENT_KEY_PASSWORD"), "key file password")
	flag.Int64Var(&opts.seed, "seed", -1, "create: seed liquidity per side (server default when negative)")
	flag.StringVar(&opts.accounting, "accounting", "", "create: locked or pool")
	flag.DurationVar(&opts.resolveIn, "resolve-in", 24*time.Hour, "create: resolution time from now")
	flag.BoolVar(&opts.grantSelf, "grant-self", true, "bet: let the bettor decrypt their own side")
	flag.BoolVar(&opts.grantOwner, "grant-owner", true, "check: grant the owner access to the flag")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args(), logger); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("command failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string, logger *slog.Logger) error {
	cmd, args := args[0], args[1:]

	if cmd == "keygen" {
		if len(args) != 1 {
			return errors.New("usage: keygen <file>")
		}
		return keygen(args[0], opts.password)
	}

	var signer *crypto.Signer
	if opts.key != "" || opts.keyFile != "" {
		key, err := crypto.LoadKey(crypto.KeySource{Raw: opts.key, Path: opts.keyFile, Password: opts.password})
		if err != nil {
			return err
		}
		signer = crypto.NewSignerFromKey(key, opts.chainID)
	}
	c := client.New(opts.api, signer, client.WithLogger(logger))

	switch cmd {
	case "markets":
		status := ""
		if len(args) > 0 {
			status = args[0]
		}
		return printResult(c.ListMarkets(ctx, status, 0, 0))
	case "market":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.Market(ctx, addr))
	case "positions":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.Positions(ctx, addr))
	case "position":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.Position(ctx, addr))
	case "create":
		if len(args) != 2 {
			return errors.New("usage: create <id> <question>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid market id %q", args[0])
		}
		req := client.CreateMarketRequest{
			MarketID:       id,
			Question:       args[1],
			ResolutionTime: time.Now().Add(opts.resolveIn).Unix(),
			Accounting:     opts.accounting,
		}
		if opts.seed >= 0 {
			seed := uint64(opts.seed)
			req.SeedLiquidity = &seed
		}
		return printResult(c.CreateMarket(ctx, req))
	case "bet":
		if len(args) != 3 {
			return errors.New("usage: bet <market> yes|no <amount>")
		}
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		side, err := parseSide(args[1])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[2])
		}
		return printResult(c.PlaceBet(ctx, addr, side, amount, client.BetOptions{GrantSelfAccess: opts.grantSelf}))
	case "close":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.CloseMarket(ctx, addr))
	case "resolve":
		if len(args) != 2 {
			return errors.New("usage: resolve <market> yes|no")
		}
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		side, err := parseSide(args[1])
		if err != nil {
			return err
		}
		return printResult(c.ResolveMarket(ctx, addr, side == domain.SideYes))
	case "check":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.CheckWinner(ctx, addr, opts.grantOwner))
	case "grant":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		var recipient *common.Address
		if len(args) > 1 {
			r, err := argAddress(args, 1)
			if err != nil {
				return err
			}
			recipient = &r
		}
		return c.GrantDecryptAccess(ctx, addr, recipient)
	case "claim":
		addr, err := argAddress(args, 0)
		if err != nil {
			return err
		}
		return printResult(c.Claim(ctx, addr))
	case "watch":
		sub := client.Subscription{}
		for i := range args {
			addr, err := argAddress(args, i)
			if err != nil {
				return err
			}
			sub.Markets = append(sub.Markets, addr)
		}
		enc := json.NewEncoder(os.Stdout)
		return c.Watch(ctx, sub, func(n client.Notification) {
			_ = enc.Encode(n)
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func keygen(path, password string) error {
	if password == "" {
		return errors.New("keygen needs -password or DAKE_CLIENT_KEY_PASSWORD")
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	data, err := crypto.SealKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Println(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argAddress(args []string, i int) (common.Address, error) {
	if i >= len(args) {
		return common.Address{}, errors.New("missing address argument")
	}
	if !common.IsHexAddress(args[i]) {
		return common.Address{}, fmt.Errorf("invalid address %q", args[i])
	}
	return common.HexToAddress(args[i]), nil
}

func parseSide(s string) (uint8, error) {
	switch s {
	case "yes", "YES", "1":
		return domain.SideYes, nil
	case "no", "NO", "0":
		return domain.SideNo, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidSide, s)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
