// Command auctionctl signs and submits auction transactions and queries a
// node over JSON-RPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/rpc"
	"github.com/tolelom/bidchain/vm/modules/market"
	"github.com/tolelom/bidchain/vm/modules/token"
	"github.com/tolelom/bidchain/wallet"
	cli "gopkg.in/urfave/cli.v1"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "auctionctl"
	app.Usage = "drive proxy-bidding auctions on a bidchain node"
	app.Version = version
	app.Flags = []cli.Flag{rpcFlag, authFlag, keyFlag, chainFlag, feeFlag}
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "create a new keystore file",
			Action: keygenAction,
		},
		{
			Name:   "balance",
			Usage:  "show native balance and nonce",
			Flags:  []cli.Flag{addressFlag},
			Action: balanceAction,
		},
		{
			Name:  "create-token",
			Usage: "register a token with the key as issuer",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "symbol"},
				cli.StringFlag{Name: "name"},
				cli.UintFlag{Name: "decimals"},
				cli.Uint64Flag{Name: "supply"},
			},
			Action: createTokenAction,
		},
		{
			Name:   "approve",
			Usage:  "let an auction pull tokens for bids",
			Flags:  []cli.Flag{tokenFlag, auctionFlag, amountFlag},
			Action: approveAction,
		},
		{
			Name:  "create-auction",
			Usage: "open an auction with the key as seller",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "name"},
				cli.StringFlag{Name: "description"},
				cli.Uint64Flag{Name: "min-bid"},
				cli.Uint64Flag{Name: "increment", Value: 1},
				cli.StringFlag{Name: "start", Value: "+0s", Usage: "RFC3339 time or offset from now like +30s"},
				cli.StringFlag{Name: "end", Value: "+10m", Usage: "RFC3339 time or offset from now"},
				tokenFlag,
			},
			Action: createAuctionAction,
		},
		{
			Name:   "bid",
			Usage:  "add to your pledge in an auction",
			Flags:  []cli.Flag{auctionFlag, amountFlag},
			Action: bidAction,
		},
		auctionOp("cancel", "cancel an auction (seller only)", core.TxCancelAuction),
		auctionOp("finalize", "settle an auction after its end (seller only)", core.TxFinalizeAuction),
		auctionOp("end-early", "settle an auction before its end (seller only)", core.TxEndAuctionEarly),
		auctionOp("withdraw", "withdraw your pledge from a settled auction", core.TxWithdrawBid),
		{
			Name:   "info",
			Usage:  "show an auction",
			Flags:  []cli.Flag{auctionFlag},
			Action: queryAction("getAuction", "auction_id", "auction"),
		},
		{
			Name:   "bids",
			Usage:  "show every pledge in an auction",
			Flags:  []cli.Flag{auctionFlag},
			Action: queryAction("getBids", "auction_id", "auction"),
		},
		{
			Name:   "history",
			Usage:  "show the event history of an auction",
			Flags:  []cli.Flag{auctionFlag},
			Action: queryAction("getAuctionHistory", "auction_id", "auction"),
		},
		{
			Name:   "receipt",
			Usage:  "show the receipt of a transaction",
			Flags:  []cli.Flag{cli.StringFlag{Name: "tx"}},
			Action: queryAction("getReceipt", "tx_id", "tx"),
		},
		{
			Name:  "list",
			Usage: "list auction IDs",
			Flags: []cli.Flag{cli.BoolFlag{Name: "active", Usage: "only auctions accepting bids"}},
			Action: func(ctx *cli.Context) error {
				method := "listAuctions"
				if ctx.Bool("active") {
					method = "listActiveAuctions"
				}
				return printCall(ctx, method, nil)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client(ctx *cli.Context) *rpc.Client {
	return rpc.NewClient(ctx.GlobalString(rpcFlag.Name), ctx.GlobalString(authFlag.Name))
}

func loadWallet(ctx *cli.Context) (*wallet.Wallet, error) {
	priv, err := wallet.LoadKey(ctx.GlobalString(keyFlag.Name), os.Getenv("BID_PASSWORD"))
	if err != nil {
		return nil, err
	}
	return wallet.New(priv, ctx.GlobalString(chainFlag.Name)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCall(ctx *cli.Context, method string, params any) error {
	var out json.RawMessage
	if err := client(ctx).Call(context.Background(), method, params, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// submit builds a transaction with the key's next nonce and sends it.
func submit(ctx *cli.Context, build func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error)) (*core.Transaction, error) {
	w, err := loadWallet(ctx)
	if err != nil {
		return nil, err
	}
	c := client(ctx)
	nonce, err := c.Nonce(context.Background(), w.PubKey())
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	tx, err := build(w, nonce, ctx.GlobalUint64(feeFlag.Name))
	if err != nil {
		return nil, err
	}
	if _, err := c.SendTx(context.Background(), tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func requireFlag(ctx *cli.Context, name string) (string, error) {
	v := ctx.String(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

func keygenAction(ctx *cli.Context) error {
	path := ctx.GlobalString(keyFlag.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	w, err := wallet.Generate(ctx.GlobalString(chainFlag.Name))
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(path, os.Getenv("BID_PASSWORD"), w.PrivKey()); err != nil {
		return err
	}
	fmt.Println(w.PubKey())
	return nil
}

func balanceAction(ctx *cli.Context) error {
	addr := ctx.String(addressFlag.Name)
	if addr == "" {
		var err error
		if addr, err = wallet.ReadAddress(ctx.GlobalString(keyFlag.Name)); err != nil {
			return err
		}
	}
	return printCall(ctx, "getBalance", map[string]string{"address": addr})
}

func createTokenAction(ctx *cli.Context) error {
	symbol, err := requireFlag(ctx, "symbol")
	if err != nil {
		return err
	}
	tx, err := submit(ctx, func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error) {
		return w.CreateToken(core.CreateTokenPayload{
			Symbol:   symbol,
			Name:     ctx.String("name"),
			Decimals: uint8(ctx.Uint("decimals")),
			Supply:   ctx.Uint64("supply"),
		}, nonce, fee)
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"tx_id": tx.ID, "token_id": token.IDFor(tx.ID, symbol)})
}

func approveAction(ctx *cli.Context) error {
	tokenID, err := requireFlag(ctx, tokenFlag.Name)
	if err != nil {
		return err
	}
	auctionID, err := requireFlag(ctx, auctionFlag.Name)
	if err != nil {
		return err
	}
	tx, err := submit(ctx, func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error) {
		return w.Approve(tokenID, auctionID, ctx.Uint64(amountFlag.Name), nonce, fee)
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"tx_id": tx.ID})
}

// parseTime accepts RFC3339 or a +duration offset from now.
func parseTime(s string, now time.Time) (int64, error) {
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return 0, err
		}
		return now.Add(d).UnixNano(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixNano(), nil
}

func createAuctionAction(ctx *cli.Context) error {
	name, err := requireFlag(ctx, "name")
	if err != nil {
		return err
	}
	now := time.Now()
	start, err := parseTime(ctx.String("start"), now)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(ctx.String("end"), now)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	if end <= start {
		return errors.New("--end must be after --start")
	}
	asset := core.AuctionAsset{Kind: core.AssetNative}
	if t := ctx.String(tokenFlag.Name); t != "" {
		asset = core.AuctionAsset{Kind: core.AssetToken, TokenID: t}
	}
	tx, err := submit(ctx, func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error) {
		return w.CreateAuction(core.CreateAuctionPayload{
			Name:        name,
			Description: ctx.String("description"),
			MinBid:      ctx.Uint64("min-bid"),
			Increment:   ctx.Uint64("increment"),
			Start:       start,
			End:         end,
			Asset:       asset,
		}, nonce, fee)
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"tx_id": tx.ID, "auction_id": market.IDFor(tx.ID)})
}

func bidAction(ctx *cli.Context) error {
	auctionID, err := requireFlag(ctx, auctionFlag.Name)
	if err != nil {
		return err
	}
	amount := ctx.Uint64(amountFlag.Name)
	if amount == 0 {
		return errors.New("--amount must be > 0")
	}
	tx, err := submit(ctx, func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error) {
		return w.PlaceBid(auctionID, amount, nonce, fee)
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"tx_id": tx.ID})
}

func auctionOp(name, usage string, typ core.TxType) cli.Command {
	return cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{auctionFlag},
		Action: func(ctx *cli.Context) error {
			auctionID, err := requireFlag(ctx, auctionFlag.Name)
			if err != nil {
				return err
			}
			tx, err := submit(ctx, func(w *wallet.Wallet, nonce, fee uint64) (*core.Transaction, error) {
				return w.AuctionTx(typ, auctionID, nonce, fee)
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"tx_id": tx.ID})
		},
	}
}

func queryAction(method, param, flag string) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		v, err := requireFlag(ctx, flag)
		if err != nil {
			return err
		}
		return printCall(ctx, method, map[string]string{param: v})
	}
}
