package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	rpcFlag = cli.StringFlag{
		Name:   "rpc",
		Value:  "http://127.0.0.1:8545",
		Usage:  "node JSON-RPC endpoint",
		EnvVar: "BID_RPC",
	}
	authFlag = cli.StringFlag{
		Name:   "auth",
		Usage:  "bearer token for the RPC endpoint",
		EnvVar: "BID_RPC_TOKEN",
	}
	keyFlag = cli.StringFlag{
		Name:  "key",
		Value: "wallet.key",
		Usage: "keystore file (password from BID_PASSWORD)",
	}
	chainFlag = cli.StringFlag{
		Name:  "chain-id",
		Value: "bidchain-dev",
		Usage: "chain ID transactions are signed for",
	}
	feeFlag = cli.Uint64Flag{
		Name:  "fee",
		Usage: "fee paid per transaction",
	}
	auctionFlag = cli.StringFlag{
		Name:  "auction",
		Usage: "auction ID",
	}
	amountFlag = cli.Uint64Flag{
		Name:  "amount",
		Usage: "amount in base units",
	}
	tokenFlag = cli.StringFlag{
		Name:  "token",
		Usage: "token ID; empty means the native currency",
	}
	addressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "account address; defaults to the key's",
	}
)
