// Package main provides the fiscal administration CLI.
//
// Usage:
//
//	fiscalctl token --name "Recepção" [--id u1] [--admin]
//	fiscalctl peer-hash <token>
//	fiscalctl retry-month 2026-02
//	fiscalctl set-next --cnpj 12345678000199 --model nfce --series 1 --next 42
//	fiscalctl import-pool [data/fiscal/pool.json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"hotelfiscal/internal/app"
	"hotelfiscal/internal/config"
	appctx "hotelfiscal/internal/core/context"
	"hotelfiscal/internal/core/numerator"
	"hotelfiscal/internal/domain/auth"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/infrastructure/storage/jsonfile"
	"hotelfiscal/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "token":
		issueToken()
	case "peer-hash":
		peerHash()
	case "retry-month":
		retryMonth(ctx)
	case "set-next":
		setNext(ctx)
	case "import-pool":
		importPool(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Hotel Fiscal CLI

Usage:
  fiscalctl <command> [options]

Commands:
  token        Issue an operator token for the admin API
  peer-hash    Print the bcrypt hash to configure as PEER_TOKEN_HASH
  retry-month  Re-emit failed entries of a month (YYYY-MM)
  set-next     Correct the next fiscal number of a sequence
  import-pool  Copy the JSON fiscal pool into PostgreSQL (STORE_DRIVER=postgres)
  help         Show this help

Environment Variables:
  JWT_SECRET             Signing key of the admin API (token)
  DATA_DIR, STORE_DRIVER Same as the server (retry-month, set-next)

Examples:
  fiscalctl token --name "Gerente" --admin
  fiscalctl peer-hash s3cret
  fiscalctl retry-month 2026-02
  fiscalctl set-next --cnpj 12345678000199 --model nfce --series 1 --next 42
  STORE_DRIVER=postgres fiscalctl import-pool data/fiscal/pool.json`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// flags parses "--key value" pairs and bare "--switch" flags.
func flags() map[string]string {
	out := map[string]string{}
	for i := 2; i < len(os.Args); i++ {
		arg := os.Args[i]
		if len(arg) < 3 || arg[:2] != "--" {
			continue
		}
		key := arg[2:]
		if i+1 < len(os.Args) && (len(os.Args[i+1]) < 2 || os.Args[i+1][:2] != "--") {
			out[key] = os.Args[i+1]
			i++
			continue
		}
		out[key] = "true"
	}
	return out
}

func issueToken() {
	cfg := loadConfig()
	if cfg.JWTSecret == "" {
		fmt.Println("Error: JWT_SECRET is not set")
		os.Exit(1)
	}
	f := flags()
	name := f["name"]
	if name == "" {
		fmt.Println("Error: --name is required")
		os.Exit(1)
	}
	user := appctx.UserContext{UserID: f["id"], Name: name}
	if user.UserID == "" {
		user.UserID = name
	}
	if f["admin"] == "true" {
		user.Roles = []string{auth.RoleFiscalAdmin}
	}

	token, expiresAt, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret)).GenerateAccessToken(user)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.In(fiscal.Location).Format("2006-01-02 15:04"))
}

func peerHash() {
	if len(os.Args) < 3 || os.Args[2] == "" {
		fmt.Println("Error: token is required")
		os.Exit(1)
	}
	hash, err := auth.HashPeerToken(os.Args[2])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func openApp(ctx context.Context) *app.App {
	cfg := loadConfig()
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: true})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func retryMonth(ctx context.Context) {
	if len(os.Args) < 3 {
		fmt.Println("Error: month is required (YYYY-MM)")
		os.Exit(1)
	}
	a := openApp(ctx)
	defer a.Close()

	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "fiscalctl", Name: "fiscalctl"})
	res, err := a.Emission.RetryMonth(ctx, os.Args[2])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}

func setNext(ctx context.Context) {
	f := flags()
	series, err := strconv.Atoi(f["series"])
	if err != nil {
		fmt.Println("Error: --series must be a number")
		os.Exit(1)
	}
	next, err := strconv.ParseInt(f["next"], 10, 64)
	if err != nil || next < 1 {
		fmt.Println("Error: --next must be a positive number")
		os.Exit(1)
	}
	key := numerator.Key{CNPJ: fiscal.Digits(f["cnpj"]), Model: numerator.Model(f["model"]), Series: series}
	if len(key.CNPJ) != 14 || (key.Model != numerator.ModelNFCe && key.Model != numerator.ModelNFSe) {
		fmt.Println("Error: --cnpj must have 14 digits and --model must be nfce or nfse")
		os.Exit(1)
	}

	a := openApp(ctx)
	defer a.Close()

	prev, _ := a.Sequences.Peek(ctx, key)
	if err := a.Sequences.SetNext(ctx, key, next); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: next number %d -> %d\n", key, prev, next)
}

type importer interface {
	Import(ctx context.Context, entries []*fiscal.Entry) (int, error)
}

func importPool(ctx context.Context) {
	a := openApp(ctx)
	defer a.Close()

	dst, ok := a.Repo.(importer)
	if !ok {
		fmt.Println("Error: import-pool requires STORE_DRIVER=postgres")
		os.Exit(1)
	}
	path := a.Config.PoolPath()
	if len(os.Args) > 2 {
		path = os.Args[2]
	}
	src, err := jsonfile.OpenFiscalStore(path, a.Log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	entries, err := src.Query(ctx, fiscal.Filter{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	n, err := dst.Import(ctx, entries)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("imported %d of %d entries from %s\n", n, len(entries), path)
}
