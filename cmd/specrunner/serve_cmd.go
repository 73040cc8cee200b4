package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/ledger"
	"github.com/hansl/specification/pkg/protocol"
)

type serveOptions struct {
	addr      string
	symbols   []string
	faucetKey string
	serverKey string
	mint      string
	version   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory ledger for local scenario runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handler, err := opts.devnet()
			if err != nil {
				return runtimeErr(err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return runtimeErr(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ledger listening on http://%s\n", ln.Addr())
			if err := serve(ctx, ln, handler); err != nil {
				return runtimeErr(err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:8000", "listen address")
	f.StringSliceVar(&opts.symbols, "symbol", []string{"MFX"}, "symbol names to create")
	f.StringVar(&opts.faucetKey, "faucet-key", "", "PEM file of the identity credited with --mint of every symbol (required)")
	f.StringVar(&opts.serverKey, "server-key", "", "PEM file of the server identity (default: generated)")
	f.StringVar(&opts.mint, "mint", "1000000000", "initial faucet balance per symbol")
	f.StringVar(&opts.version, "server-version", "1.0.0", "version reported by the status method")
	return cmd
}

// devnet builds the ledger handler described by the options.
func (o *serveOptions) devnet() (http.Handler, error) {
	if o.faucetKey == "" {
		return nil, errors.New("--faucet-key is required")
	}
	faucet, err := identity.LoadPEM(o.faucetKey)
	if err != nil {
		return nil, fmt.Errorf("faucet key: %w", err)
	}

	var server *identity.Ed25519
	if o.serverKey != "" {
		server, err = identity.LoadPEM(o.serverKey)
	} else {
		server, err = identity.NewEd25519()
	}
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}

	amount, ok := new(big.Int).SetString(o.mint, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid --mint %q", o.mint)
	}
	if len(o.symbols) == 0 {
		return nil, errors.New("at least one --symbol is required")
	}

	symbols := make(map[string]address.Address, len(o.symbols))
	for _, name := range o.symbols {
		symbols[name] = ledger.SymbolAddress(name)
	}
	mem := ledger.NewMemory(symbols).WithVersion(o.version)
	for _, sym := range symbols {
		mem.Mint(faucet.Address(), sym, amount)
	}

	slog.Info("devnet ledger ready",
		"server", server.Address().String(),
		"faucet", faucet.Address().String(),
		"symbols", o.symbols,
	)
	return protocol.NewHandler(server, mem.Handle), nil
}

// serve runs an HTTP server on ln until ctx is done.
func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
