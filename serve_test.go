package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"subnet-delegation-service/internal/config"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServe_InvalidChainConfigFailsBeforeListening(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := config.DefaultConfig()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "delegations.db")
	cfg.ListenAddr = freeAddr(t)
	cfg.ValidatorAddress = ""

	cmd := &cobra.Command{}
	cmd.SetContext(config.WithContext(context.Background(), cfg))

	err := serveRunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATOR_ADDRESS")

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	require.NoError(t, err, "the server must not have been started")
	require.NoError(t, ln.Close())
}
