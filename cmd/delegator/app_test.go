package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"subnet-delegation-service/internal/api"
	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/service"
	"subnet-delegation-service/internal/session"
	"subnet-delegation-service/internal/transport"
	"subnet-delegation-service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXNzaZzkMx9pJp"

const tao = uint64(1_000_000_000)

func u64(v uint64) *uint64 { return &v }

type fixture struct {
	app   *app
	chain *mocks.MockChainClient
	repo  *mocks.MockDelegationRepository
	out   *bytes.Buffer
}

func newFixture(t *testing.T, connect bool) *fixture {
	t.Helper()
	repo := mocks.NewMockDelegationRepository()
	svc := service.NewDelegationService(repo, service.Options{})
	server := httptest.NewServer(api.NewApiServer(svc, api.WithPriceFeed(&mocks.MockPriceFeed{Price: 400})).Handler())
	t.Cleanup(server.Close)

	chain := &mocks.MockChainClient{Stakes: map[string]*uint64{}, TxHash: "0xtx"}
	sess := session.New(chain)
	if connect {
		require.NoError(t, sess.Connect(alice))
	}
	out := &bytes.Buffer{}
	return &fixture{
		app: &app{
			sess:   sess,
			chain:  chain,
			api:    transport.NewDelegationClient(server.URL),
			out:    out,
			logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		chain: chain,
		repo:  repo,
		out:   out,
	}
}

func TestStakeAdd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.chain.Balance = model.Balance{Available: 10 * tao}
	f.chain.Stakes[alice] = u64(10 * tao)

	require.NoError(t, f.app.stake(ctx, stakeAdd, "5"))

	assert.Equal(t, []uint64{5 * tao}, f.chain.Added)
	row := f.repo.Stakes[alice]
	require.NotNil(t, row.Stake)
	assert.Equal(t, 15*tao, *row.Stake)
	assert.Equal(t, "0xtx", *row.TxHash)
	assert.Contains(t, f.out.String(), "add 5.000000000 TAO: tx 0xtx")
	assert.Contains(t, f.out.String(), "stake now 15.000000000 TAO")
}

func TestStakeRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.chain.Stakes[alice] = u64(3 * tao)

	require.NoError(t, f.app.stake(ctx, stakeRemove, "1.5"))

	assert.Equal(t, []uint64{1_500_000_000}, f.chain.Removed)
	assert.Equal(t, uint64(1_500_000_000), *f.repo.Stakes[alice].Stake)
}

func TestStake_NothingLeftIsRecordedAsNoStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.chain.Stakes[alice] = u64(tao)

	require.NoError(t, f.app.stake(ctx, stakeRemove, "1"))

	row, ok := f.repo.Stakes[alice]
	require.True(t, ok, "a full unstake keeps the record")
	assert.Nil(t, row.Stake)
	assert.Equal(t, "0xtx", *row.TxHash)
	assert.Contains(t, f.out.String(), "stake now 0.000000000 TAO")

	stake, err := f.app.api.GetDelegateStake(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, stake, "matches what the stake refresher stores for the same state")
}

func TestStake_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		connect bool
		dir     stakeDirection
		amount  string
		setup   func(f *fixture)
		wantErr string
	}{
		{name: "not connected", dir: stakeAdd, amount: "1", wantErr: "no account connected"},
		{name: "invalid amount", connect: true, dir: stakeAdd, amount: "abc", wantErr: "invalid amount"},
		{name: "zero amount", connect: true, dir: stakeAdd, amount: "0", wantErr: "must be positive"},
		{name: "too many decimals", connect: true, dir: stakeAdd, amount: "0.0000000001", wantErr: "more than 9 decimals"},
		{
			name: "insufficient balance", connect: true, dir: stakeAdd, amount: "20",
			setup:   func(f *fixture) { f.chain.Balance = model.Balance{Available: 10 * tao} },
			wantErr: "insufficient balance: 10.000000000 TAO available",
		},
		{
			name: "insufficient stake", connect: true, dir: stakeRemove, amount: "2",
			setup:   func(f *fixture) { f.chain.Stakes[alice] = u64(tao) },
			wantErr: "insufficient stake: 1.000000000 TAO staked",
		},
		{
			name: "nothing staked", connect: true, dir: stakeRemove, amount: "1",
			wantErr: "insufficient stake: 0.000000000 TAO staked",
		},
		{
			name: "transaction failed", connect: true, dir: stakeAdd, amount: "1",
			setup: func(f *fixture) {
				f.chain.Balance = model.Balance{Available: 10 * tao}
				f.chain.TxErr = errors.New("failed after 4 attempt(s): extrinsic dropped")
			},
			wantErr: "add stake failed: failed after 4 attempt(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.connect)
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.app.stake(context.Background(), tt.dir, tt.amount)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, f.repo.Stakes, "nothing is recorded when the stake is rejected")
		})
	}
}

func TestParseWeightArgs(t *testing.T) {
	got, err := parseWeightArgs([]string{"1=60", " 2 = 40 "})
	require.NoError(t, err)
	assert.Equal(t, []model.SubnetWeight{{Subnet: "1", Weight: 60}, {Subnet: "2", Weight: 40}}, got)

	_, err = parseWeightArgs([]string{"1:60"})
	assert.ErrorContains(t, err, "expected subnet=weight")

	_, err = parseWeightArgs([]string{"1=sixty"})
	assert.ErrorContains(t, err, "invalid weight for subnet 1")
}

func TestSubmitWeights(t *testing.T) {
	ctx := context.Background()

	t.Run("saved", func(t *testing.T) {
		f := newFixture(t, true)

		require.NoError(t, f.app.submitWeights(ctx, []string{"1=33.3", "2=33.3", "3=33.4"}))

		assert.Equal(t, model.Weights{"1": 33.3, "2": 33.3, "3": 33.4}, f.repo.Weights[alice].Weights.Data())
		assert.Contains(t, f.out.String(), "weights saved for "+alice)
	})

	t.Run("validated locally", func(t *testing.T) {
		f := newFixture(t, true)

		err := f.app.submitWeights(ctx, []string{"1=60", "2=30"})

		var verr *service.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Empty(t, f.repo.Weights)
	})
}

func TestShowWeights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	require.NoError(t, f.app.showWeights(ctx, ""))
	assert.Contains(t, f.out.String(), alice+" has not set weights")

	require.NoError(t, f.repo.SaveWeights(ctx, "other", model.Weights{"7": 100}))
	f.out.Reset()
	require.NoError(t, f.app.showWeights(ctx, "other"))
	assert.Contains(t, f.out.String(), "subnet 7")
	assert.Contains(t, f.out.String(), "100.0000%")
}

func TestSubnetsAndDelegates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	require.NoError(t, f.repo.SaveStake(ctx, "d1", 100*tao, nil))
	require.NoError(t, f.repo.SaveWeights(ctx, "d1", model.Weights{"1": 100}))
	require.NoError(t, f.repo.SaveStake(ctx, "silent", 50*tao, nil))

	require.NoError(t, f.app.subnets(ctx))
	assert.Contains(t, f.out.String(), "subnet 1")
	assert.Contains(t, f.out.String(), "stake without weights: 50.000000000 TAO")

	f.out.Reset()
	require.NoError(t, f.app.delegates(ctx))
	assert.Contains(t, f.out.String(), "d1")
	assert.Contains(t, f.out.String(), "100.000000000")
	assert.Contains(t, f.out.String(), "1=100")
}

func TestBalance(t *testing.T) {
	f := newFixture(t, true)
	f.chain.Balance = model.Balance{Available: 2 * tao, Staked: tao / 2}

	require.NoError(t, f.app.balance(context.Background()))

	out := f.out.String()
	assert.Contains(t, out, "available: 2.000000000 TAO")
	assert.Contains(t, out, "staked:    0.500000000 TAO")
	assert.Contains(t, out, "value:     $1000.00 (at $400.00/TAO)")
}

func TestBalance_CachedUntilStakeChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.chain.Balance = model.Balance{Available: 2 * tao}
	require.NoError(t, f.app.balance(ctx))

	f.chain.Balance = model.Balance{Available: tao, Staked: tao}
	f.out.Reset()
	require.NoError(t, f.app.balance(ctx))
	assert.Contains(t, f.out.String(), "available: 2.000000000 TAO", "served from the session cache")

	require.NoError(t, f.app.stake(ctx, stakeAdd, "0.5"))
	f.out.Reset()
	require.NoError(t, f.app.balance(ctx))
	assert.Contains(t, f.out.String(), "available: 1.000000000 TAO", "a stake transaction invalidates the cache")
}

func TestPrice(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.app.price(context.Background()))
	assert.Equal(t, "TAO/USD: $400.00\n", f.out.String())
}
