package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/service"
	"subnet-delegation-service/internal/session"
	"subnet-delegation-service/internal/transport"

	"github.com/shopspring/decimal"
)

// app carries everything a command needs: the connected session, the
// chain and the delegation service.
type app struct {
	sess   *session.Session
	chain  transport.ChainClient
	api    transport.DelegationAPI
	out    io.Writer
	logger *slog.Logger
}

type stakeDirection int

const (
	stakeAdd stakeDirection = iota
	stakeRemove
)

func (d stakeDirection) String() string {
	if d == stakeRemove {
		return "remove"
	}
	return "add"
}

func (a *app) balance(ctx context.Context) error {
	account, err := a.sess.Account()
	if err != nil {
		return err
	}
	b, err := a.sess.Balance(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "account:   %s\n", account)
	fmt.Fprintf(a.out, "available: %s TAO\n", model.FormatTao(b.Available))
	fmt.Fprintf(a.out, "staked:    %s TAO\n", model.FormatTao(b.Staked))

	price, err := a.api.FetchPrice(ctx)
	if err != nil {
		a.logger.Warn("price unavailable", "error", err)
		return nil
	}
	total := model.RaoDecimal(b.Available).Add(model.RaoDecimal(b.Staked)).Shift(-model.TokenDecimals)
	fmt.Fprintf(a.out, "value:     $%s (at $%.2f/TAO)\n", total.Mul(decimal.NewFromFloat(price)).StringFixed(2), price)
	return nil
}

func (a *app) price(ctx context.Context) error {
	price, err := a.api.FetchPrice(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "TAO/USD: $%.2f\n", price)
	return nil
}

// stake submits the extrinsic, then mirrors the stake the chain reports
// afterwards into the service.
func (a *app) stake(ctx context.Context, dir stakeDirection, amountTao string) error {
	account, err := a.sess.Account()
	if err != nil {
		return err
	}
	amount, err := model.ParseTao(amountTao)
	if err != nil {
		return err
	}

	switch dir {
	case stakeAdd:
		b, err := a.sess.RefreshBalance(ctx)
		if err != nil {
			return err
		}
		if amount > b.Available {
			return fmt.Errorf("insufficient balance: %s TAO available", model.FormatTao(b.Available))
		}
	case stakeRemove:
		current, err := a.chain.FetchStake(ctx, account)
		if err != nil {
			return fmt.Errorf("fetch stake: %w", err)
		}
		if current == nil || amount > *current {
			var staked uint64
			if current != nil {
				staked = *current
			}
			return fmt.Errorf("insufficient stake: %s TAO staked", model.FormatTao(staked))
		}
	}

	var txHash string
	if dir == stakeAdd {
		txHash, err = a.chain.AddStake(ctx, account, amount)
	} else {
		txHash, err = a.chain.RemoveStake(ctx, account, amount)
	}
	a.sess.Invalidate()
	if err != nil {
		return fmt.Errorf("%s stake failed: %w", dir, err)
	}
	a.logger.Info("stake transaction included", "direction", dir.String(), "amount", amount, "tx_hash", txHash)

	stake, err := a.chain.FetchStake(ctx, account)
	if err != nil {
		return fmt.Errorf("transaction %s included but stake could not be read: %w", txHash, err)
	}
	var recorded uint64
	if stake != nil {
		recorded = *stake
	}
	if err := a.api.RecordStake(ctx, account, recorded, &txHash); err != nil {
		return fmt.Errorf("transaction %s included but stake could not be recorded: %w", txHash, err)
	}

	fmt.Fprintf(a.out, "%s %s TAO: tx %s\n", dir, model.FormatTao(amount), txHash)
	fmt.Fprintf(a.out, "stake now %s TAO\n", model.FormatTao(recorded))
	return nil
}

// parseWeightArgs reads "subnet=weight" pairs.
func parseWeightArgs(args []string) ([]model.SubnetWeight, error) {
	weights := make([]model.SubnetWeight, 0, len(args))
	for _, arg := range args {
		subnet, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected subnet=weight, got %q", arg)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for subnet %s: %w", subnet, err)
		}
		weights = append(weights, model.SubnetWeight{Subnet: strings.TrimSpace(subnet), Weight: w})
	}
	return weights, nil
}

func (a *app) submitWeights(ctx context.Context, args []string) error {
	account, err := a.sess.Account()
	if err != nil {
		return err
	}
	weights, err := parseWeightArgs(args)
	if err != nil {
		return err
	}
	if _, err := service.ValidateWeights(account, weights); err != nil {
		return err
	}
	if err := a.api.SubmitWeights(ctx, account, weights); err != nil {
		return fmt.Errorf("submit weights: %w", err)
	}
	fmt.Fprintf(a.out, "weights saved for %s\n", account)
	return nil
}

func (a *app) showWeights(ctx context.Context, account string) error {
	if account == "" {
		var err error
		if account, err = a.sess.Account(); err != nil {
			return err
		}
	}
	weights, err := a.api.GetDelegateSubnetWeights(ctx, account)
	if err != nil {
		return err
	}
	if len(weights) == 0 {
		fmt.Fprintf(a.out, "%s has not set weights\n", account)
		return nil
	}
	printWeights(a.out, weights)
	return nil
}

func (a *app) subnets(ctx context.Context) error {
	weights, err := a.api.GetSubnetWeights(ctx)
	if err != nil {
		return err
	}
	unvoted, err := a.api.GetStakeWithNoWeights(ctx)
	if err != nil {
		return err
	}
	if len(weights) == 0 {
		fmt.Fprintln(a.out, "no weighted stake yet")
	} else {
		printWeights(a.out, weights)
	}
	fmt.Fprintf(a.out, "stake without weights: %s TAO\n", model.FormatTao(unvoted))
	return nil
}

func (a *app) delegates(ctx context.Context) error {
	delegations, err := a.api.GetAllDelegateWeightsAndStakes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%-50s %22s  %s\n", "ACCOUNT", "STAKE (TAO)", "WEIGHTS")
	for _, d := range delegations {
		stake := "-"
		if d.Stake != nil {
			stake = model.FormatTao(*d.Stake)
		}
		var parts []string
		for _, w := range d.Weights.List() {
			parts = append(parts, fmt.Sprintf("%s=%g", w.Subnet, w.Weight))
		}
		weights := "-"
		if len(parts) > 0 {
			weights = strings.Join(parts, " ")
		}
		fmt.Fprintf(a.out, "%-50s %22s  %s\n", d.Account, stake, weights)
	}
	return nil
}

func printWeights(w io.Writer, weights []model.SubnetWeight) {
	for _, sw := range weights {
		fmt.Fprintf(w, "subnet %-10s %8.4f%%\n", sw.Subnet, sw.Weight)
	}
}

var errNoAccount = errors.New("no account: set DELEGATOR_SEED or pass --account")
