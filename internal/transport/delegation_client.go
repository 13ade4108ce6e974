package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"subnet-delegation-service/internal/model"
)

// APIError is a non-2xx answer from the delegation service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// DelegationAPI is the client view of the delegation service.
type DelegationAPI interface {
	SubmitWeights(ctx context.Context, account string, weights []model.SubnetWeight) error
	GetSubnetWeights(ctx context.Context) ([]model.SubnetWeight, error)
	GetStakeWithNoWeights(ctx context.Context) (uint64, error)
	GetDelegateSubnetWeights(ctx context.Context, account string) ([]model.SubnetWeight, error)
	RecordStake(ctx context.Context, account string, stake uint64, txHash *string) error
	GetDelegateStake(ctx context.Context, account string) (*uint64, error)
	GetAllDelegateWeightsAndStakes(ctx context.Context) ([]model.Delegation, error)
	FetchPrice(ctx context.Context) (float64, error)
}

type weightsPayload struct {
	Account string               `json:"account,omitempty"`
	Weights []model.SubnetWeight `json:"weights,omitempty"`
	Data    []model.SubnetWeight `json:"data,omitempty"`
}

type stakePayload struct {
	Account string  `json:"account,omitempty"`
	Stake   *string `json:"stake"`
	TxHash  *string `json:"tx_hash,omitempty"`
}

type delegateResponse struct {
	Account   string               `json:"account"`
	Stake     *string              `json:"stake"`
	Weights   []model.SubnetWeight `json:"weights"`
	TxHash    *string              `json:"tx_hash"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type DelegationClient struct {
	apiURL     string
	httpClient *http.Client
}

func NewDelegationClient(apiURL string) *DelegationClient {
	return &DelegationClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *DelegationClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *DelegationClient) SubmitWeights(ctx context.Context, account string, weights []model.SubnetWeight) error {
	return c.do(ctx, http.MethodPost, "/weights", weightsPayload{Account: account, Weights: weights}, nil)
}

func (c *DelegationClient) GetSubnetWeights(ctx context.Context) ([]model.SubnetWeight, error) {
	var resp weightsPayload
	if err := c.do(ctx, http.MethodGet, "/weights/subnets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *DelegationClient) GetStakeWithNoWeights(ctx context.Context) (uint64, error) {
	var resp stakePayload
	if err := c.do(ctx, http.MethodGet, "/weights/unvoted-stake", nil, &resp); err != nil {
		return 0, err
	}
	stake, err := parseStake(resp.Stake)
	if err != nil || stake == nil {
		return 0, err
	}
	return *stake, nil
}

func (c *DelegationClient) GetDelegateSubnetWeights(ctx context.Context, account string) ([]model.SubnetWeight, error) {
	var resp weightsPayload
	if err := c.do(ctx, http.MethodGet, "/weights/"+url.PathEscape(account), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *DelegationClient) RecordStake(ctx context.Context, account string, stake uint64, txHash *string) error {
	amount := strconv.FormatUint(stake, 10)
	return c.do(ctx, http.MethodPost, "/stake", stakePayload{Account: account, Stake: &amount, TxHash: txHash}, nil)
}

func (c *DelegationClient) GetDelegateStake(ctx context.Context, account string) (*uint64, error) {
	var resp stakePayload
	if err := c.do(ctx, http.MethodGet, "/stake/"+url.PathEscape(account), nil, &resp); err != nil {
		return nil, err
	}
	return parseStake(resp.Stake)
}

func (c *DelegationClient) GetAllDelegateWeightsAndStakes(ctx context.Context) ([]model.Delegation, error) {
	var resp struct {
		Data []delegateResponse `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/delegates", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]model.Delegation, 0, len(resp.Data))
	for _, d := range resp.Data {
		stake, err := parseStake(d.Stake)
		if err != nil {
			return nil, err
		}
		var weights model.Weights
		if d.Weights != nil {
			weights = make(model.Weights, len(d.Weights))
			for _, w := range d.Weights {
				weights[w.Subnet] = w.Weight
			}
		}
		out = append(out, model.Delegation{
			Account:   d.Account,
			Stake:     stake,
			Weights:   weights,
			TxHash:    d.TxHash,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return out, nil
}

// FetchPrice reads the TAO/USD price through the service's price proxy.
func (c *DelegationClient) FetchPrice(ctx context.Context) (float64, error) {
	var resp struct {
		Price float64 `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/price", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Price, nil
}

func parseStake(s *string) (*uint64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseUint(*s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stake %q: %w", *s, err)
	}
	return &v, nil
}

var (
	_ DelegationAPI = (*DelegationClient)(nil)
	_ PriceFeed     = (*DelegationClient)(nil)
)
