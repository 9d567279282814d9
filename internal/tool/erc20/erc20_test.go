package erc20

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentTx-ERC20/internal/delegation"
	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/observability/metrics"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/internal/web3"
)

const (
	recipient = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	token     = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
)

type stubCaller struct {
	mu     sync.Mutex
	calls  []web3.ContractCall
	hash   common.Hash
	err    error
	panic  bool
	onCall func()
}

func (s *stubCaller) ContractCall(_ context.Context, call web3.ContractCall) (common.Hash, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall()
	}
	if s.panic {
		panic("rpc client exploded")
	}
	if s.err != nil {
		return common.Hash{}, s.err
	}
	return s.hash, nil
}

func (s *stubCaller) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type commitRecorder struct {
	calls  []policy.CommitParams
	err    error
	panics bool
}

func (r *commitRecorder) commit(_ context.Context, params policy.CommitParams) error {
	r.calls = append(r.calls, params)
	if r.panics {
		panic("counter store gone")
	}
	return r.err
}

func validParams() Parameters {
	return Parameters{To: recipient, Amount: "1.5", TokenAddress: token}
}

func int64Ptr(v int64) *int64 { return &v }

func newDelegation(t *testing.T) delegation.Context {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := delegation.NewKeyedSigner(key)
	require.NoError(t, err)
	return signer.Context()
}

func sendLimitContext(rec *commitRecorder) policy.PoliciesContext {
	return policy.PoliciesContext{AllowedPolicies: map[string]policy.Capability{
		policy.SendCounterLimit: {
			Result: &policy.EvaluationResult{
				Allowed:           true,
				CurrentCount:      3,
				MaxSends:          10,
				RemainingSends:    7,
				TimeWindowSeconds: 3600,
			},
			Commit: rec.commit,
		},
	}}
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Parameters)
		code   xerrors.Code
	}{
		{"recipient", func(p *Parameters) { p.To = "not-an-address" }, CodeInvalidRecipient},
		{"recipient bad checksum", func(p *Parameters) { p.To = "0x2c7536E3605D9C16a7a3D7b1898e529396a65C23" }, CodeInvalidRecipient},
		{"amount zero", func(p *Parameters) { p.Amount = "0" }, CodeInvalidAmount},
		{"amount negative", func(p *Parameters) { p.Amount = "-1" }, CodeInvalidAmount},
		{"amount garbage", func(p *Parameters) { p.Amount = "1e3" }, CodeInvalidAmount},
		{"amount empty", func(p *Parameters) { p.Amount = "" }, CodeInvalidAmount},
		{"token", func(p *Parameters) { p.TokenAddress = "0x1234" }, CodeInvalidTokenAddress},
		{"rpc url", func(p *Parameters) { p.RPCURL = "not a url" }, CodeInvalidRPCURL},
		{"rpc url without host", func(p *Parameters) { p.RPCURL = "http://" }, CodeInvalidRPCURL},
		{"chain id negative", func(p *Parameters) { p.ChainID = int64Ptr(-5) }, CodeInvalidChainID},
		{"chain id zero", func(p *Parameters) { p.ChainID = int64Ptr(0) }, CodeInvalidChainID},
		{"amount too large", func(p *Parameters) { p.Amount = "1000001" }, CodeAmountTooLarge},
		{"amount just above ceiling", func(p *Parameters) { p.Amount = "1000000.000001" }, CodeAmountTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			err := Validate(p)
			require.Error(t, err)
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
		})
	}
}

func TestValidateAcceptsBoundaries(t *testing.T) {
	for _, amount := range []string{"1000000", "0.000001", ".5", "7.", "42"} {
		p := validParams()
		p.Amount = amount
		assert.NoError(t, Validate(p), amount)
	}

	p := validParams()
	p.To = "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23"
	p.RPCURL = "https://mainnet.base.org"
	p.ChainID = int64Ptr(8453)
	assert.NoError(t, Validate(p))

	// The 0x prefix is optional, as with ethers' isAddress.
	p = validParams()
	p.To = recipient[2:]
	p.TokenAddress = token[2:]
	assert.NoError(t, Validate(p))
	assert.True(t, IsValidAddress(recipient[2:]))
	assert.False(t, IsValidAddress("2c7536E3605D9C16a7a3D7b1898e529396a65C23"))
}

func TestValidateFirstViolationWins(t *testing.T) {
	p := Parameters{To: "bad", Amount: "0", TokenAddress: "bad", RPCURL: "not a url", ChainID: int64Ptr(-1)}
	assert.Equal(t, CodeInvalidRecipient, xerrors.CodeOf(Validate(p)))

	p.To = recipient
	assert.Equal(t, CodeInvalidAmount, xerrors.CodeOf(Validate(p)))

	p.Amount = "2000000"
	assert.Equal(t, CodeInvalidTokenAddress, xerrors.CodeOf(Validate(p)))

	p.TokenAddress = token
	assert.Equal(t, CodeInvalidRPCURL, xerrors.CodeOf(Validate(p)))

	p.RPCURL = ""
	assert.Equal(t, CodeInvalidChainID, xerrors.CodeOf(Validate(p)))

	p.ChainID = nil
	assert.Equal(t, CodeAmountTooLarge, xerrors.CodeOf(Validate(p)))
}

func TestPrecheckHasNoSideEffects(t *testing.T) {
	caller := &stubCaller{hash: common.HexToHash("0xaa")}
	tool := New(caller)
	rec := &commitRecorder{}

	result := tool.Precheck(context.Background(), validParams())
	assert.Equal(t, PrecheckResult{Success: true, AddressValid: true, AmountValid: true, TokenAddressValid: true}, result)

	failed := tool.Precheck(context.Background(), Parameters{To: "not-an-address", Amount: "1", TokenAddress: token})
	assert.False(t, failed.Success)
	assert.Equal(t, CodeInvalidRecipient, failed.ErrorCode)
	assert.Equal(t, "invalid recipient address format", failed.Error)

	assert.Zero(t, caller.count())
	assert.Empty(t, rec.calls)
}

func TestPrecheckScenarios(t *testing.T) {
	tool := New(&stubCaller{})
	cases := map[string]struct {
		mutate func(*Parameters)
		code   xerrors.Code
	}{
		"amount 1000001":    {func(p *Parameters) { p.Amount = "1000001" }, CodeAmountTooLarge},
		"amount 0":          {func(p *Parameters) { p.Amount = "0" }, CodeInvalidAmount},
		"to not an address": {func(p *Parameters) { p.To = "not-an-address" }, CodeInvalidRecipient},
		"rpc url not a url": {func(p *Parameters) { p.RPCURL = "not a url" }, CodeInvalidRPCURL},
		"chain id -5":       {func(p *Parameters) { p.ChainID = int64Ptr(-5) }, CodeInvalidChainID},
	}
	for name, tc := range cases {
		p := validParams()
		tc.mutate(&p)
		result := tool.Precheck(context.Background(), p)
		assert.False(t, result.Success, name)
		assert.Equal(t, tc.code, result.ErrorCode, name)
		assert.NotEmpty(t, result.Error, name)
	}
}

func TestExecuteSubmitsTransferAndCommits(t *testing.T) {
	hash := common.HexToHash("0x9b1c3f5e7a0d2468ace13579bdf02468ace13579bdf02468ace13579bdf02468")
	caller := &stubCaller{hash: hash}
	tool := New(caller)
	dc := newDelegation(t)
	rec := &commitRecorder{}

	p := validParams()
	p.ChainID = int64Ptr(8453)
	p.RPCURL = "https://mainnet.base.org"
	result := tool.Execute(context.Background(), p, dc, sendLimitContext(rec))

	require.True(t, result.Success, result.Error)
	assert.Equal(t, hash.Hex(), result.TxHash)
	assert.Equal(t, p.To, result.To)
	assert.Equal(t, p.Amount, result.Amount)
	assert.Equal(t, p.TokenAddress, result.TokenAddress)
	assert.Positive(t, result.Timestamp)

	require.Equal(t, 1, caller.count())
	call := caller.calls[0]
	assert.Equal(t, "transfer", call.Method)
	assert.Equal(t, common.HexToAddress(token), call.Contract)
	assert.Equal(t, common.HexToAddress(recipient), call.Args[0])
	assert.Equal(t, 0, big.NewInt(1_500_000).Cmp(call.Args[1].(*big.Int)))
	assert.Equal(t, "https://mainnet.base.org", call.RPCURL)
	assert.Equal(t, int64(8453), call.ChainID.Int64())
	assert.Equal(t, dc.PublicKey, call.PublicKey)
	want, err := dc.Address()
	require.NoError(t, err)
	assert.Equal(t, want, call.Caller)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, policy.CommitParams{CurrentCount: 3, MaxSends: 10, RemainingSends: 7, TimeWindowSeconds: 3600}, rec.calls[0])
}

func TestExecuteCommitOutlivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	caller := &stubCaller{hash: common.HexToHash("0x02"), onCall: cancel}

	var (
		committed bool
		commitErr error
	)
	pc := sendLimitContext(&commitRecorder{})
	capability := pc.AllowedPolicies[policy.SendCounterLimit]
	capability.Commit = func(ctx context.Context, _ policy.CommitParams) error {
		committed = true
		commitErr = ctx.Err()
		return nil
	}
	pc.AllowedPolicies[policy.SendCounterLimit] = capability

	result := New(caller).Execute(ctx, validParams(), newDelegation(t), pc)
	require.True(t, result.Success, result.Error)
	require.Error(t, ctx.Err())
	require.True(t, committed)
	assert.NoError(t, commitErr)
}

func TestExecuteTimestampIsMonotonic(t *testing.T) {
	tool := New(&stubCaller{hash: common.HexToHash("0x01")})
	dc := newDelegation(t)

	var last int64
	for i := 0; i < 20; i++ {
		result := tool.Execute(context.Background(), validParams(), dc, policy.PoliciesContext{})
		require.True(t, result.Success)
		assert.GreaterOrEqual(t, result.Timestamp, last)
		last = result.Timestamp
	}
}

func TestExecuteSubmissionFailureSkipsCommit(t *testing.T) {
	caller := &stubCaller{err: errors.New("insufficient funds for gas * price + value")}
	tool := New(caller)
	rec := &commitRecorder{}

	result := tool.Execute(context.Background(), validParams(), newDelegation(t), sendLimitContext(rec))

	assert.False(t, result.Success)
	assert.Equal(t, "insufficient funds for gas * price + value", result.Error)
	assert.Equal(t, CodeSubmissionFailed, result.ErrorCode)
	assert.Empty(t, result.TxHash)
	assert.Empty(t, rec.calls)
}

func TestExecuteRecoversCallerPanic(t *testing.T) {
	rec := &commitRecorder{}
	tool := New(&stubCaller{panic: true})

	result := tool.Execute(context.Background(), validParams(), newDelegation(t), sendLimitContext(rec))

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "rpc client exploded")
	assert.Empty(t, rec.calls)
}

func TestExecuteCommitFailureIsInvisible(t *testing.T) {
	hash := common.HexToHash("0xbeef")
	mem := &alerting.MemoryNotifier{}
	tool := New(&stubCaller{hash: hash}, WithAlerter(alerting.NewFanout(mem)))

	for _, rec := range []*commitRecorder{
		{err: errors.New("redis: connection refused")},
		{panics: true},
	} {
		result := tool.Execute(context.Background(), validParams(), newDelegation(t), sendLimitContext(rec))
		require.True(t, result.Success, result.Error)
		assert.Equal(t, hash.Hex(), result.TxHash)
		assert.Len(t, rec.calls, 1)
	}

	events := mem.Events()
	require.Len(t, events, 2)
	assert.Equal(t, CodeCommitFailed, events[0].Code)
	assert.Equal(t, "commit", events[0].Stage)
	assert.Equal(t, hash.Hex(), events[0].TxHash)
}

func TestExecuteWithoutPolicySkipsCommit(t *testing.T) {
	rec := &commitRecorder{}
	other := policy.PoliciesContext{AllowedPolicies: map[string]policy.Capability{
		"some-other-policy": {Result: &policy.EvaluationResult{}, Commit: rec.commit},
	}}
	tool := New(&stubCaller{hash: common.HexToHash("0x02")})

	for _, pc := range []policy.PoliciesContext{{}, other} {
		result := tool.Execute(context.Background(), validParams(), newDelegation(t), pc)
		assert.True(t, result.Success)
	}
	assert.Empty(t, rec.calls)
}

func TestExecuteRejectsInvalidParametersBeforeSubmission(t *testing.T) {
	caller := &stubCaller{hash: common.HexToHash("0x03")}
	tool := New(caller)

	p := validParams()
	p.Amount = "1000001"
	result := tool.Execute(context.Background(), p, newDelegation(t), policy.PoliciesContext{})

	assert.Equal(t, CodeAmountTooLarge, result.ErrorCode)
	assert.Zero(t, caller.count())
}

func TestExecuteDelegationUnavailable(t *testing.T) {
	caller := &stubCaller{hash: common.HexToHash("0x04")}
	tool := New(caller)

	result := tool.Execute(context.Background(), validParams(), delegation.Context{}, policy.PoliciesContext{})
	assert.Equal(t, CodeDelegationUnavailable, result.ErrorCode)
	assert.Equal(t, "delegator public key not available from delegation context", result.Error)

	dc := newDelegation(t)
	dc.PublicKey = "0x1234"
	result = tool.Execute(context.Background(), validParams(), dc, policy.PoliciesContext{})
	assert.Equal(t, CodeDelegationUnavailable, result.ErrorCode)
	assert.Zero(t, caller.count())
}

func TestExecuteAmountConversion(t *testing.T) {
	caller := &stubCaller{hash: common.HexToHash("0x05")}
	tool := New(caller)

	p := validParams()
	p.Amount = "1.1234567"
	result := tool.Execute(context.Background(), p, newDelegation(t), policy.PoliciesContext{})
	assert.Equal(t, CodeAmountConversionFailed, result.ErrorCode)
	assert.Zero(t, caller.count())

	wide := New(caller, WithDecimals(18))
	result = wide.Execute(context.Background(), p, newDelegation(t), policy.PoliciesContext{})
	require.True(t, result.Success)
	want, _ := new(big.Int).SetString("1123456700000000000", 10)
	assert.Equal(t, 0, want.Cmp(caller.calls[0].Args[1].(*big.Int)))
}

func TestCoordinatorCustomPolicyName(t *testing.T) {
	rec := &commitRecorder{}
	tool := New(&stubCaller{hash: common.HexToHash("0x06")}, WithPolicyName("daily-cap"))
	pc := policy.PoliciesContext{AllowedPolicies: map[string]policy.Capability{
		"daily-cap": {Result: &policy.EvaluationResult{CurrentCount: 1, MaxSends: 2, RemainingSends: 1, TimeWindowSeconds: 86400}, Commit: rec.commit},
	}}

	tool.Coordinator().Commit(context.Background(), pc)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, int64(86400), rec.calls[0].TimeWindowSeconds)
	assert.Equal(t, "daily-cap", tool.Coordinator().PolicyName())
}

func TestCoordinatorSkipsIncompleteCapability(t *testing.T) {
	before := metrics.StageCount(Name, "commit", "skipped")
	rec := &commitRecorder{}
	coordinator := NewCoordinator(policy.SendCounterLimit, nil)

	coordinator.Commit(context.Background(), policy.PoliciesContext{AllowedPolicies: map[string]policy.Capability{
		policy.SendCounterLimit: {Commit: rec.commit},
	}})
	coordinator.Commit(context.Background(), policy.PoliciesContext{AllowedPolicies: map[string]policy.Capability{
		policy.SendCounterLimit: {Result: &policy.EvaluationResult{}},
	}})

	assert.Empty(t, rec.calls)
	assert.Equal(t, before+2, metrics.StageCount(Name, "commit", "skipped"))
}

func TestToBaseUnits(t *testing.T) {
	cases := map[string]string{
		"1":        "1000000",
		"1.5":      "1500000",
		".25":      "250000",
		"3.":       "3000000",
		"0.000001": "1",
		"1000000":  "1000000000000",
	}
	for amount, want := range cases {
		units, err := ToBaseUnits(amount, 6)
		require.NoError(t, err, amount)
		assert.Equal(t, want, units.String(), amount)
		assert.Equal(t, 0, units.Cmp(mustUnits(t, FormatBaseUnits(units, 6))), amount)
	}

	_, err := ToBaseUnits("0.0000001", 6)
	assert.Equal(t, CodeAmountConversionFailed, xerrors.CodeOf(err))
	_, err = ToBaseUnits("abc", 6)
	assert.Equal(t, CodeInvalidAmount, xerrors.CodeOf(err))
	assert.Equal(t, "1.5", FormatBaseUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", FormatBaseUnits(big.NewInt(1), 6))
}

func mustUnits(t *testing.T, amount string) *big.Int {
	t.Helper()
	units, err := ToBaseUnits(amount, 6)
	require.NoError(t, err)
	return units
}

func TestDecodeParameters(t *testing.T) {
	p, err := DecodeParameters([]byte(`{"to":"` + recipient + `","amount":"2","tokenAddress":"` + token + `","chainId":-5}`))
	require.NoError(t, err)
	require.NotNil(t, p.ChainID)
	assert.Equal(t, int64(-5), *p.ChainID)
	assert.Equal(t, CodeInvalidChainID, xerrors.CodeOf(Validate(p)))

	for _, raw := range []string{
		`{"to":"` + recipient + `","amount":2,"tokenAddress":"` + token + `"}`,
		`{"to":"` + recipient + `","tokenAddress":"` + token + `"}`,
		`{"to":"` + recipient + `","amount":"2","tokenAddress":"` + token + `","extra":true}`,
		`{"to":"` + recipient + `","amount":"2","tokenAddress":"` + token + `","chainId":1.5}`,
		`not json`,
	} {
		_, err := DecodeParameters([]byte(raw))
		assert.Equal(t, CodeInvalidParameters, xerrors.CodeOf(err), raw)
	}
}

func TestSupportedPolicies(t *testing.T) {
	bindings := SupportedPolicies()
	require.Len(t, bindings, 1)
	assert.Equal(t, policy.SendCounterLimit, bindings[0].PolicyName)

	inputs := bindings[0].Inputs(validParams().Map())
	assert.Equal(t, map[string]any{"to": recipient, "amount": "1.5"}, inputs)
}
