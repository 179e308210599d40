package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/config"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/reader"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []domain.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func viewWithDebt(debt string) *domain.View {
	v := domain.NewView(common.HexToAddress("0x1"), 1, domain.FieldUnknown)
	v.Price = domain.Ready(units.ToBaseUnits("65000", units.PricePrecision), time.Now())
	v.Loans = domain.Ready([]domain.Loan{{
		ID:              big.NewInt(3),
		Collateral:      units.ToBaseUnits("1", units.VaultPrecision),
		Principal:       units.ToBaseUnits(debt, units.StablePrecision),
		AccruedInterest: units.Zero(units.StablePrecision),
		Active:          domain.Yes,
	}}, time.Now())
	return v
}

func TestHealthAlertsOnlyOnWorsening(t *testing.T) {
	n := &recordingNotifier{}
	h := newHealthAlerts(n, domain.DefaultHealthThresholds(), discardLogger())
	ctx := context.Background()

	h.check(ctx, viewWithDebt("30000")) // healthy
	assert.Empty(t, n.got)

	h.check(ctx, viewWithDebt("50000")) // at risk
	require.Len(t, n.got, 1)
	assert.Equal(t, "Loan #3 is at risk", n.got[0].Title)
	assert.Equal(t, domain.SeverityWarning, n.got[0].Severity)

	h.check(ctx, viewWithDebt("50000")) // unchanged
	assert.Len(t, n.got, 1)

	h.check(ctx, viewWithDebt("54167")) // liquidatable
	require.Len(t, n.got, 2)
	assert.Equal(t, "Loan #3 is liquidatable", n.got[1].Title)
}

func TestChainConfigSkipsBadAddresses(t *testing.T) {
	cfg := config.Defaults()
	cfg.Contracts.Testnet.Vault = "0x0000000000000000000000000000000000000003"
	cfg.Contracts.Testnet.Stablecoin = "not-an-address"

	cc := chainConfig(&cfg)
	assert.True(t, cc.TestNetwork)
	assert.Equal(t, common.HexToAddress("0x3"), cc.Testnet.Contracts[chain.Vault])
	_, ok := cc.Testnet.Contracts[chain.Stablecoin]
	assert.False(t, ok)
}

func TestHealthThresholdsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Orchestrator.HealthyThreshold = "200"
	th, err := healthThresholds(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "200", th.Healthy.String())
	assert.Equal(t, "120", th.Liquidation.String())

	cfg.Orchestrator.LiquidationThreshold = "x"
	_, err = healthThresholds(&cfg)
	assert.Error(t, err)
}

func TestHealthAlertsLogsDeliveryFailure(t *testing.T) {
	var buf bytes.Buffer
	n := &recordingNotifier{err: errors.New("telegram down")}
	h := newHealthAlerts(n, domain.DefaultHealthThresholds(), slog.New(slog.NewTextHandler(&buf, nil)))

	h.check(context.Background(), viewWithDebt("50000"))
	require.Len(t, n.got, 1)
	assert.Contains(t, buf.String(), "loan health notification failed")
	assert.Contains(t, buf.String(), "telegram down")
}

type stubLoader struct {
	mu    sync.Mutex
	loads []reader.Mode
}

func (s *stubLoader) LoadView(_ context.Context, owner common.Address, mode reader.Mode) (*domain.View, error) {
	s.mu.Lock()
	s.loads = append(s.loads, mode)
	s.mu.Unlock()
	v := domain.NewView(owner, 1, domain.FieldUnknown)
	v.Vault = domain.Ready(domain.VaultPosition{Active: domain.Yes}, time.Now())
	return v, nil
}

func (s *stubLoader) DisconnectedView(owner common.Address) *domain.View {
	return domain.NewView(owner, 1, domain.FieldUnknown)
}

func (s *stubLoader) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loads)
}

type stubSession struct {
	mu        sync.Mutex
	key       bool
	connected bool
}

func (s *stubSession) HasKey() bool { return s.key }

func (s *stubSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubSession) set(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func newTestApp(interval time.Duration) *App {
	cfg := config.Defaults()
	cfg.Reader.RefreshInterval.Duration = interval
	return New(&cfg, discardLogger(), WithOutput(io.Discard))
}

func TestWatchLoopStopsLoadingWhileDisconnected(t *testing.T) {
	a := newTestApp(5 * time.Millisecond)
	loader := &stubLoader{}
	sess := &stubSession{key: true, connected: true}
	addr := common.HexToAddress("0xf1")

	var (
		mu    sync.Mutex
		views []*domain.View
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.watchLoop(ctx, loader, sess, addr, func(v *domain.View) {
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool { return loader.count() >= 2 }, time.Second, time.Millisecond)

	sess.set(false)
	mu.Lock()
	mark := len(views)
	mu.Unlock()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(views) >= mark+3
	}, time.Second, time.Millisecond)
	loadsWhileDisconnected := loader.count()

	mu.Lock()
	for _, v := range views[mark+1:] {
		assert.Equal(t, domain.FieldUnknown, v.Vault.State)
		assert.Equal(t, domain.FieldUnknown, v.Loans.State)
	}
	mu.Unlock()
	// At most one load was already in progress when the session dropped.
	assert.LessOrEqual(t, loadsWhileDisconnected, mark+1)

	sess.set(true)
	require.Eventually(t, func() bool { return loader.count() > loadsWhileDisconnected }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	loader.mu.Lock()
	defer loader.mu.Unlock()
	assert.Equal(t, reader.ModeInitial, loader.loads[0])
	assert.Equal(t, reader.ModeBackground, loader.loads[1])
	assert.Equal(t, reader.ModeInitial, loader.loads[loadsWhileDisconnected])
}

func TestWatchLoopKeepsLoadingWatchOnly(t *testing.T) {
	a := newTestApp(5 * time.Millisecond)
	loader := &stubLoader{}
	sess := &stubSession{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.watchLoop(ctx, loader, sess, common.HexToAddress("0xf1"), func(*domain.View) {}) }()
	require.Eventually(t, func() bool { return loader.count() >= 3 }, time.Second, time.Millisecond)
}

func TestWaitRefresh(t *testing.T) {
	d := &Dependencies{}
	require.NoError(t, d.WaitRefresh(context.Background()))

	d.refreshes.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitRefresh(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.refreshes.Done()
	}()
	require.NoError(t, d.WaitRefresh(context.Background()))
}
