package useCases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

type serviceFixture struct {
	store      *memStore
	factory    *fakeFactory
	registry   *Registry
	onboarding *Onboarding
	service    *BotService
}

func newServiceFixture(t *testing.T, factory *fakeFactory, accs ...domain.Account) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{store: newMemStore(accs...), factory: factory}
	fx.registry = NewRegistry(factory, discardLogger(), fastRegistryOptions())
	fx.onboarding = NewOnboarding(factory, discardLogger(), time.Minute)
	fx.service = NewBotService(fx.store, fx.onboarding, fx.registry, discardLogger())
	t.Cleanup(func() {
		fx.onboarding.Close()
		fx.registry.StopAll()
	})
	return fx
}

// twoFactorFactory: новые аккаунты с 2FA, с токеном уже авторизованы.
func twoFactorFactory() *fakeFactory {
	return newFakeFactory(func(_ domain.AccountCredential, token domain.SessionToken) *fakeConn {
		return &fakeConn{twoFactor: true, authorized: !token.Empty(), token: token}
	})
}

func TestBotService_OnboardingFlow(t *testing.T) {
	fx := newServiceFixture(t, twoFactorFactory())
	ctx := context.Background()
	cred := testCredential("acc-1")

	res, err := fx.service.Onboard(ctx, cred, "Shop bot")
	require.NoError(t, err)
	require.Equal(t, AuthCodeRequested, res.State)

	acc, err := fx.store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, acc.Status)
	assert.Equal(t, "Shop bot", acc.Name)
	require.NotNil(t, acc.Promotion)
	assert.Equal(t, domain.DefaultPromotionInterval, acc.Promotion.IntervalSeconds)

	res, err = fx.service.SubmitCode(ctx, "acc-1", "99999", res.Challenge)
	require.ErrorIs(t, err, domain.ErrInvalidCode)
	assert.Equal(t, AuthError, res.State)
	assert.True(t, fx.factory.Last("acc-1").Closed(), "failed attempt releases its connection")
	_, pending := fx.onboarding.Pending("acc-1")
	assert.False(t, pending)

	res, err = fx.service.Onboard(ctx, cred, "")
	require.NoError(t, err)

	res, err = fx.service.SubmitCode(ctx, "acc-1", goodCode, res.Challenge)
	require.NoError(t, err)
	require.Equal(t, AuthPasswordRequired, res.State)
	state, pending := fx.onboarding.Pending("acc-1")
	assert.True(t, pending)
	assert.Equal(t, AuthPasswordRequired, state)

	res, err = fx.service.SubmitSecondFactor(ctx, "acc-1", goodPassword)
	require.NoError(t, err)
	require.Equal(t, AuthAuthenticated, res.State)
	require.False(t, res.Token.Empty())

	acc, err = fx.store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, res.Token, acc.Session)
	assert.Equal(t, domain.StatusOffline, acc.Status)
	assert.Equal(t, "Shop bot", acc.Name, "empty name keeps the stored one")
}

func TestBotService_OnboardRequiresAccountID(t *testing.T) {
	fx := newServiceFixture(t, twoFactorFactory())

	_, err := fx.service.Onboard(context.Background(), testCredential(""), "")
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.EqualValues(t, 0, fx.factory.created.Load())
}

func TestBotService_OnboardRejectsBadProxy(t *testing.T) {
	fx := newServiceFixture(t, twoFactorFactory())
	cred := testCredential("acc-1")
	cred.Proxy = &domain.ProxyConfig{Enabled: true, Kind: "ftp", Host: "proxy", Port: 1080}

	_, err := fx.service.Onboard(context.Background(), cred, "")
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.EqualValues(t, 0, fx.factory.created.Load())
}

func TestOnboarding_ChallengeExpires(t *testing.T) {
	f := twoFactorFactory()
	o := NewOnboarding(f, discardLogger(), time.Minute)
	now := time.Now()
	o.now = func() time.Time { return now }

	res, err := o.Begin(context.Background(), testCredential("acc-1"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = o.SubmitCode(context.Background(), "acc-1", goodCode, res.Challenge)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.True(t, f.Last("acc-1").Closed())

	_, pending := o.Pending("acc-1")
	assert.False(t, pending)
}

func TestOnboarding_NewAttemptReplacesPending(t *testing.T) {
	f := twoFactorFactory()
	o := NewOnboarding(f, discardLogger(), time.Minute)
	defer o.Close()
	ctx := context.Background()

	old, err := o.Begin(ctx, testCredential("acc-1"))
	require.NoError(t, err)
	_, err = o.Begin(ctx, testCredential("acc-1"))
	require.NoError(t, err)

	conns := f.Conns("acc-1")
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Closed())
	assert.False(t, conns[1].Closed())

	// старый challenge к новой попытке не подходит
	_, err = o.SubmitCode(ctx, "acc-1", goodCode, old.Challenge)
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestOnboarding_ConcurrentBeginLeavesOneConnection(t *testing.T) {
	gate := make(chan struct{})
	f := newFakeFactory(func(domain.AccountCredential, domain.SessionToken) *fakeConn {
		return &fakeConn{twoFactor: true, connectGate: gate}
	})
	o := NewOnboarding(f, discardLogger(), time.Minute)
	ctx := context.Background()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := o.Begin(ctx, testCredential("acc-1"))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return f.created.Load() == 2 }, time.Second, time.Millisecond)
	close(gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	conns := f.Conns("acc-1")
	require.Len(t, conns, 2)
	open := 0
	for _, c := range conns {
		if !c.Closed() {
			open++
		}
	}
	assert.Equal(t, 1, open, "displaced attempt is closed")

	o.Close()
	for _, c := range conns {
		assert.True(t, c.Closed())
	}
}

func TestOnboarding_BeginAfterCloseReleasesConnection(t *testing.T) {
	f := twoFactorFactory()
	o := NewOnboarding(f, discardLogger(), time.Minute)
	o.Close()

	res, err := o.Begin(context.Background(), testCredential("acc-1"))
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Equal(t, AuthError, res.State)
	assert.True(t, f.Last("acc-1").Closed())
	_, pending := o.Pending("acc-1")
	assert.False(t, pending)
}

func TestOnboarding_RequestFailureReportsError(t *testing.T) {
	f := newFakeFactory(func(domain.AccountCredential, domain.SessionToken) *fakeConn {
		return &fakeConn{requestErr: errors.New("flood wait")}
	})
	o := NewOnboarding(f, discardLogger(), time.Minute)
	defer o.Close()

	res, err := o.Begin(context.Background(), testCredential("acc-1"))
	require.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Equal(t, AuthError, res.State)
	assert.Empty(t, res.Challenge)
	assert.True(t, f.Last("acc-1").Closed())
	_, pending := o.Pending("acc-1")
	assert.False(t, pending)
}

func TestBotService_SecondFactorRejected(t *testing.T) {
	fx := newServiceFixture(t, twoFactorFactory())
	ctx := context.Background()

	res, err := fx.service.Onboard(ctx, testCredential("acc-1"), "")
	require.NoError(t, err)
	res, err = fx.service.SubmitCode(ctx, "acc-1", goodCode, res.Challenge)
	require.NoError(t, err)
	require.Equal(t, AuthPasswordRequired, res.State)

	res, err = fx.service.SubmitSecondFactor(ctx, "acc-1", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidSecondFactor)
	assert.Equal(t, AuthError, res.State)
	assert.True(t, res.Token.Empty())
	assert.True(t, fx.factory.Last("acc-1").Closed())
	_, pending := fx.onboarding.Pending("acc-1")
	assert.False(t, pending)

	acc, err := fx.store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Session.Empty())
	assert.Equal(t, domain.StatusPendingVerification, acc.Status)
}

func TestOnboarding_AlreadyAuthorizedClosesConnection(t *testing.T) {
	f := newFakeFactory(func(domain.AccountCredential, domain.SessionToken) *fakeConn {
		return &fakeConn{authorized: true, token: "tok"}
	})
	o := NewOnboarding(f, discardLogger(), time.Minute)

	res, err := o.Begin(context.Background(), testCredential("acc-1"))
	require.NoError(t, err)
	assert.Equal(t, AuthAuthenticated, res.State)
	assert.Equal(t, domain.SessionToken("tok"), res.Token)
	assert.True(t, f.Last("acc-1").Closed())
}

func TestOnboarding_SubmitWithoutBegin(t *testing.T) {
	o := NewOnboarding(twoFactorFactory(), discardLogger(), 0)

	_, err := o.SubmitSecondFactor(context.Background(), "acc-1", goodPassword)
	require.ErrorIs(t, err, domain.ErrTransportFailure)
}

func authenticatedAccount(id string, promo *domain.PromotionConfig) domain.Account {
	return domain.Account{
		Credential: testCredential(id),
		Name:       id,
		Promotion:  promo,
		Session:    "tok-" + domain.SessionToken(id),
		Status:     domain.StatusOffline,
	}
}

func TestBotService_StartStop(t *testing.T) {
	fx := newServiceFixture(t, authorizedFactory(), authenticatedAccount("acc-1", nil))
	ctx := context.Background()

	require.NoError(t, fx.service.Start(ctx, "acc-1"))
	assert.Equal(t, domain.StatusOnline, fx.store.status("acc-1"))

	info, err := fx.service.Info(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, info.Status)
	require.NotNil(t, info.Profile)
	assert.Equal(t, "promo", info.Profile.Username)

	require.NoError(t, fx.service.SendTest(ctx, "acc-1", "@me", "test"))

	require.NoError(t, fx.service.Stop(ctx, "acc-1"))
	assert.Equal(t, domain.StatusOffline, fx.store.status("acc-1"))

	require.ErrorIs(t, fx.service.Stop(ctx, "acc-1"), domain.ErrNotRunning)
	info, err = fx.service.Info(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, info.Status)
	assert.Nil(t, info.Profile)
}

func TestBotService_StartWithoutSession(t *testing.T) {
	acc := authenticatedAccount("acc-1", nil)
	acc.Session = ""
	fx := newServiceFixture(t, authorizedFactory(), acc)

	err := fx.service.Start(context.Background(), "acc-1")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.EqualValues(t, 0, fx.factory.created.Load())
}

func TestBotService_StartRejectedSessionMarksError(t *testing.T) {
	f := newFakeFactory(func(domain.AccountCredential, domain.SessionToken) *fakeConn {
		return &fakeConn{authorized: false}
	})
	fx := newServiceFixture(t, f, authenticatedAccount("acc-1", nil))

	err := fx.service.Start(context.Background(), "acc-1")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.StatusError, fx.store.status("acc-1"))
}

func TestBotService_StartUnknownAccount(t *testing.T) {
	fx := newServiceFixture(t, authorizedFactory())

	err := fx.service.Start(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrAccountNotFound)
}

func TestBotService_UpdateRestartsRunningAccount(t *testing.T) {
	fx := newServiceFixture(t, authorizedFactory(), authenticatedAccount("acc-1", nil))
	ctx := context.Background()
	require.NoError(t, fx.service.Start(ctx, "acc-1"))

	promo := enabledPromotion("@group")
	require.NoError(t, fx.service.UpdateAccount(ctx, "acc-1", "Renamed", nil, promo))

	assert.True(t, fx.registry.IsRunning("acc-1"))
	conns := fx.factory.Conns("acc-1")
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Closed())
	require.Eventually(t, func() bool { return len(conns[1].Sent()) == 1 }, time.Second, time.Millisecond)

	acc, err := fx.store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", acc.Name)
	assert.Equal(t, promo, acc.Promotion)
}

func TestBotService_UpdateValidates(t *testing.T) {
	fx := newServiceFixture(t, authorizedFactory(), authenticatedAccount("acc-1", nil))
	ctx := context.Background()

	err := fx.service.UpdateAccount(ctx, "acc-1", "", nil, &domain.PromotionConfig{Enabled: true, IntervalSeconds: 10})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	err = fx.service.UpdateAccount(ctx, "acc-1", "", &domain.ProxyConfig{Enabled: true, Host: "p", Port: 70000}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestBotService_FaultMarksError(t *testing.T) {
	f := newFakeFactory(func(_ domain.AccountCredential, token domain.SessionToken) *fakeConn {
		return &fakeConn{
			authorized: true,
			token:      token,
			sendFn: func(context.Context, domain.Destination, string) error {
				return ports.ErrUnauthorized
			},
		}
	})
	fx := newServiceFixture(t, f, authenticatedAccount("acc-1", enabledPromotion("@group")))

	require.NoError(t, fx.service.Start(context.Background(), "acc-1"))
	require.Eventually(t, func() bool {
		return fx.store.status("acc-1") == domain.StatusError
	}, time.Second, time.Millisecond)
	assert.False(t, fx.registry.IsRunning("acc-1"))
}

func TestBotService_Delete(t *testing.T) {
	fx := newServiceFixture(t, authorizedFactory(), authenticatedAccount("acc-1", nil))
	ctx := context.Background()
	require.NoError(t, fx.service.Start(ctx, "acc-1"))

	require.NoError(t, fx.service.Delete(ctx, "acc-1"))
	assert.False(t, fx.registry.IsRunning("acc-1"))
	_, err := fx.store.GetAccount(ctx, "acc-1")
	assert.True(t, errors.Is(err, ports.ErrAccountNotFound))
}

func TestRunner_RestoresOnlineAccounts(t *testing.T) {
	online := authenticatedAccount("online", nil)
	online.Status = domain.StatusOnline
	broken := authenticatedAccount("broken", nil)
	broken.Status = domain.StatusOnline
	broken.Session = ""
	offline := authenticatedAccount("offline", nil)

	fx := newServiceFixture(t, authorizedFactory(), online, broken, offline)
	runner := NewRunner(fx.store, fx.service, fx.registry, fx.onboarding, discardLogger())

	started, err := runner.RestoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"online"}, fx.registry.Running())
}

func TestRunner_RunStopsEverythingOnCancel(t *testing.T) {
	online := authenticatedAccount("online", nil)
	online.Status = domain.StatusOnline
	fx := newServiceFixture(t, authorizedFactory(), online)
	runner := NewRunner(fx.store, fx.service, fx.registry, fx.onboarding, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return fx.registry.IsRunning("online") }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, fx.registry.Running())
	assert.True(t, fx.factory.Last("online").Closed())
	// статус не трогаем, чтобы после рестарта аккаунт поднялся снова
	assert.Equal(t, domain.StatusOnline, fx.store.status("online"))
}
