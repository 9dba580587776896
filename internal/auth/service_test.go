package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"unityplan.org/internal/invite"
	"unityplan.org/internal/tenant"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc     *Service
	store   *InMemory
	invites *invite.Engine
	codec   *Codec
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	inviteStore := invite.NewInMemory()
	engine := invite.NewEngine(inviteStore, invite.WithClock(clk.Now))
	store := NewInMemory(inviteStore)

	codec, err := NewCodec("test-signing-secret", 15*time.Minute, WithCodecClock(clk.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	registry := tenant.NewStatic(
		tenant.Territory{Code: "kz", Name: "Kazakhstan", Active: true},
		tenant.Territory{Code: "uz", Name: "Uzbekistan", Active: true},
	)
	svc, err := NewService(store, engine, registry, codec, 7*24*time.Hour, WithServiceClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: store, invites: engine, codec: codec, clock: clk}
}

func (f *fixture) singleUseToken(t *testing.T, territory, email string) *invite.Token {
	t.Helper()
	tok, err := f.invites.Create(context.Background(), territory, invite.CreateInput{
		Type:      invite.TypeSingleUse,
		Email:     email,
		MaxUses:   1,
		CreatedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	return tok
}

func (f *fixture) groupToken(t *testing.T, territory string, maxUses int) *invite.Token {
	t.Helper()
	tok, err := f.invites.Create(context.Background(), territory, invite.CreateInput{
		Type:      invite.TypeGroup,
		MaxUses:   maxUses,
		CreatedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	return tok
}

func (f *fixture) register(t *testing.T, territory, username, email, token string) (*User, *TokenPair) {
	t.Helper()
	u, pair, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       territory,
		Username:        username,
		Email:           email,
		Password:        "sufficiently-long-pw",
		InvitationToken: token,
	})
	if err != nil {
		t.Fatalf("register %s/%s: %v", territory, username, err)
	}
	return u, pair
}

func TestRegisterIssuesWorkingCredentials(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")

	u, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	if !u.Verified {
		t.Error("email-bound invitation should mark the account verified")
	}
	if u.InvitedByTokenID != tok.ID {
		t.Errorf("InvitedByTokenID = %q, want %q", u.InvitedByTokenID, tok.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair is incomplete")
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", pair.ExpiresIn)
	}

	claims, err := f.codec.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify issued access token: %v", err)
	}
	if claims.TerritoryCode != "kz" || claims.Username != "alice" || claims.UserID != u.ID {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != Fingerprint("alice@example.com", "alice") {
		t.Errorf("subject is not the identity fingerprint")
	}
	if n := f.store.SessionCount(); n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
}

func TestRegisterSingleUseTokenAdmitsOnce(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       "kz",
		Username:        "alice_two",
		Email:           "alice@example.com",
		Password:        "sufficiently-long-pw",
		InvitationToken: tok.Token,
	})
	if !errors.Is(err, invite.ErrTokenExhausted) {
		t.Fatalf("second use: got %v, want ErrTokenExhausted", err)
	}
}

func TestRegisterUsernameUniqueAcrossTerritories(t *testing.T) {
	f := newFixture(t)
	kz := f.singleUseToken(t, "kz", "alice@example.com")
	f.register(t, "kz", "alice", "alice@example.com", kz.Token)

	uz := f.singleUseToken(t, "uz", "alice@other.example")
	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       "uz",
		Username:        "alice",
		Email:           "alice@other.example",
		Password:        "sufficiently-long-pw",
		InvitationToken: uz.Token,
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("cross-territory duplicate username: got %v, want ErrUsernameTaken", err)
	}
}

func TestRegisterEmailBoundTokenRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")

	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       "kz",
		Username:        "mallory",
		Email:           "mallory@example.com",
		Password:        "sufficiently-long-pw",
		InvitationToken: tok.Token,
	})
	if !errors.Is(err, invite.ErrEmailMismatch) {
		t.Fatalf("mismatched email: got %v, want ErrEmailMismatch", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"short username", RegisterInput{Territory: "kz", Username: "al", Email: "alice@example.com", Password: "sufficiently-long-pw", InvitationToken: tok.Token}},
		{"illegal username", RegisterInput{Territory: "kz", Username: "al ice!", Email: "alice@example.com", Password: "sufficiently-long-pw", InvitationToken: tok.Token}},
		{"short password", RegisterInput{Territory: "kz", Username: "alice", Email: "alice@example.com", Password: "short", InvitationToken: tok.Token}},
		{"bad email", RegisterInput{Territory: "kz", Username: "alice", Email: "not-an-email", Password: "sufficiently-long-pw", InvitationToken: tok.Token}},
		{"missing invitation", RegisterInput{Territory: "kz", Username: "alice", Email: "alice@example.com", Password: "sufficiently-long-pw"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Register(context.Background(), tc.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegisterUnknownTerritory(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       "zz",
		Username:        "alice",
		Password:        "sufficiently-long-pw",
		InvitationToken: "inv_deadbeef",
	})
	if !errors.Is(err, tenant.ErrUnknownTerritory) {
		t.Fatalf("got %v, want ErrUnknownTerritory", err)
	}

	// Well-formed but raw input never reaches a schema either.
	_, _, err = f.svc.Register(context.Background(), RegisterInput{
		Territory:       "kz; drop table users",
		Username:        "alice",
		Password:        "sufficiently-long-pw",
		InvitationToken: "inv_deadbeef",
	})
	if !errors.Is(err, tenant.ErrUnknownTerritory) {
		t.Fatalf("got %v, want ErrUnknownTerritory", err)
	}
}

func TestGroupTokenAdmitsUpToMaxUses(t *testing.T) {
	f := newFixture(t)
	tok := f.groupToken(t, "kz", 2)

	f.register(t, "kz", "member_one", "one@example.com", tok.Token)
	f.register(t, "kz", "member_two", "two@example.com", tok.Token)

	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Territory:       "kz",
		Username:        "member_three",
		Email:           "three@example.com",
		Password:        "sufficiently-long-pw",
		InvitationToken: tok.Token,
	})
	if !errors.Is(err, invite.ErrTokenExhausted) {
		t.Fatalf("third admission: got %v, want ErrTokenExhausted", err)
	}
}

func TestLoginOutcomes(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	u, pair, err := f.svc.Login(context.Background(), "kz", "alice", "sufficiently-long-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login returned incomplete token pair")
	}
	if u.LastLoginAt == nil || !u.LastLoginAt.Equal(f.clock.Now().UTC()) {
		t.Errorf("LastLoginAt = %v, want %v", u.LastLoginAt, f.clock.Now().UTC())
	}

	// Wrong password and unknown username are indistinguishable.
	_, _, errWrongPw := f.svc.Login(context.Background(), "kz", "alice", "not-the-password")
	_, _, errUnknown := f.svc.Login(context.Background(), "kz", "nobody", "sufficiently-long-pw")
	if !errors.Is(errWrongPw, ErrUnauthorized) {
		t.Fatalf("wrong password: got %v, want ErrUnauthorized", errWrongPw)
	}
	if !errors.Is(errUnknown, ErrUnauthorized) {
		t.Fatalf("unknown user: got %v, want ErrUnauthorized", errUnknown)
	}
	if errWrongPw.Error() != errUnknown.Error() {
		t.Errorf("failure modes leak: %q vs %q", errWrongPw, errUnknown)
	}
}

func TestLoginScopedToTerritory(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	if _, _, err := f.svc.Login(context.Background(), "uz", "alice", "sufficiently-long-pw"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("login in wrong territory: got %v, want ErrUnauthorized", err)
	}
}

func TestRefreshRotatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	_, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	next, err := f.svc.Refresh(context.Background(), "kz", pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if n := f.store.SessionCount(); n != 1 {
		t.Fatalf("session count after rotation = %d, want 1", n)
	}

	// The retired token is dead; only the replacement works.
	if _, err := f.svc.Refresh(context.Background(), "kz", pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("replay of rotated token: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.Refresh(context.Background(), "kz", next.RefreshToken); err != nil {
		t.Fatalf("refresh with replacement: %v", err)
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	_, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	f.clock.Advance(7*24*time.Hour + time.Minute)

	if _, err := f.svc.Refresh(context.Background(), "kz", pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired session: got %v, want ErrUnauthorized", err)
	}
	if n := f.store.SessionCount(); n != 0 {
		t.Errorf("expired session not reaped: count = %d", n)
	}
}

func TestRefreshForeignTerritory(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	_, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	if _, err := f.svc.Refresh(context.Background(), "uz", pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh under wrong territory: got %v, want ErrUnauthorized", err)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	_, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	if err := f.svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), "kz", pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh after logout: got %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Logout(context.Background(), pair.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("repeat logout: got %v, want ErrNotFound", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	u, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	id, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != u.ID || id.Username != "alice" || id.TerritoryCode != "kz" {
		t.Errorf("identity = %+v", id)
	}

	if _, err := f.svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("garbage token: got %v, want ErrUnauthorized", err)
	}

	profile, err := f.svc.Profile(context.Background(), id)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Username != "alice" {
		t.Errorf("profile username = %q", profile.Username)
	}
}

func (f *fixture) deactivate(t *testing.T, territory, userID string) {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	u, ok := f.store.users[territory][userID]
	if !ok {
		t.Fatalf("no such user %s/%s", territory, userID)
	}
	u.Active = false
}

func TestAuthenticateRejectsDeactivatedUser(t *testing.T) {
	f := newFixture(t)
	tok := f.singleUseToken(t, "kz", "alice@example.com")
	u, pair := f.register(t, "kz", "alice", "alice@example.com", tok.Token)

	if _, err := f.svc.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("authenticate active user: %v", err)
	}

	// Deactivation cuts off the account even though the token is still
	// within its lifetime.
	f.deactivate(t, "kz", u.ID)

	if _, err := f.svc.Authenticate(context.Background(), pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deactivated user token: got %v, want ErrUnauthorized", err)
	}
}

func TestConcurrentGroupAdmissions(t *testing.T) {
	f := newFixture(t)
	tok := f.groupToken(t, "kz", 5)

	const attempts = 20
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			_, _, err := f.svc.Register(context.Background(), RegisterInput{
				Territory:       "kz",
				Username:        fmt.Sprintf("member_%02d", i),
				Email:           fmt.Sprintf("m%02d@example.com", i),
				Password:        "sufficiently-long-pw",
				InvitationToken: tok.Token,
			})
			errs <- err
		}(i)
	}

	var admitted int
	for i := 0; i < attempts; i++ {
		if err := <-errs; err == nil {
			admitted++
		} else if !errors.Is(err, invite.ErrTokenExhausted) {
			t.Errorf("unexpected failure: %v", err)
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted = %d, want exactly 5", admitted)
	}
}
