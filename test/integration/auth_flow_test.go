// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/carecircle/carecircle/internal/auth"
)

// manualClock is an adjustable time source so specs can cross lockout and
// expiry boundaries without sleeping.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stateFromURL extracts the state query parameter from an authorize URL
// built by stubProvider.
func stateFromURL(u string) string {
	_, state, _ := strings.Cut(u, "state=")
	return state
}

var _ = Describe("Authentication flows", func() {
	var (
		ctx      context.Context
		clock    *manualClock
		accounts *inMemoryAccountRepo
		sessions *inMemorySessionRepo
		manager  *auth.SessionManager
		service  *auth.Service
		provider *stubProvider
		device   auth.DeviceInfo
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newManualClock()
		accounts = newInMemoryAccountRepo()
		sessions = newInMemorySessionRepo()
		device = auth.DeviceInfo{Device: "laptop", UserAgent: "spec", IP: "203.0.113.7"}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		hasher, err := auth.NewBcryptHasher(auth.MinBcryptCost)
		Expect(err).NotTo(HaveOccurred())

		manager, err = auth.NewSessionManager(sessions, logger,
			auth.WithSessionClock(clock))
		Expect(err).NotTo(HaveOccurred())

		provider = &stubProvider{
			name: "google",
			identity: auth.ProviderIdentity{
				SubjectID:     "sub-1001",
				Email:         "dana@example.com",
				EmailVerified: true,
				DisplayName:   "Dana",
			},
		}

		states := auth.NewStateStore(clock, 0)
		external, err := auth.NewExternalService(
			[]auth.Provider{provider}, states, accounts, manager, clock, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		service, err = auth.NewService(hasher, accounts, manager, logger,
			auth.WithClock(clock),
			auth.WithExternalService(external))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Credential lifecycle", func() {
		It("registers, authenticates, and logs out", func() {
			result, err := service.Register(ctx, auth.RegisterInput{
				Email:    "Alice@Example.com",
				Password: "correct horse battery staple",
				Nickname: "Alice",
				Device:   device,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Account.Email).To(Equal("alice@example.com"))
			Expect(result.Tokens.SessionToken).NotTo(BeEmpty())
			Expect(result.Tokens.RefreshToken).NotTo(BeEmpty())

			account, err := service.Authenticate(ctx, result.Tokens.SessionToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.ID).To(Equal(result.Account.ID))

			Expect(service.Logout(ctx, result.Tokens.SessionToken)).To(Succeed())
			_, err = service.Authenticate(ctx, result.Tokens.SessionToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))

			// Logout of an already-revoked token is a no-op.
			Expect(service.Logout(ctx, result.Tokens.SessionToken)).To(Succeed())
			Expect(service.Logout(ctx, "never-issued")).To(Succeed())
		})

		It("rejects a duplicate registration regardless of email case", func() {
			_, err := service.Register(ctx, auth.RegisterInput{
				Email: "bob@example.com", Password: "hunter2hunter2", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Register(ctx, auth.RegisterInput{
				Email: "BOB@example.com", Password: "hunter2hunter2", Device: device,
			})
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		})

		It("issues independent sessions per login", func() {
			reg, err := service.Register(ctx, auth.RegisterInput{
				Email: "carol@example.com", Password: "a long enough password", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())

			phone, err := service.Login(ctx, auth.LoginInput{
				Email:    "carol@example.com",
				Password: "a long enough password",
				Device:   auth.DeviceInfo{Device: "phone"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(phone.Tokens.SessionToken).NotTo(Equal(reg.Tokens.SessionToken))

			// Revoking one session leaves the other usable.
			Expect(service.Logout(ctx, phone.Tokens.SessionToken)).To(Succeed())
			_, err = service.Authenticate(ctx, reg.Tokens.SessionToken)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Lockout", func() {
		const password = "the real password here"

		BeforeEach(func() {
			_, err := service.Register(ctx, auth.RegisterInput{
				Email: "erin@example.com", Password: password, Device: device,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("locks after repeated failures and releases when the window expires", func() {
			for i := 0; i < auth.DefaultLockoutThreshold; i++ {
				_, err := service.Login(ctx, auth.LoginInput{
					Email: "erin@example.com", Password: "wrong", Device: device,
				})
				Expect(err).To(MatchError(auth.ErrInvalidCredentials))
			}

			// Correct password is refused while the lock is active.
			_, err := service.Login(ctx, auth.LoginInput{
				Email: "erin@example.com", Password: password, Device: device,
			})
			Expect(err).To(MatchError(auth.ErrAccountLocked))

			clock.Advance(auth.DefaultLockoutDuration + time.Minute)

			result, err := service.Login(ctx, auth.LoginInput{
				Email: "erin@example.com", Password: password, Device: device,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Account.FailedAttempts).To(BeZero())
			Expect(result.Account.LockedUntil).To(BeNil())
		})

		It("starts a fresh window after an expired lock ends in another failure", func() {
			for i := 0; i < auth.DefaultLockoutThreshold; i++ {
				_, _ = service.Login(ctx, auth.LoginInput{
					Email: "erin@example.com", Password: "wrong", Device: device,
				})
			}
			clock.Advance(auth.DefaultLockoutDuration + time.Minute)

			// One failure after expiry counts as the first of a new window.
			_, err := service.Login(ctx, auth.LoginInput{
				Email: "erin@example.com", Password: "still wrong", Device: device,
			})
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			stored, err := accounts.GetByEmail(ctx, "erin@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FailedAttempts).To(Equal(1))
			Expect(stored.LockedUntil).To(BeNil())
		})

		It("counts simultaneous failures exactly", func() {
			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = service.Login(ctx, auth.LoginInput{
						Email: "erin@example.com", Password: "wrong", Device: device,
					})
				}()
			}
			wg.Wait()

			stored, err := accounts.GetByEmail(ctx, "erin@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FailedAttempts).To(Equal(2))
		})

		It("does not reveal whether the email exists", func() {
			_, err := service.Login(ctx, auth.LoginInput{
				Email: "nobody@example.com", Password: "whatever", Device: device,
			})
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})
	})

	Describe("Refresh rotation", func() {
		var first *auth.TokenPair

		BeforeEach(func() {
			result, err := service.Register(ctx, auth.RegisterInput{
				Email: "frank@example.com", Password: "sufficiently long pass", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())
			first = result.Tokens
		})

		It("rotates both tokens and retires the previous pair", func() {
			clock.Advance(10 * time.Minute)

			second, err := service.Refresh(ctx, first.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.SessionID).To(Equal(first.SessionID))
			Expect(second.SessionToken).NotTo(Equal(first.SessionToken))
			Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

			_, err = service.Authenticate(ctx, second.SessionToken)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Authenticate(ctx, first.SessionToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("revokes the session when a rotated refresh token is replayed", func() {
			second, err := service.Refresh(ctx, first.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Refresh(ctx, first.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))

			// Reuse detection revokes the whole session, not just the replay.
			_, err = service.Authenticate(ctx, second.SessionToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
			_, err = service.Refresh(ctx, second.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("lets exactly one of two simultaneous refresh attempts succeed", func() {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = service.Refresh(ctx, first.RefreshToken)
				}(i)
			}
			wg.Wait()

			var succeeded int
			for _, err := range errs {
				if err == nil {
					succeeded++
				} else {
					Expect(err).To(MatchError(auth.ErrInvalidToken))
				}
			}
			Expect(succeeded).To(Equal(1))
		})

		It("refuses an expired refresh token", func() {
			clock.Advance(auth.DefaultRefreshTokenTTL + time.Hour)

			_, err := service.Refresh(ctx, first.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})
	})

	Describe("External provider login", func() {
		It("creates an account on first callback and reuses it after", func() {
			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			state := stateFromURL(redirect)
			Expect(state).NotTo(BeEmpty())

			result, err := service.ExternalCallback(ctx, "google", state, "code-1", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Account.Email).To(Equal("dana@example.com"))
			Expect(result.Account.Status).To(Equal(auth.StatusActive))
			Expect(result.Tokens.SessionToken).NotTo(BeEmpty())

			// Second round trip binds to the same account.
			redirect, err = service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			again, err := service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-2", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Account.ID).To(Equal(result.Account.ID))
		})

		It("links the subject to an existing local account by email", func() {
			reg, err := service.Register(ctx, auth.RegisterInput{
				Email: "dana@example.com", Password: "local password first", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())

			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			result, err := service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-3", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Account.ID).To(Equal(reg.Account.ID))
		})

		It("gives each subject without an email claim its own account", func() {
			provider.identity = auth.ProviderIdentity{SubjectID: "anon-1"}
			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			first, err := service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-a1", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Account.Email).To(BeEmpty())

			provider.identity = auth.ProviderIdentity{SubjectID: "anon-2"}
			redirect, err = service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			second, err := service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-a2", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Account.ID).NotTo(Equal(first.Account.ID))
		})

		It("rejects a callback whose state was issued to another client", func() {
			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-4", "client-b", device)
			Expect(err).To(MatchError(auth.ErrInvalidState))
		})

		It("rejects a replayed state", func() {
			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())
			state := stateFromURL(redirect)

			_, err = service.ExternalCallback(ctx, "google", state, "code-5", "client-a", device)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ExternalCallback(ctx, "google", state, "code-5", "client-a", device)
			Expect(err).To(MatchError(auth.ErrInvalidState))
		})

		It("surfaces provider outages without consuming the account", func() {
			provider.err = auth.ErrProviderUnavailable

			redirect, err := service.ExternalLogin("google", "client-a")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.ExternalCallback(ctx, "google", stateFromURL(redirect), "code-6", "client-a", device)
			Expect(err).To(MatchError(auth.ErrProviderUnavailable))
		})
	})

	Describe("Expired session sweep", func() {
		It("removes only sessions past their overall lifetime", func() {
			old, err := service.Register(ctx, auth.RegisterInput{
				Email: "gus@example.com", Password: "an old session here", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(auth.DefaultRefreshTokenTTL + time.Hour)

			fresh, err := service.Login(ctx, auth.LoginInput{
				Email: "gus@example.com", Password: "an old session here", Device: device,
			})
			Expect(err).NotTo(HaveOccurred())

			removed, err := manager.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(int64(1)))

			_, err = service.Authenticate(ctx, fresh.Tokens.SessionToken)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Refresh(ctx, old.Tokens.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})
	})
})
