package certify_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certlift/core/certify"
)

func testConfig() certify.Config {
	cfg := certify.DefaultConfig()
	cfg.Server = certify.ServerStaging
	return cfg
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  certify.Request
	}{
		{
			name: "missing email",
			req:  certify.Request{AgreeTOS: true},
		},
		{
			name: "malformed email",
			req:  certify.Request{Email: "not-an-email", AgreeTOS: true},
		},
		{
			name: "no terms agreement",
			req:  certify.Request{Email: "admin@example.com"},
		},
		{
			name: "rsa key size below minimum",
			req:  certify.Request{Email: "admin@example.com", AgreeTOS: true, RSAKeySize: 1024},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := newTestEnv(testConfig())
			require.NoError(t, err)

			account, err := env.manager.Register(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, certify.ErrInvalidArguments)
			assert.Nil(t, account)

			// Fail fast: no collaborator may have been touched.
			assert.Equal(t, 0, env.acme.DirectoryCalls())
			assert.Equal(t, 0, env.acme.RegisterCalls())
			assert.Equal(t, 0, env.keys.GenerateCalls())
			assert.Equal(t, 0, env.store.accounts.setCalls)
		})
	}
}

func TestRegisterSuccess(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	account, err := env.manager.Register(context.Background(), certify.Request{
		Email:    "admin@example.com",
		AgreeTOS: true,
	})
	require.NoError(t, err)
	require.NotNil(t, account)

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "admin@example.com", account.Email)
	assert.NotNil(t, account.Keypair)
	assert.NotEmpty(t, account.Receipt)
	assert.Equal(t, env.Now(), account.CreatedAt)

	assert.Equal(t, 1, env.keys.GenerateCalls())
	assert.Equal(t, 1, env.acme.RegisterCalls())

	// A later lookup returns the same account id.
	checked, err := env.manager.CheckAccount(context.Background(), certify.Request{Email: "admin@example.com"})
	require.NoError(t, err)
	require.NotNil(t, checked)
	assert.Equal(t, account.ID, checked.ID)
}

func TestRegisterReusesStoredKeypair(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	stored := &certify.Keypair{PrivateKeyPEM: "stored-private"}
	_, err = env.store.accounts.SetKeypair(context.Background(), certify.AccountQuery{Email: "admin@example.com"}, stored)
	require.NoError(t, err)

	account, err := env.manager.Register(context.Background(), certify.Request{
		Email:    "admin@example.com",
		AgreeTOS: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "stored-private", account.Keypair.PrivateKeyPEM)
	assert.Equal(t, 0, env.keys.GenerateCalls(), "stored keypair must be reused, not regenerated")
}

func TestRegisterPersistsSuppliedKeypair(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	account, err := env.manager.Register(context.Background(), certify.Request{
		Email:          "admin@example.com",
		AgreeTOS:       true,
		AccountKeypair: &certify.Keypair{PrivateKeyPEM: "supplied-private"},
	})
	require.NoError(t, err)

	assert.Equal(t, "supplied-private", account.Keypair.PrivateKeyPEM)
	assert.Equal(t, 0, env.keys.GenerateCalls())

	keypair, err := env.store.accounts.CheckKeypair(context.Background(), certify.AccountQuery{Email: "admin@example.com"})
	require.NoError(t, err)
	require.NotNil(t, keypair)
	assert.Equal(t, "supplied-private", keypair.PrivateKeyPEM)
}

func TestRegisterTermsAgreement(t *testing.T) {
	t.Run("agreed tos url must match exactly", func(t *testing.T) {
		env, err := newTestEnv(testConfig())
		require.NoError(t, err)

		// The mock ACME client publishes https://ca.test/tos.
		_, err = env.manager.Register(context.Background(), certify.Request{
			Email:        "admin@example.com",
			AgreedTOSURL: "https://ca.test/tos",
		})
		require.NoError(t, err)

		_, err = env.manager.Register(context.Background(), certify.Request{
			Email:        "other@example.com",
			AgreedTOSURL: "https://ca.test/old-tos",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, certify.ErrTermsNotAgreed)
	})

	t.Run("interactive decline", func(t *testing.T) {
		env, err := newTestEnv(testConfig(), certify.WithAgreeToTerms(
			func(ctx context.Context, tosURL string) (bool, error) {
				return false, nil
			},
		))
		require.NoError(t, err)

		_, err = env.manager.Register(context.Background(), certify.Request{Email: "admin@example.com"})
		require.Error(t, err)
		assert.ErrorIs(t, err, certify.ErrTermsNotAgreed)
	})

	t.Run("interactive accept", func(t *testing.T) {
		var seenURL string
		env, err := newTestEnv(testConfig(), certify.WithAgreeToTerms(
			func(ctx context.Context, tosURL string) (bool, error) {
				seenURL = tosURL
				return true, nil
			},
		))
		require.NoError(t, err)

		_, err = env.manager.Register(context.Background(), certify.Request{Email: "admin@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "https://ca.test/tos", seenURL)
	})
}

func TestGetOrRegisterIsIdempotent(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	first, err := env.manager.GetOrRegister(context.Background(), certify.Request{
		Email:    "admin@example.com",
		AgreeTOS: true,
	})
	require.NoError(t, err)

	second, err := env.manager.GetOrRegister(context.Background(), certify.Request{
		Email:    "admin@example.com",
		AgreeTOS: true,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.acme.RegisterCalls(), "second call must not register again")
}

func TestCheckAccountRequiresLookupKey(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	_, err = env.manager.CheckAccount(context.Background(), certify.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, certify.ErrInvalidArguments)
}

func TestCheckAccountMissReturnsNil(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	account, err := env.manager.CheckAccount(context.Background(), certify.Request{Email: "missing@example.com"})
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestRegisterWrapsUpstreamFailure(t *testing.T) {
	env, err := newTestEnv(testConfig())
	require.NoError(t, err)

	env.acme.registerFunc = func(ctx context.Context, req certify.RegisterAccountRequest) (json.RawMessage, error) {
		return nil, errUpstream
	}

	_, err = env.manager.Register(context.Background(), certify.Request{
		Email:    "admin@example.com",
		AgreeTOS: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errUpstream)
	assert.Contains(t, err.Error(), "admin@example.com")
}
