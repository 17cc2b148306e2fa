// internal/api/auth_test.go
package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailer struct {
	to   string
	code string
	err  error
}

func (m *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	m.to = to
	m.code = code
	return m.err
}

const operatorEmail = "ops@example.com"

func newTestAuth() (*Auth, *fakeMailer) {
	mailer := &fakeMailer{}
	return NewAuth("test-secret", []string{operatorEmail}, mailer, zap.NewNop()), mailer
}

func TestOTPLoginFlow(t *testing.T) {
	auth, mailer := newTestAuth()
	ctx := context.Background()

	require.NoError(t, auth.RequestOTP(ctx, operatorEmail))
	require.Len(t, mailer.code, otpDigits)
	assert.Equal(t, operatorEmail, mailer.to)

	token, err := auth.Login(operatorEmail, mailer.code)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	email, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, operatorEmail, email)
}

func TestRequestOTPRejectsUnknownEmail(t *testing.T) {
	auth, mailer := newTestAuth()
	err := auth.RequestOTP(context.Background(), "stranger@example.com")
	assert.ErrorIs(t, err, ErrUnknownEmail)
	assert.Empty(t, mailer.code)
}

func TestLoginRejectsWrongCode(t *testing.T) {
	auth, mailer := newTestAuth()
	require.NoError(t, auth.RequestOTP(context.Background(), operatorEmail))

	_, err := auth.Login(operatorEmail, "000000")
	if mailer.code == "000000" {
		t.Skip("generated code collided with the test constant")
	}
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestOTPIsSingleUse(t *testing.T) {
	auth, mailer := newTestAuth()
	require.NoError(t, auth.RequestOTP(context.Background(), operatorEmail))

	_, err := auth.Login(operatorEmail, mailer.code)
	require.NoError(t, err)

	_, err = auth.Login(operatorEmail, mailer.code)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	auth, _ := newTestAuth()

	_, err := auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A token signed with a different secret fails too.
	otherMailer := &fakeMailer{}
	other := NewAuth("other-secret", []string{operatorEmail}, otherMailer, zap.NewNop())
	require.NoError(t, other.RequestOTP(context.Background(), operatorEmail))
	foreign, err := other.Login(operatorEmail, otherMailer.code)
	require.NoError(t, err)

	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
