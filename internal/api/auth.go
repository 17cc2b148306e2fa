// internal/api/auth.go
package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/smtp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	otpTTL      = 5 * time.Minute
	otpDigits   = 6
	jwtLifetime = 24 * time.Hour
)

var (
	ErrUnknownEmail = errors.New("email is not an operator")
	ErrInvalidOTP   = errors.New("invalid or expired code")
	ErrInvalidToken = errors.New("invalid token")
)

// Mailer delivers one-time codes to operators.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// SMTPMailer sends OTP mail through a plain SMTP relay.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendOTP sends the login code.
func (m *SMTPMailer) SendOTP(_ context.Context, to, code string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	msg := []byte("To: " + to + "\r\n" +
		"Subject: Sniper login code\r\n" +
		"\r\n" +
		"Your login code is " + code + ". It expires in 5 minutes.\r\n")

	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	if err := smtp.SendMail(addr, auth, m.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send OTP mail: %w", err)
	}
	return nil
}

type otpEntry struct {
	code      string
	expiresAt time.Time
}

// Auth implements passwordless operator login: a one-time emailed code
// exchanged for a JWT. Only configured operator emails may log in.
type Auth struct {
	jwtSecret []byte
	operators map[string]bool
	mailer    Mailer
	logger    *zap.Logger

	mu   sync.Mutex
	otps map[string]otpEntry
}

// NewAuth creates the auth service for the given operator email list.
func NewAuth(jwtSecret string, operatorEmails []string, mailer Mailer, logger *zap.Logger) *Auth {
	operators := make(map[string]bool, len(operatorEmails))
	for _, email := range operatorEmails {
		operators[email] = true
	}
	return &Auth{
		jwtSecret: []byte(jwtSecret),
		operators: operators,
		mailer:    mailer,
		logger:    logger.Named("auth"),
		otps:      make(map[string]otpEntry),
	}
}

// RequestOTP generates and mails a fresh code for an operator email.
func (a *Auth) RequestOTP(ctx context.Context, email string) error {
	if !a.operators[email] {
		return ErrUnknownEmail
	}

	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	a.mu.Lock()
	a.otps[email] = otpEntry{code: code, expiresAt: time.Now().Add(otpTTL)}
	a.mu.Unlock()

	if err := a.mailer.SendOTP(ctx, email, code); err != nil {
		return err
	}
	a.logger.Info("OTP issued", zap.String("email", email))
	return nil
}

// Login exchanges a valid code for a signed JWT. Codes are one-time: a
// successful login consumes the entry.
func (a *Auth) Login(email, code string) (string, error) {
	a.mu.Lock()
	entry, ok := a.otps[email]
	if ok {
		delete(a.otps, email)
	}
	a.mu.Unlock()

	if !ok || entry.code != code || time.Now().After(entry.expiresAt) {
		return "", ErrInvalidOTP
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": email,
		"iat": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
	})
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	a.logger.Info("Operator logged in", zap.String("email", email))
	return signed, nil
}

// ValidateToken checks a JWT and returns the operator email.
func (a *Auth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	email, _ := claims["sub"].(string)
	if email == "" || !a.operators[email] {
		return "", ErrInvalidToken
	}
	return email, nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}
