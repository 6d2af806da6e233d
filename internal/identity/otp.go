package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired or never sent")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

const (
	// CodeTTL bounds how long a pending sign-in stays redeemable.
	CodeTTL            = 10 * time.Minute
	defaultMaxAttempts = 5
	codeDigits         = 6
)

// CodeSender delivers a one-time code to an email address.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, minutes int) error
}

// Identity is a verified host.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// OTPProvider signs hosts in with emailed one-time codes kept in Redis.
type OTPProvider struct {
	rdb         redis.Cmdable
	sender      CodeSender
	ttl         time.Duration
	maxAttempts int64
	logger      *zap.Logger
}

func NewOTPProvider(rdb redis.Cmdable, sender CodeSender, logger *zap.Logger) *OTPProvider {
	return &OTPProvider{
		rdb:         rdb,
		sender:      sender,
		ttl:         CodeTTL,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
}

func pendingKey(email string) string {
	return "otp:" + email
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SendCode issues a fresh code, replacing any pending one.
func (p *OTPProvider) SendCode(ctx context.Context, email, displayName string) error {
	email = NormalizeEmail(email)
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	key := pendingKey(email)
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "code", code, "display_name", strings.TrimSpace(displayName), "attempts", 0)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	if err := p.sender.SendCode(ctx, email, code, int(p.ttl/time.Minute)); err != nil {
		p.rdb.Del(ctx, key)
		return err
	}
	p.logger.Info("sign-in code sent", zap.String("email", email))
	return nil
}

// VerifyCode redeems a code. A code can be redeemed once.
func (p *OTPProvider) VerifyCode(ctx context.Context, email, code string) (Identity, error) {
	email = NormalizeEmail(email)
	key := pendingKey(email)

	pending, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("load code: %w", err)
	}
	if len(pending) == 0 {
		return Identity{}, ErrCodeExpired
	}

	attempts, err := p.rdb.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("count attempt: %w", err)
	}
	if attempts > p.maxAttempts {
		p.rdb.Del(ctx, key)
		return Identity{}, ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(pending["code"]), []byte(strings.TrimSpace(code))) != 1 {
		return Identity{}, ErrInvalidCode
	}
	if err := p.rdb.Del(ctx, key).Err(); err != nil {
		return Identity{}, fmt.Errorf("consume code: %w", err)
	}

	name := pending["display_name"]
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	return Identity{UserID: UserIDForEmail(email), Email: email, DisplayName: name}, nil
}

// UserIDForEmail derives a stable user id so repeat sign-ins map to one host.
func UserIDForEmail(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("whispr:"+NormalizeEmail(email))).String()
}

func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
