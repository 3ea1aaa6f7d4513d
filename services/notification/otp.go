package notification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"slotkeeper/models"
	"slotkeeper/utils"
)

// CodeStore keeps hashed confirmation codes with a TTL.
type CodeStore interface {
	Put(ctx context.Context, key, hash string, ttl time.Duration) error
	Get(ctx context.Context, key string) (hash string, found bool, err error)
	Delete(ctx context.Context, key string) error
}

// RedisCodeStore implements CodeStore on Redis.
type RedisCodeStore struct {
	Client *redis.Client
}

func (s RedisCodeStore) Put(ctx context.Context, key, hash string, ttl time.Duration) error {
	if err := s.Client.Set(ctx, key, hash, ttl).Err(); err != nil {
		return utils.Infrastructure("store confirmation code", err)
	}
	return nil
}

func (s RedisCodeStore) Get(ctx context.Context, key string) (string, bool, error) {
	hash, err := s.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, utils.Infrastructure("load confirmation code", err)
	}
	return hash, true, nil
}

func (s RedisCodeStore) Delete(ctx context.Context, key string) error {
	if err := s.Client.Del(ctx, key).Err(); err != nil {
		return utils.Infrastructure("delete confirmation code", err)
	}
	return nil
}

// OTPChannel sends six digit codes by SMS, falling back to email, and
// verifies them against a bcrypt hash.
type OTPChannel struct {
	Codes  CodeStore
	SMS    Sender
	Email  Sender
	TTL    time.Duration
	Logger *zap.Logger

	// Generate is replaceable in tests.
	Generate func() (string, error)
}

var _ ConfirmationChannel = (*OTPChannel)(nil)

func NewOTPChannel(codes CodeStore, sms, email Sender, ttl time.Duration, logger *zap.Logger) *OTPChannel {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &OTPChannel{Codes: codes, SMS: sms, Email: email, TTL: ttl, Logger: logger, Generate: generateNumericCode}
}

func otpKey(tenantID, interactionID string) string {
	return fmt.Sprintf("%s%s:%s", utils.OTPKeyPrefix, tenantID, interactionID)
}

func (c *OTPChannel) Send(ctx context.Context, tenantID, interactionID string, contact models.ContactInfo) error {
	if !contact.Reachable() {
		return utils.Validation("contact needs a phone number or an email")
	}

	code, err := c.Generate()
	if err != nil {
		return utils.Infrastructure("generate confirmation code", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return utils.Infrastructure("hash confirmation code", err)
	}
	if err := c.Codes.Put(ctx, otpKey(tenantID, interactionID), string(hash), c.TTL); err != nil {
		return err
	}

	body := fmt.Sprintf("Your appointment confirmation code is %s. It expires in %d minutes.",
		code, int(c.TTL.Minutes()))
	sender := c.Email
	if contact.Phone != "" {
		sender = c.SMS
	}
	if err := sender.Deliver(ctx, contact, "Your confirmation code", body); err != nil {
		c.Logger.Warn("Failed to deliver confirmation code",
			zap.String("tenant", tenantID), zap.String("interaction", interactionID), zap.Error(err))
		return err
	}
	return nil
}

func (c *OTPChannel) Verify(ctx context.Context, tenantID, interactionID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	key := otpKey(tenantID, interactionID)
	hash, found, err := c.Codes.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return false, nil
	}
	if err := c.Codes.Delete(ctx, key); err != nil {
		c.Logger.Warn("Failed to delete used confirmation code", zap.String("interaction", interactionID), zap.Error(err))
	}
	return true, nil
}

func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
