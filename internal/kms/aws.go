package kms

import (
	"context"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

// AWSProvider wraps AWS KMS: GenerateDEK calls GenerateDataKey under a
// customer master key, UnwrapDEK calls Decrypt, HealthCheck calls
// DescribeKey.
type AWSProvider struct {
	logger *zap.Logger
	client *kms.Client
	keyARN string

	mu        sync.RWMutex
	destroyed bool
}

// NewAWSProvider constructs a provider bound to a specific key ARN/region.
func NewAWSProvider(ctx context.Context, keyARN, region string, logger *zap.Logger) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}
	return &AWSProvider{
		logger: logger,
		client: kms.NewFromConfig(cfg),
		keyARN: keyARN,
	}, nil
}

func (p *AWSProvider) GenerateDEK(ctx context.Context) (DEK, error) {
	if p.isDestroyed() {
		return DEK{}, ErrDestroyed
	}
	out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   &p.keyARN,
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return DEK{}, fmt.Errorf("kms: generate data key: %w", err)
	}
	return DEK{
		Plaintext: out.Plaintext,
		Wrapped:   out.CiphertextBlob,
		KeyID:     aws_deref(out.KeyId),
	}, nil
}

func (p *AWSProvider) UnwrapDEK(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	if p.isDestroyed() {
		return nil, ErrDestroyed
	}
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          &p.keyARN,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt dek: %w", err)
	}
	if keyID != "" && aws_deref(out.KeyId) != "" && aws_deref(out.KeyId) != keyID {
		return nil, ErrUnknownKeyID
	}
	return out.Plaintext, nil
}

func (p *AWSProvider) HealthCheck(ctx context.Context) bool {
	if p.isDestroyed() {
		return false
	}
	_, err := p.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: &p.keyARN})
	return err == nil
}

func (p *AWSProvider) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	return nil
}

func (p *AWSProvider) isDestroyed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.destroyed
}

func aws_deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
