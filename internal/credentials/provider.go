// Package credentials fetches and caches the Protect controller credentials
// from AWS Secrets Manager.
//
// The secret is fetched at most once per process lifetime: the first
// successful fetch is cached and every subsequent call returns the cached
// value without contacting the secret store. Reset exists for tests; in
// production the cache is invalidated only by process restart.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// SecretsAPI defines the subset of the Secrets Manager client used by the
// provider. Extracted for testability.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider implements fetch-once-then-cache resolution of controller
// credentials. Safe for concurrent use: overlapping first calls collapse
// into a single secret store fetch via singleflight.
type Provider struct {
	api       SecretsAPI
	secretARN string
	logger    *slog.Logger

	mu     sync.RWMutex
	cached *types.Credentials

	group singleflight.Group
}

// NewProvider creates a Provider reading the secret at secretARN.
func NewProvider(api SecretsAPI, secretARN string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		api:       api,
		secretARN: secretARN,
		logger:    logger,
	}
}

// Get returns the controller credentials, fetching from the secret store on
// the first call and serving from cache afterwards.
//
// A payload that is not parseable JSON, or that is missing hostname,
// username, or password, yields a credentials_invalid error. Failures of the
// underlying secret store call propagate unchanged to the caller.
func (p *Provider) Get(ctx context.Context) (types.Credentials, error) {
	p.mu.RLock()
	if p.cached != nil {
		creds := *p.cached
		p.mu.RUnlock()
		return creds, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do("credentials", func() (any, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		return types.Credentials{}, err
	}
	return v.(types.Credentials), nil
}

// Reset clears the cached credentials, forcing the next Get to contact the
// secret store again. Intended for tests.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Provider) fetch(ctx context.Context) (types.Credentials, error) {
	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretARN),
	})
	if err != nil {
		// Secret store failures (e.g. ResourceNotFound) propagate unchanged.
		return types.Credentials{}, fmt.Errorf("credentials: secret store fetch failed: %w", err)
	}

	payload := aws.ToString(out.SecretString)
	var creds types.Credentials
	if err := json.Unmarshal([]byte(payload), &creds); err != nil {
		return types.Credentials{}, types.NewAppError(
			types.ErrCodeCredentialsInvalid,
			"credentials secret is not valid JSON",
			err,
		)
	}

	if appErr := creds.Validate(); appErr != nil {
		return types.Credentials{}, appErr
	}

	p.mu.Lock()
	p.cached = &creds
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "controller credentials resolved and cached",
		"hostname", creds.Hostname,
		"username", creds.Username,
	)

	return creds, nil
}
