package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// mockSecretsAPI counts GetSecretValue calls and serves a canned payload.
type mockSecretsAPI struct {
	calls   int
	payload string
	err     error
}

func (m *mockSecretsAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(m.payload),
	}, nil
}

const validSecret = `{"hostname":"protect.example.local","username":"backup","password":"hunter2","apikey":"key_abc"}`

func newTestProvider(mock *mockSecretsAPI) *Provider {
	return NewProvider(mock, "arn:aws:secretsmanager:us-east-1:123456789:secret:protect", slog.Default())
}

func TestGet_FetchesOnceAndCaches(t *testing.T) {
	mock := &mockSecretsAPI{payload: validSecret}
	p := newTestProvider(mock)

	first, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("first Get returned unexpected error: %v", err)
	}
	second, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("second Get returned unexpected error: %v", err)
	}

	if mock.calls != 1 {
		t.Errorf("expected exactly 1 secret store call, got %d", mock.calls)
	}
	if first != second {
		t.Errorf("cached credentials differ from first fetch: %+v vs %+v", first, second)
	}
	if first.Hostname != "protect.example.local" {
		t.Errorf("unexpected hostname %q", first.Hostname)
	}
	if first.Password.Unmask() != "hunter2" {
		t.Errorf("password not preserved through unmarshal")
	}
}

func TestGet_ResetForcesRefetch(t *testing.T) {
	mock := &mockSecretsAPI{payload: validSecret}
	p := newTestProvider(mock)

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	p.Reset()
	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get after Reset returned unexpected error: %v", err)
	}

	if mock.calls != 2 {
		t.Errorf("expected 2 secret store calls after Reset, got %d", mock.calls)
	}
}

func TestGet_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("ResourceNotFoundException")
	mock := &mockSecretsAPI{err: storeErr}
	p := newTestProvider(mock)

	_, err := p.Get(context.Background())
	if err == nil {
		t.Fatal("expected error from failing secret store")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("expected underlying store error in chain, got %v", err)
	}

	// A failed fetch must not poison the cache.
	mock.err = nil
	mock.payload = validSecret
	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Get after transient store failure returned error: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("expected refetch after failure, got %d calls", mock.calls)
	}
}

func TestGet_MalformedPayload(t *testing.T) {
	mock := &mockSecretsAPI{payload: "not-json"}
	p := newTestProvider(mock)

	_, err := p.Get(context.Background())
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeCredentialsInvalid {
		t.Errorf("expected code %s, got %s", types.ErrCodeCredentialsInvalid, appErr.Code)
	}
}

func TestGet_IncompletePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing hostname", `{"username":"backup","password":"hunter2"}`, "hostname"},
		{"blank username", `{"hostname":"h","username":"  ","password":"hunter2"}`, "username"},
		{"missing password", `{"hostname":"h","username":"backup"}`, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(&mockSecretsAPI{payload: tt.payload})

			_, err := p.Get(context.Background())
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != types.ErrCodeCredentialsInvalid {
				t.Errorf("expected code %s, got %s", types.ErrCodeCredentialsInvalid, appErr.Code)
			}
			if !strings.Contains(appErr.Message, tt.field) {
				t.Errorf("expected message to name missing field %q, got %q", tt.field, appErr.Message)
			}
		})
	}
}

func TestGet_APIKeyOptional(t *testing.T) {
	mock := &mockSecretsAPI{payload: `{"hostname":"h","username":"u","password":"p"}`}
	p := newTestProvider(mock)

	creds, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if creds.APIKey.Unmask() != "" {
		t.Errorf("expected empty apikey, got %q", creds.APIKey.Unmask())
	}
}
