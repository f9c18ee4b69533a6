package auth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"google.golang.org/genai"

	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, " test-api-key-12345\n")

	key, source, err := GetAPIKey(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-api-key-12345" || source != SourceEnv {
		t.Errorf("got %q from %s", key, source)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv("HOME", t.TempDir())

	_, source, err := GetAPIKey(context.Background())
	if !errors.Is(err, ErrNoKey) {
		t.Errorf("expected ErrNoKey, got %v", err)
	}
	if source != SourceNone {
		t.Errorf("source = %s", source)
	}
}

func TestCredentialPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := credentialPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(home, ".sonic-diagnostic", "credentials.gpg"); path != want {
		t.Errorf("expected path %q, got %q", want, path)
	}
}

func TestPassphrasePathSkipsInsecureFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	p := filepath.Join(dir, passphraseFile)
	if err := os.WriteFile(p, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := passphrasePath(); got == p {
		t.Errorf("world-readable passphrase file should be skipped")
	}

	if err := os.Chmod(p, 0600); err != nil {
		t.Fatal(err)
	}
	if got := passphrasePath(); got != p {
		t.Errorf("passphrasePath() = %q, want %q", got, p)
	}
}

type fakeSSM struct {
	value string
	err   error
	name  string
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.name = aws.ToString(in.Name)
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(f.value)}}, nil
}

func TestResolveLambdaKey(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "env-key")
		client := &fakeSSM{value: "ssm-key"}
		key, source, err := ResolveLambdaKey(context.Background(), client)
		if err != nil || key != "env-key" || source != SourceEnv {
			t.Errorf("got %q %s %v", key, source, err)
		}
		if client.name != "" {
			t.Error("SSM should not be called when the env var is set")
		}
	})

	t.Run("ssm default param", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvSSMParam, "")
		client := &fakeSSM{value: "ssm-key\n"}
		key, source, err := ResolveLambdaKey(context.Background(), client)
		if err != nil || key != "ssm-key" || source != SourceSSM {
			t.Errorf("got %q %s %v", key, source, err)
		}
		if client.name != DefaultSSMParam {
			t.Errorf("param = %q", client.name)
		}
	})

	t.Run("ssm custom param", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvSSMParam, "/custom/key")
		client := &fakeSSM{value: "k"}
		if _, _, err := ResolveLambdaKey(context.Background(), client); err != nil {
			t.Fatal(err)
		}
		if client.name != "/custom/key" {
			t.Errorf("param = %q", client.name)
		}
	})

	t.Run("ssm failure", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		_, source, err := ResolveLambdaKey(context.Background(), &fakeSSM{err: errors.New("AccessDenied")})
		if err == nil || !strings.Contains(err.Error(), "AccessDenied") || source != SourceNone {
			t.Errorf("got %s %v", source, err)
		}
	})

	t.Run("empty parameter", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		if _, _, err := ResolveLambdaKey(context.Background(), &fakeSSM{value: "  "}); err == nil {
			t.Error("expected error for empty parameter")
		}
	})

	t.Run("no client", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		if _, _, err := ResolveLambdaKey(context.Background(), nil); !errors.Is(err, ErrNoKey) {
			t.Errorf("expected ErrNoKey, got %v", err)
		}
	})
}

type stubGenerator struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (g stubGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.resp, g.err
}

func TestValidateAPIKey(t *testing.T) {
	ok := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "hello"}}}}}}

	tests := []struct {
		name       string
		gen        diagnosis.Generator
		wantKind   diagnosis.TransportErrorKind
		wantResult string
	}{
		{"valid", stubGenerator{resp: ok}, "", `"Result":"success"`},
		{"invalid key", stubGenerator{err: &genai.APIError{Code: 403, Message: "denied"}}, diagnosis.KindCredential, `"Result":"credential"`},
		{"quota", stubGenerator{err: &genai.APIError{Code: 429}}, diagnosis.KindQuota, `"Result":"quota"`},
		{"empty", stubGenerator{resp: &genai.GenerateContentResponse{}}, diagnosis.KindEmptyResponse, `"Result":"empty_response"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var emf bytes.Buffer
			err := ValidateAPIKey(context.Background(), tt.gen, diagnosis.DefaultModelName, &emf)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else {
				var te *diagnosis.TransportError
				if !errors.As(err, &te) || te.Kind != tt.wantKind {
					t.Fatalf("expected %s, got %v", tt.wantKind, err)
				}
			}
			if !strings.Contains(emf.String(), tt.wantResult) {
				t.Errorf("metrics missing %s: %s", tt.wantResult, emf.String())
			}
		})
	}

	if err := ValidateAPIKey(context.Background(), nil, diagnosis.DefaultModelName, nil); !errors.Is(err, diagnosis.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}
