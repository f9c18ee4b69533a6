package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// EnvSSMParam names the SSM parameter holding the key under Lambda.
const EnvSSMParam = "SSM_API_KEY_PARAM"

// DefaultSSMParam is used when EnvSSMParam is unset.
const DefaultSSMParam = "/sonic-diagnostic/prod/gemini-api-key"

// ParameterGetter is the subset of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NewSSMClient loads the default AWS config and returns an SSM client.
func NewSSMClient(ctx context.Context) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return ssm.NewFromConfig(cfg), nil
}

// SSMParamName returns the configured parameter name.
func SSMParamName() string {
	if p := os.Getenv(EnvSSMParam); p != "" {
		return p
	}
	return DefaultSSMParam
}

// GetFromSSM reads and decrypts the key parameter.
func GetFromSSM(ctx context.Context, client ParameterGetter) (string, error) {
	name := SSMParamName()
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read API key from SSM parameter %s: %w", name, err)
	}
	if out == nil || out.Parameter == nil || strings.TrimSpace(aws.ToString(out.Parameter.Value)) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}

// ResolveLambdaKey returns the key from GEMINI_API_KEY or SSM. A nil
// client skips SSM.
func ResolveLambdaKey(ctx context.Context, client ParameterGetter) (string, Source, error) {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return key, SourceEnv, nil
	}
	if client == nil {
		return "", SourceNone, ErrNoKey
	}
	key, err := GetFromSSM(ctx, client)
	if err != nil {
		return "", SourceNone, err
	}
	return key, SourceSSM, nil
}
