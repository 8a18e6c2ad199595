package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used at startup.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func applySecrets(ctx context.Context, cfg *Config) error {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Secrets.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Secrets.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	return overlaySecrets(ctx, secretsmanager.NewFromConfig(awsCfg), cfg)
}

// overlaySecrets replaces sensitive settings with the values stored in the
// configured secret. Keys absent from the secret keep their env value.
func overlaySecrets(ctx context.Context, api SecretsAPI, cfg *Config) error {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.Secrets.SecretID),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", cfg.Secrets.SecretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", cfg.Secrets.SecretID)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return fmt.Errorf("decoding secret %s: %w", cfg.Secrets.SecretID, err)
	}

	targets := map[string]*string{
		"DB_PASSWORD":     &cfg.Database.Password,
		"JWT_SECRET":      &cfg.JWT.Secret,
		"SMTP_PASSWORD":   &cfg.SMTP.Password,
		"SUMMARY_API_KEY": &cfg.Summary.APIKey,
	}
	for key, dst := range targets {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
		}
	}

	return nil
}
