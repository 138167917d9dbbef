// Copyright 2016 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets resolves the monitor's database DSN from AWS Secrets
// Manager when the operator points it at a secret ARN, rather than passing
// a plaintext connection string on the command line. It plays the same role
// for cmd/ctmonitord that the GCP secret manager signer plays for
// cmd/tesseract/gcp: keep credential material out of flags and process
// listings.
package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretsClient is the subset of *secretsmanager.Client this package needs,
// narrowed so tests can supply a fake.
type secretsClient interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveDatabaseURL fetches the named AWS Secrets Manager secret and
// returns its plaintext string value as the DSN. secretARN must be
// non-empty; callers choose between the DATABASE_URL environment variable
// and this function, not both.
func ResolveDatabaseURL(ctx context.Context, secretARN string) (string, error) {
	if secretARN == "" {
		return "", fmt.Errorf("secrets: empty secret ARN")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("secrets: load AWS config: %w", err)
	}
	return resolve(ctx, secretsmanager.NewFromConfig(cfg), secretARN)
}

func resolve(ctx context.Context, client secretsClient, secretARN string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret value %q: %w", secretARN, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secrets: secret %q has no string value", secretARN)
	}
	return *out.SecretString, nil
}
