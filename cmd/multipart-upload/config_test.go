package main

import (
	"fmt"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_resolve(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config
		env      map[string]string
		wantErr  string
		validate func(t *testing.T, cfg config)
	}{
		{
			name: "s3 with region from env",
			cfg:  config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket", PartSize: "8MB"},
			env:  map[string]string{"AWS_REGION": "eu-west-1", "AWS_SECRET_ACCESS_KEY": "secret"},
			validate: func(t *testing.T, cfg config) {
				assert.Equal(t, "eu-west-1", cfg.Region)
				assert.Equal(t, Secret("secret"), cfg.SecretAccessKey)
				assert.Equal(t, int64(8_000_000), cfg.partSize)
			},
		},
		{
			name: "flag wins over env",
			cfg:  config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket", Region: "us-east-1"},
			env:  map[string]string{"AWS_REGION": "eu-west-1"},
			validate: func(t *testing.T, cfg config) {
				assert.Equal(t, "us-east-1", cfg.Region)
				assert.Zero(t, cfg.partSize)
			},
		},
		{
			name:    "s3 without bucket",
			cfg:     config{Provider: providerS3, Files: []string{"a"}, Region: "eu-west-1"},
			wantErr: "--bucket is required",
		},
		{
			name:    "s3 without region",
			cfg:     config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket"},
			env:     map[string]string{"AWS_REGION": ""},
			wantErr: "region is not defined",
		},
		{
			name: "api from env",
			cfg:  config{Provider: providerAPI, Files: []string{"a"}},
			env:  map[string]string{"MPU_API_URL": "https://cache.example", "MPU_API_TOKEN": "token"},
			validate: func(t *testing.T, cfg config) {
				assert.Equal(t, "https://cache.example", cfg.APIURL)
				assert.Equal(t, Secret("token"), cfg.APIToken)
			},
		},
		{
			name:    "api without token",
			cfg:     config{Provider: providerAPI, Files: []string{"a"}, APIURL: "https://cache.example"},
			env:     map[string]string{"MPU_API_TOKEN": ""},
			wantErr: "API token is not defined",
		},
		{
			name:    "unknown provider",
			cfg:     config{Provider: "gcs", Files: []string{"a"}},
			wantErr: "unknown provider",
		},
		{
			name:    "no files",
			cfg:     config{Provider: providerS3, Bucket: "bucket", Region: "eu-west-1"},
			wantErr: "no file to upload",
		},
		{
			name:    "invalid part size",
			cfg:     config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket", Region: "eu-west-1", PartSize: "lots"},
			wantErr: "invalid part size",
		},
		{
			name:    "negative concurrency",
			cfg:     config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket", Region: "eu-west-1", Concurrency: -1},
			wantErr: "concurrency must not be negative",
		},
		{
			name:    "compression level out of range",
			cfg:     config{Provider: providerS3, Files: []string{"a"}, Bucket: "bucket", Region: "eu-west-1", Compress: true, CompressionLevel: 30},
			wantErr: "compression level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := tt.cfg

			// When
			err := cfg.resolve(env.NewRepository())

			// Then
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("token").String())
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "token: *****", fmt.Sprintf("token: %s", Secret("token")))
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()

	require.NoError(t, cmd.ParseFlags([]string{"-p", "api", "-f", "a.zip", "-f", "out/*.tar", "--part-size", "16MB", "-c", "8"}))

	provider, err := cmd.Flags().GetString("provider")
	require.NoError(t, err)
	files, err := cmd.Flags().GetStringArray("file")
	require.NoError(t, err)
	concurrency, err := cmd.Flags().GetInt("concurrency")
	require.NoError(t, err)

	assert.Equal(t, providerAPI, provider)
	assert.Equal(t, []string{"a.zip", "out/*.tar"}, files)
	assert.Equal(t, 8, concurrency)
}
