package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"stream-orchestrator/config"
	"stream-orchestrator/constant"
)

func TestWarnUnsignedWebhooks(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		webhooks config.Webhooks
		warned   []string
	}{
		{
			name:     "production with empty secrets",
			env:      constant.EnvironmentProduction.String(),
			webhooks: config.Webhooks{IntakeToken: "token"},
			warned:   []string{"webhooks.primary_secret", "webhooks.bridge_secret"},
		},
		{
			name:     "production fully configured",
			env:      constant.EnvironmentProduction.String(),
			webhooks: config.Webhooks{IntakeToken: "token", PrimarySecret: "p", BridgeSecret: "b"},
		},
		{
			name: "develop without secrets",
			env:  constant.EnvironmentDevelop.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx := zerolog.New(&buf).WithContext(context.Background())
			cfg := &config.Config{App: config.App{Environment: tt.env}, Webhooks: tt.webhooks}

			warnUnsignedWebhooks(ctx, cfg)

			out := buf.String()
			if len(tt.warned) == 0 {
				assert.Empty(t, out)
				return
			}
			assert.Equal(t, len(tt.warned), bytes.Count(buf.Bytes(), []byte("\n")))
			for _, name := range tt.warned {
				assert.Contains(t, out, name)
			}
			assert.Contains(t, out, `"level":"warn"`)
			assert.NotContains(t, out, "webhooks.intake_token")
		})
	}
}
