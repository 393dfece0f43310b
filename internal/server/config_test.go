package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/globalchat/internal/backplane"
	"github.com/Tyrowin/globalchat/internal/server"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := server.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, server.NewConfig(), cfg)
	require.False(t, cfg.IsDevelopment())
	require.False(t, cfg.UsesTLS())
	require.True(t, cfg.EchoToSender)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "Development")
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")
	t.Setenv("KEEP_ALIVE_INTERVAL", "5s")
	t.Setenv("CLIENT_TIMEOUT", "12s")
	t.Setenv("ECHO_TO_SENDER", "false")
	t.Setenv("BACKPLANE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := server.LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, ":9090", cfg.Port)
	require.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.Origins())
	require.Equal(t, 5*time.Second, cfg.KeepAliveInterval)
	require.Equal(t, 12*time.Second, cfg.ClientTimeout)
	require.False(t, cfg.EchoToSender)

	bp := cfg.BackplaneConfig()
	require.Equal(t, backplane.KindRedis, bp.Kind)
	require.Equal(t, "redis:6379", bp.RedisAddr)
	require.Equal(t, "globalchat", bp.Channel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*server.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*server.Config) {}},
		{name: "unknown environment", mutate: func(c *server.Config) { c.Environment = "Staging" }, wantErr: true},
		{name: "unknown backplane", mutate: func(c *server.Config) { c.Backplane = "kafka" }, wantErr: true},
		{name: "zero buffer", mutate: func(c *server.Config) { c.SendBufferSize = 0 }, wantErr: true},
		{name: "timeout below keepalive", mutate: func(c *server.Config) {
			c.KeepAliveInterval = 30 * time.Second
			c.ClientTimeout = 10 * time.Second
		}, wantErr: true},
		{name: "cert without key", mutate: func(c *server.Config) { c.TLSCertFile = "cert.pem" }, wantErr: true},
		{name: "cert and key", mutate: func(c *server.Config) {
			c.TLSCertFile = "cert.pem"
			c.TLSKeyFile = "key.pem"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := server.NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_OriginsEmpty(t *testing.T) {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = "  "
	require.Empty(t, cfg.Origins())
}

func TestConfig_UsesTLS(t *testing.T) {
	cfg := server.NewConfig()
	cfg.TLSCertFile = "cert.pem"
	cfg.TLSKeyFile = "key.pem"
	require.True(t, cfg.UsesTLS())
}
