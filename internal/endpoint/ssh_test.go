package endpoint_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"syncapp/internal/config"
	"syncapp/internal/core"
	"syncapp/internal/endpoint"
)

func TestNewSSH_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-ssh scheme", func(t *testing.T) {
		_, err := endpoint.NewSSH(ctx, mustParse(t, "file:///data"), config.SSHConfig{Password: "x"})
		if !errors.Is(err, core.ErrInvalidURL) {
			t.Errorf("NewSSH() error = %v, want ErrInvalidURL", err)
		}
	})

	t.Run("rejects missing path", func(t *testing.T) {
		_, err := endpoint.NewSSH(ctx, mustParse(t, "ssh://host"), config.SSHConfig{Password: "x"})
		if !errors.Is(err, core.ErrInvalidURL) {
			t.Errorf("NewSSH() error = %v, want ErrInvalidURL", err)
		}
	})

	t.Run("rejects empty credentials before dialing", func(t *testing.T) {
		_, err := endpoint.NewSSH(ctx, mustParse(t, "ssh://host/data"), config.SSHConfig{})
		if err == nil || !strings.Contains(err.Error(), "key_file or password") {
			t.Errorf("NewSSH() error = %v, want credentials error", err)
		}
	})

	t.Run("rejects unreadable key file", func(t *testing.T) {
		cfg := config.SSHConfig{KeyFile: t.TempDir() + "/absent"}
		_, err := endpoint.NewSSH(ctx, mustParse(t, "ssh://host/data"), cfg)
		if err == nil || !strings.Contains(err.Error(), "reading ssh key") {
			t.Errorf("NewSSH() error = %v, want key read error", err)
		}
	})
}
