package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/vovakirdan/wiredm-server/internal/store"
	"github.com/vovakirdan/wiredm-server/internal/store/storetest"
)

const dsnEnv = "WIREDM_TEST_POSTGRES_DSN"

func TestConformance(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
