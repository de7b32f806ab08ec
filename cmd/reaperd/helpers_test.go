package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/assetvault/reaper/internal/api"
	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/events"
	"github.com/assetvault/reaper/internal/ledger"
	"github.com/assetvault/reaper/internal/metadata"
	"github.com/assetvault/reaper/internal/objectstore"
)

const testSecret = "test-secret"

// testConfig returns a configuration whose servers bind ephemeral ports and
// whose scheduler never fires on its own during a test.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Reaper.Interval = time.Hour
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.JWTSecret = testSecret
	cfg.Observability.HealthAddr = "127.0.0.1:0"
	cfg.Eligibility.ProtectedCollections = []string{"/legal"}
	cfg.Eligibility.PersistenceMarker = "persist"
	return cfg
}

// testBackends are in-memory stand-ins for S3, Oxia, Postgres and Kafka.
type testBackends struct {
	*Backends
	meta   *metadata.MockStore
	images *objectstore.MockStore
	audit  *objectstore.MockStore
	pause  *objectstore.MockStore
	ledger *ledger.MemoryLedger
}

func newTestBackends(withAudit bool) *testBackends {
	tb := &testBackends{
		meta:   metadata.NewMockStore(),
		images: objectstore.NewMockStore(),
		audit:  objectstore.NewMockStore(),
		pause:  objectstore.NewMockStore(),
		ledger: ledger.NewMemoryLedger(),
	}
	tb.Backends = &Backends{
		Meta:   tb.meta,
		Images: tb.images,
		Pause:  tb.pause,
		Ledger: tb.ledger,
		Events: events.Nop{},
	}
	if withAudit {
		tb.Backends.Audit = tb.audit
	}
	return tb
}

func signToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		RoleArray: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
