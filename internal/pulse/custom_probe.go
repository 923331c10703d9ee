package pulse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/pulsewatch/internal/store"
	"github.com/HerbHall/pulsewatch/pkg/models"
)

// ErrUnsupportedProtocol is returned by CustomProbe for non-HTTP services.
var ErrUnsupportedProtocol = errors.New("custom probe requires an http service")

// CustomProbe issues a one-off GET to the service's target with path appended,
// sending the service's configured headers. The result is returned to the
// caller only: it is not recorded, persisted, or alerted on.
func (m *Module) CustomProbe(ctx context.Context, name, path string) (models.HealthCheckResult, error) {
	st, ok := m.registry.Get(name)
	if !ok {
		return models.HealthCheckResult{}, fmt.Errorf("%w: %s", store.ErrServiceNotFound, name)
	}
	def := st.Definition
	if def.Protocol != models.ProtocolHTTP {
		return models.HealthCheckResult{}, fmt.Errorf("%w: %s uses %s", ErrUnsupportedProtocol, name, def.Protocol)
	}

	checker, ok := m.checkers[models.ProtocolHTTP].(*HTTPChecker)
	if !ok {
		checker = NewHTTPChecker()
	}
	def.Target = joinPath(def.Target, path)

	timeout := def.Timeout(m.cfg.Timeout)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return checker.get(pctx, &def, def.Target), nil
}

// joinPath appends path to base with exactly one slash between them.
func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
