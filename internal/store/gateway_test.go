package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.uber.org/zap"
)

// gatewayFactory opens a fresh, empty gateway with the given retention cap.
type gatewayFactory func(t *testing.T, maxHistory int) Gateway

func sqliteFactory(t *testing.T, maxHistory int) Gateway {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	gw, err := NewSQLiteGateway(context.Background(), db, maxHistory)
	if err != nil {
		db.Close()
		t.Fatalf("NewSQLiteGateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func fileFactory(t *testing.T, maxHistory int) Gateway {
	t.Helper()
	gw, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"), maxHistory)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func memoryFactory(t *testing.T, maxHistory int) Gateway {
	t.Helper()
	gw, err := NewFileStore("", maxHistory)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return gw
}

func testDefinition(name string) *models.ServiceDefinition {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.ServiceDefinition{
		Name:      name,
		Protocol:  models.ProtocolHTTP,
		Target:    "https://" + name + ".example.com/health",
		Headers:   map[string]string{"Authorization": "Bearer token"},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testResult(code int, success bool) *models.HealthCheckResult {
	return &models.HealthCheckResult{
		StatusCode:     code,
		Success:        success,
		ResponseTimeMs: float64(code) / 10,
		Timestamp:      time.Now().UTC(),
	}
}

func TestGatewayContract(t *testing.T) {
	factories := map[string]gatewayFactory{
		"sqlite": sqliteFactory,
		"file":   fileFactory,
		"memory": memoryFactory,
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			runGatewayContract(t, factory)
		})
	}
}

func runGatewayContract(t *testing.T, open gatewayFactory) {
	ctx := context.Background()

	t.Run("add then get", func(t *testing.T) {
		gw := open(t, 10)
		if err := gw.AddService(ctx, testDefinition("api")); err != nil {
			t.Fatalf("AddService: %v", err)
		}
		got, err := gw.GetService(ctx, "api")
		if err != nil {
			t.Fatalf("GetService: %v", err)
		}
		if got == nil {
			t.Fatal("GetService returned nil after AddService")
		}
		if got.Target != "https://api.example.com/health" {
			t.Errorf("Target = %q, want the stored target", got.Target)
		}
		if got.Headers["Authorization"] != "Bearer token" {
			t.Errorf("Headers = %v, want Authorization preserved", got.Headers)
		}
		if !got.Enabled {
			t.Error("Enabled = false, want true")
		}
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		gw := open(t, 10)
		got, err := gw.GetService(ctx, "ghost")
		if err != nil {
			t.Fatalf("GetService: %v", err)
		}
		if got != nil {
			t.Errorf("GetService(ghost) = %+v, want nil", got)
		}
	})

	t.Run("duplicate add fails", func(t *testing.T) {
		gw := open(t, 10)
		if err := gw.AddService(ctx, testDefinition("api")); err != nil {
			t.Fatalf("AddService: %v", err)
		}
		dup := testDefinition("api")
		dup.Target = "tcp://elsewhere:1"
		err := gw.AddService(ctx, dup)
		if !errors.Is(err, ErrServiceExists) {
			t.Fatalf("duplicate AddService error = %v, want ErrServiceExists", err)
		}
		got, _ := gw.GetService(ctx, "api")
		if got.Target != "https://api.example.com/health" {
			t.Errorf("duplicate add overwrote target: %q", got.Target)
		}
	})

	t.Run("update", func(t *testing.T) {
		gw := open(t, 10)
		if err := gw.AddService(ctx, testDefinition("api")); err != nil {
			t.Fatalf("AddService: %v", err)
		}
		d := testDefinition("api")
		d.Target = "https://api.example.com/v2/health"
		d.Enabled = false
		d.IntervalSeconds = 15
		if err := gw.UpdateService(ctx, d); err != nil {
			t.Fatalf("UpdateService: %v", err)
		}
		got, _ := gw.GetService(ctx, "api")
		if got.Target != d.Target || got.Enabled || got.IntervalSeconds != 15 {
			t.Errorf("after update got %+v", got)
		}

		err := gw.UpdateService(ctx, testDefinition("ghost"))
		if !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("UpdateService(ghost) error = %v, want ErrServiceNotFound", err)
		}
	})

	t.Run("delete removes history", func(t *testing.T) {
		gw := open(t, 10)
		if err := gw.AddService(ctx, testDefinition("api")); err != nil {
			t.Fatalf("AddService: %v", err)
		}
		if err := gw.SaveCheckResult(ctx, "api", testResult(200, true)); err != nil {
			t.Fatalf("SaveCheckResult: %v", err)
		}
		if err := gw.DeleteService(ctx, "api"); err != nil {
			t.Fatalf("DeleteService: %v", err)
		}
		if got, _ := gw.GetService(ctx, "api"); got != nil {
			t.Error("service still present after delete")
		}
		h, err := gw.GetHistory(ctx, "api", 10)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(h) != 0 {
			t.Errorf("history after delete = %d entries, want 0", len(h))
		}
		if err := gw.DeleteService(ctx, "api"); !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("second DeleteService error = %v, want ErrServiceNotFound", err)
		}
	})

	t.Run("list keeps insertion order", func(t *testing.T) {
		gw := open(t, 10)
		for _, n := range []string{"a", "b", "c"} {
			if err := gw.AddService(ctx, testDefinition(n)); err != nil {
				t.Fatalf("AddService(%s): %v", n, err)
			}
		}
		defs, err := gw.ListServices(ctx)
		if err != nil {
			t.Fatalf("ListServices: %v", err)
		}
		if len(defs) != 3 {
			t.Fatalf("ListServices returned %d, want 3", len(defs))
		}
		for i, want := range []string{"a", "b", "c"} {
			if defs[i].Name != want {
				t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, want)
			}
		}
	})

	t.Run("history retention is fifo", func(t *testing.T) {
		gw := open(t, 3)
		if err := gw.AddService(ctx, testDefinition("api")); err != nil {
			t.Fatalf("AddService: %v", err)
		}
		for code := 1; code <= 5; code++ {
			if err := gw.SaveCheckResult(ctx, "api", testResult(code, false)); err != nil {
				t.Fatalf("SaveCheckResult(%d): %v", code, err)
			}
		}
		h, err := gw.GetHistory(ctx, "api", 0)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(h) != 3 {
			t.Fatalf("history length = %d, want 3", len(h))
		}
		for i, want := range []int{3, 4, 5} {
			if h[i].StatusCode != want {
				t.Errorf("history[%d].StatusCode = %d, want %d", i, h[i].StatusCode, want)
			}
		}

		recent, _ := gw.GetHistory(ctx, "api", 2)
		if len(recent) != 2 || recent[0].StatusCode != 4 || recent[1].StatusCode != 5 {
			t.Errorf("GetHistory(limit=2) = %+v, want codes [4 5]", recent)
		}
	})

	t.Run("save result for unknown service", func(t *testing.T) {
		gw := open(t, 3)
		err := gw.SaveCheckResult(ctx, "ghost", testResult(200, true))
		if !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("SaveCheckResult(ghost) error = %v, want ErrServiceNotFound", err)
		}
	})

	t.Run("config round trip", func(t *testing.T) {
		gw := open(t, 3)
		got, err := gw.GetConfig(ctx, "dashboard")
		if err != nil {
			t.Fatalf("GetConfig: %v", err)
		}
		if got != nil {
			t.Errorf("GetConfig(unset) = %q, want nil", got)
		}
		for i := 1; i <= 2; i++ {
			v := []byte(fmt.Sprintf(`{"refresh":%d}`, i))
			if err := gw.SaveConfig(ctx, "dashboard", v); err != nil {
				t.Fatalf("SaveConfig: %v", err)
			}
			got, err := gw.GetConfig(ctx, "dashboard")
			if err != nil {
				t.Fatalf("GetConfig: %v", err)
			}
			if string(got) != string(v) {
				t.Errorf("GetConfig = %s, want %s", got, v)
			}
		}
	})
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	fs, err := NewFileStore(path, 5)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.AddService(ctx, testDefinition("api")); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := fs.SaveCheckResult(ctx, "api", testResult(200, true)); err != nil {
		t.Fatalf("SaveCheckResult: %v", err)
	}
	if err := fs.SaveConfig(ctx, "channels", []byte(`[]`)); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewFileStore(path, 5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defs, _ := reopened.ListServices(ctx)
	if len(defs) != 1 || defs[0].Name != "api" {
		t.Fatalf("reopened services = %+v, want [api]", defs)
	}
	h, _ := reopened.GetHistory(ctx, "api", 0)
	if len(h) != 1 || h[0].StatusCode != 200 {
		t.Errorf("reopened history = %+v, want one 200 result", h)
	}
	cfg, _ := reopened.GetConfig(ctx, "channels")
	if string(cfg) != "[]" {
		t.Errorf("reopened config = %q, want []", cfg)
	}
}

func TestFileStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	fs, err := NewFileStore(filepath.Join(dir, "state.json"), 5)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs.AddService(ctx, testDefinition("api")); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := fs.SaveCheckResult(ctx, "api", testResult(200, true)); err != nil {
		t.Fatalf("SaveCheckResult: %v", err)
	}
	if err := fs.SaveConfig(ctx, "channels", []byte(`[]`)); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	// Every snapshot write fails once the directory is gone.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove data dir: %v", err)
	}

	if err := fs.AddService(ctx, testDefinition("web")); err == nil {
		t.Error("AddService() error = nil, want write error")
	}
	if got, _ := fs.GetService(ctx, "web"); got != nil {
		t.Error("service kept after failed AddService")
	}

	changed := testDefinition("api")
	changed.Target = "https://changed.example.com/health"
	if err := fs.UpdateService(ctx, changed); err == nil {
		t.Error("UpdateService() error = nil, want write error")
	}
	if got, _ := fs.GetService(ctx, "api"); got == nil || got.Target != testDefinition("api").Target {
		t.Errorf("service after failed UpdateService = %+v, want original target", got)
	}

	if err := fs.SaveCheckResult(ctx, "api", testResult(500, false)); err == nil {
		t.Error("SaveCheckResult() error = nil, want write error")
	}
	if h, _ := fs.GetHistory(ctx, "api", 0); len(h) != 1 || h[0].StatusCode != 200 {
		t.Errorf("history after failed SaveCheckResult = %+v, want one 200 result", h)
	}

	if err := fs.SaveConfig(ctx, "channels", []byte(`[{}]`)); err == nil {
		t.Error("SaveConfig() error = nil, want write error")
	}
	if cfg, _ := fs.GetConfig(ctx, "channels"); string(cfg) != "[]" {
		t.Errorf("config after failed SaveConfig = %q, want []", cfg)
	}

	if err := fs.DeleteService(ctx, "api"); err == nil {
		t.Error("DeleteService() error = nil, want write error")
	}
	if got, _ := fs.GetService(ctx, "api"); got == nil {
		t.Error("service removed after failed DeleteService")
	}
	if h, _ := fs.GetHistory(ctx, "api", 0); len(h) != 1 {
		t.Errorf("history after failed DeleteService = %d results, want 1", len(h))
	}

	// Once writes succeed again, the rejected add can be retried.
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("recreate data dir: %v", err)
	}
	if err := fs.AddService(ctx, testDefinition("web")); err != nil {
		t.Errorf("retry AddService: %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("disabled uses memory", func(t *testing.T) {
		gw, err := Open(ctx, Config{Enabled: false, Backend: BackendMongoDB}, logger)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer gw.Close()
		if _, ok := gw.(*FileStore); !ok {
			t.Errorf("Open(disabled) = %T, want *FileStore", gw)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		gw, err := Open(ctx, Config{
			Enabled:    true,
			Backend:    BackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "p.db"),
			AppVersion: "1.0.0",
		}, logger)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer gw.Close()
		if _, ok := gw.(*SQLiteGateway); !ok {
			t.Errorf("Open(sqlite) = %T, want *SQLiteGateway", gw)
		}
	})

	t.Run("file", func(t *testing.T) {
		gw, err := Open(ctx, Config{
			Enabled:  true,
			Backend:  BackendFile,
			FilePath: filepath.Join(t.TempDir(), "p.json"),
		}, logger)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer gw.Close()
		if _, ok := gw.(*FileStore); !ok {
			t.Errorf("Open(file) = %T, want *FileStore", gw)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := Open(ctx, Config{Enabled: true, Backend: "cassandra"}, logger); err == nil {
			t.Error("Open(cassandra) error = nil, want error")
		}
	})
}
