package pool

import (
	"strings"
	"testing"

	"github.com/queryportal/queryportal/internal/config"
)

func TestResolveCredentials_ExplicitValuesWin(t *testing.T) {
	t.Setenv("POSTGRES_PG1_USER", "env-user")
	t.Setenv("POSTGRES_PG1_PASSWORD", "env-pass")

	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres, User: "explicit", Password: "secret"}
	creds := ResolveCredentials(inst)
	if creds.User != "explicit" || creds.Password != "secret" {
		t.Fatalf("expected explicit credentials to win, got %+v", creds)
	}
}

func TestResolveCredentials_FallsBackToEnvironment(t *testing.T) {
	t.Setenv("POSTGRES_PG1_USER", "env-user")
	t.Setenv("POSTGRES_PG1_PASSWORD", "env-pass")

	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres}
	creds := ResolveCredentials(inst)
	if creds.User != "env-user" || creds.Password != "env-pass" {
		t.Fatalf("expected environment fallback, got %+v", creds)
	}
}

func TestResolveCredentials_NormalizesInstanceID(t *testing.T) {
	t.Setenv("MONGODB_PROD_EVENTS_USER", "mongo-user")

	inst := &config.Instance{ID: "prod-events", Backend: config.BackendMongo}
	creds := ResolveCredentials(inst)
	if creds.User != "mongo-user" {
		t.Fatalf("expected hyphen to normalize to underscore, got %+v", creds)
	}
}

func TestPostgresDSN_DefaultsPort(t *testing.T) {
	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres, Host: "db.internal", User: "u", Password: "p"}
	dsn := PostgresDSN(inst, "app")
	if !strings.Contains(dsn, "port=5432") {
		t.Fatalf("expected default port 5432, got %q", dsn)
	}
	if !strings.Contains(dsn, "dbname=app") {
		t.Fatalf("expected dbname=app, got %q", dsn)
	}
}

func TestMongoURI_ExplicitURIWins(t *testing.T) {
	inst := &config.Instance{ID: "m1", Backend: config.BackendMongo, URI: "mongodb://custom:27018", Host: "ignored", Port: 27017}
	uri, err := MongoURI(inst)
	if err != nil {
		t.Fatalf("MongoURI returned error: %v", err)
	}
	if uri != "mongodb://custom:27018" {
		t.Fatalf("expected explicit URI, got %q", uri)
	}
}

func TestMongoURI_EscapesCredentials(t *testing.T) {
	inst := &config.Instance{ID: "m1", Backend: config.BackendMongo, Host: "localhost", Port: 27017, User: "user@corp", Password: "p@ss/word"}
	uri, err := MongoURI(inst)
	if err != nil {
		t.Fatalf("MongoURI returned error: %v", err)
	}
	if strings.Contains(uri, "user@corp") || strings.Contains(uri, "p@ss/word") {
		t.Fatalf("expected credentials to be escaped, got %q", uri)
	}
	if !strings.HasSuffix(uri, "@localhost:27017") {
		t.Fatalf("unexpected uri: %q", uri)
	}
}

func TestMongoURI_RequiresURIOrHostPort(t *testing.T) {
	inst := &config.Instance{ID: "m1", Backend: config.BackendMongo}
	if _, err := MongoURI(inst); err == nil {
		t.Fatal("expected error when neither uri nor host+port is set")
	}
}

func TestRelease_UnknownKeyIsANoop(t *testing.T) {
	m := NewManager()
	if err := m.Release("missing:key"); err != nil {
		t.Fatalf("expected nil for unknown key, got %v", err)
	}
	if stats := m.Stats(); stats.TotalCount != 0 || stats.Connected {
		t.Fatalf("expected empty registry, got %+v", stats)
	}
}
