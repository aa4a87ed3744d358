package pool

import (
	"os"
	"strings"

	"github.com/queryportal/queryportal/internal/config"
)

// Credentials are the resolved user/password for an instance.
type Credentials struct {
	User     string
	Password string
}

// ResolveCredentials returns explicit instance credentials when present,
// otherwise falls back to environment variables namespaced by instance ID
// (pattern: <BACKEND>_<INSTANCE_ID>_USER / _PASSWORD). This is the only
// sanctioned implicit credential source.
func ResolveCredentials(inst *config.Instance) Credentials {
	creds := Credentials{User: inst.User, Password: inst.Password}
	prefix := envPrefix(inst)

	if creds.User == "" {
		creds.User = os.Getenv(prefix + "_USER")
	}
	if creds.Password == "" {
		creds.Password = os.Getenv(prefix + "_PASSWORD")
	}
	return creds
}

// envPrefix builds the environment namespace for an instance: backend and
// instance ID uppercased, with non-alphanumeric characters normalized to
// underscores.
func envPrefix(inst *config.Instance) string {
	backend := "POSTGRES"
	if inst.Backend == config.BackendMongo {
		backend = "MONGODB"
	}
	return backend + "_" + normalizeEnvToken(inst.ID)
}

func normalizeEnvToken(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
