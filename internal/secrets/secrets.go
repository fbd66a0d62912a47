// Package secrets resolves plugin credentials. The environment wins so
// headless and container deployments work without a keychain; the OS
// keychain is the fallback for desktop use.
package secrets

import (
	"fmt"
	"os"
	"strings"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "nagatha"

// envPrefix namespaces the environment override for a secret name, e.g.
// the secret "weather_api_key" maps to NAGATHA_WEATHER_API_KEY.
const envPrefix = "NAGATHA_"

// EnvKey returns the environment variable that overrides the named secret.
func EnvKey(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return envPrefix + mapped
}

// Get resolves a secret: environment first, then the OS keychain.
func Get(name string) (string, error) {
	if v := os.Getenv(EnvKey(name)); v != "" {
		return v, nil
	}
	if !Available() {
		return "", fmt.Errorf("secret %q not set (set %s or store it in the keychain)", name, EnvKey(name))
	}
	v, err := zkr.Get(serviceName, name)
	if err != nil {
		return "", fmt.Errorf("keychain get %q: %w", name, err)
	}
	return v, nil
}

// Set stores a secret in the OS keychain.
func Set(name, value string) error {
	return zkr.Set(serviceName, name, value)
}

// Delete removes a secret from the OS keychain.
func Delete(name string) error {
	return zkr.Delete(serviceName, name)
}

// Available returns true if the OS keychain is functional.
// Returns false if NAGATHA_KEYRING_DISABLED=1 is set (opt-in for
// headless/CI/Docker). Otherwise probes the keychain with a test
// write/read/delete cycle.
func Available() bool {
	if os.Getenv("NAGATHA_KEYRING_DISABLED") == "1" {
		return false
	}
	testService := "nagatha-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}
