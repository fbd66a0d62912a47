package secrets

import "testing"

func TestEnvKeyNormalization(t *testing.T) {
	cases := map[string]string{
		"weather_api_key": "NAGATHA_WEATHER_API_KEY",
		"weather-api.key": "NAGATHA_WEATHER_API_KEY",
		"Token2":          "NAGATHA_TOKEN2",
	}
	for in, want := range cases {
		if got := EnvKey(in); got != want {
			t.Errorf("EnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetPrefersEnvironment(t *testing.T) {
	t.Setenv("NAGATHA_KEYRING_DISABLED", "1")
	t.Setenv("NAGATHA_WEATHER_API_KEY", "from-env")

	got, err := Get("weather_api_key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-env" {
		t.Errorf("got %q, want from-env", got)
	}
}

func TestGetMissingWithoutKeychain(t *testing.T) {
	t.Setenv("NAGATHA_KEYRING_DISABLED", "1")

	if _, err := Get("never_set_anywhere"); err == nil {
		t.Fatal("expected an error when the secret is nowhere")
	}
}

func TestAvailableRespectsDisableFlag(t *testing.T) {
	t.Setenv("NAGATHA_KEYRING_DISABLED", "1")
	if Available() {
		t.Fatal("keychain reported available despite the disable flag")
	}
}
