package credential

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"github":       "GITHUB",
		"github-token": "GITHUB_TOKEN",
		"my.api.key":   "MY_API_KEY",
		"already_ok":   "ALREADY_OK",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyProviderOverrides(t *testing.T) {
	env := map[string]string{BearerEnvVar: "tok"}
	applyProviderOverrides(env, modelProfile{Provider: "ollama", BaseURL: "http://localhost:11434"})
	if env["OLLAMA_BASE_URL"] != "http://localhost:11434" {
		t.Errorf("expected OLLAMA_BASE_URL to be set, got %v", env)
	}
	if _, ok := env[BearerEnvVar]; ok {
		t.Errorf("expected bearer token removed on override, got %v", env)
	}

	env = map[string]string{BearerEnvVar: "tok"}
	applyProviderOverrides(env, modelProfile{Provider: ""})
	if len(env) != 1 || env[BearerEnvVar] != "tok" {
		t.Errorf("expected no overrides for default provider, got %v", env)
	}
}

func TestAsFlatStringObject(t *testing.T) {
	fields, ok := asFlatStringObject(`{"user":"bob","pass":"hunter2"}`)
	if !ok || fields["user"] != "bob" || fields["pass"] != "hunter2" {
		t.Errorf("expected flat object decode, got %v ok=%v", fields, ok)
	}

	if _, ok := asFlatStringObject("plain-secret-value"); ok {
		t.Error("expected non-JSON plaintext to not parse as a flat object")
	}

	if _, ok := asFlatStringObject(`{"nested":{"a":1}}`); ok {
		t.Error("expected nested object to be rejected as not flat")
	}
}
