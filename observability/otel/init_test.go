package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =x,tenant=vault")
	if len(headers) != 2 || headers["api-key"] != "secret" || headers["tenant"] != "vault" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd", Environment: "test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestServiceResourceCarriesDeployment(t *testing.T) {
	res, err := serviceResource(Config{ServiceName: "vaultd", ServiceVersion: "1.2.3", Environment: "staging"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	want := map[string]string{
		"service.name":           "vaultd",
		"service.version":        "1.2.3",
		"deployment.environment": "staging",
	}
	for _, kv := range res.Attributes() {
		if expected, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != expected {
				t.Fatalf("%s: expected %q, got %q", kv.Key, expected, kv.Value.AsString())
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing attributes %v", want)
	}
}
