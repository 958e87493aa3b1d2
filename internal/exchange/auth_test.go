package exchange

import "testing"

func TestHeadersCarriesAPIKey(t *testing.T) {
	a := NewAuth(Credentials{APIKey: "key123", Secret: "deadbeef"})
	h := a.Headers("POST", "/order", `{"symbol":"BTC-PERP"}`)

	if h["MM-API-KEY"] != "key123" {
		t.Errorf("MM-API-KEY = %q, want key123", h["MM-API-KEY"])
	}
	if h["MM-SIGNATURE"] == "" {
		t.Error("MM-SIGNATURE is empty")
	}
	if h["MM-TIMESTAMP"] == "" {
		t.Error("MM-TIMESTAMP is empty")
	}
}

func TestSignIsDeterministicForSameTimestamp(t *testing.T) {
	a := NewAuth(Credentials{APIKey: "k", Secret: "s"})

	sig1 := a.sign("1700000000", "GET", "/positions", "")
	sig2 := a.sign("1700000000", "GET", "/positions", "")
	if sig1 != sig2 {
		t.Errorf("sign not deterministic: %q != %q", sig1, sig2)
	}
}

func TestSignDiffersByPathAndBody(t *testing.T) {
	a := NewAuth(Credentials{APIKey: "k", Secret: "s"})

	base := a.sign("1700000000", "POST", "/order", `{"a":1}`)
	diffPath := a.sign("1700000000", "POST", "/orders", `{"a":1}`)
	diffBody := a.sign("1700000000", "POST", "/order", `{"a":2}`)
	diffMethod := a.sign("1700000000", "DELETE", "/order", `{"a":1}`)

	if base == diffPath || base == diffBody || base == diffMethod {
		t.Error("signature did not vary with method/path/body")
	}
}

func TestCredentialsValid(t *testing.T) {
	if (Credentials{}).Valid() {
		t.Error("empty credentials should not be valid")
	}
	if (Credentials{APIKey: "k"}).Valid() {
		t.Error("credentials missing secret should not be valid")
	}
	if !(Credentials{APIKey: "k", Secret: "s"}).Valid() {
		t.Error("full credentials should be valid")
	}
}
