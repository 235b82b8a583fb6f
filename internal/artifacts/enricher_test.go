package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSigner counts signing calls and can fail selected keys.
type fakeSigner struct {
	calls    int
	failKeys map[string]bool
}

func (f *fakeSigner) SignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	f.calls++
	if f.failKeys[objectKey] {
		return "", errors.New("signing backend unavailable")
	}
	return fmt.Sprintf("https://storage.example/%s?sig=%d", objectKey, f.calls), nil
}

func newTestEnricher(signer Signer) *Enricher {
	return NewEnricher(signer, time.Minute, zap.NewNop())
}

func enrichToMap(t *testing.T, e *Enricher, raw string) map[string]interface{} {
	t.Helper()
	out, err := e.Enrich(context.Background(), json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("enriched output is not valid JSON: %v", err)
	}
	return decoded
}

func TestEnrichAttachesSignedURL(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{"structure":{"key":"results/structure.pdb","format":"pdb"}}`)

	structure, ok := decoded["structure"].(map[string]interface{})
	if !ok {
		t.Fatal("structure node missing")
	}
	signed, ok := structure["signedUrl"].(string)
	if !ok || signed == "" {
		t.Fatal("signedUrl not attached to storage reference")
	}
	if structure["key"] != "results/structure.pdb" {
		t.Error("original key field must survive enrichment")
	}
	if structure["format"] != "pdb" {
		t.Error("sibling fields must survive enrichment")
	}
}

func TestEnrichIdenticalKeysShareOneURL(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{
		"best":   {"key": "results/model.cif"},
		"ranked": [{"key": "results/model.cif"}, {"key": "results/other.cif"}]
	}`)

	best := decoded["best"].(map[string]interface{})
	ranked := decoded["ranked"].([]interface{})
	first := ranked[0].(map[string]interface{})
	second := ranked[1].(map[string]interface{})

	if best["signedUrl"] != first["signedUrl"] {
		t.Error("identical keys must share one cached URL within a pass")
	}
	if best["signedUrl"] == second["signedUrl"] {
		t.Error("distinct keys must get distinct URLs")
	}
	if signer.calls != 2 {
		t.Errorf("signer called %d times, want 2 (one per distinct key)", signer.calls)
	}
}

func TestEnrichNodeWithoutKeyGetsNoURL(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{"metrics":{"plddt":87.4},"note":"done"}`)

	metrics := decoded["metrics"].(map[string]interface{})
	if _, ok := metrics["signedUrl"]; ok {
		t.Error("node without a key field must not get a signedUrl")
	}
	if signer.calls != 0 {
		t.Errorf("signer called %d times, want 0", signer.calls)
	}
}

func TestEnrichSigningFailureOmitsURLOnly(t *testing.T) {
	signer := &fakeSigner{failKeys: map[string]bool{"results/broken.pdb": true}}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{
		"broken": {"key": "results/broken.pdb"},
		"good":   {"key": "results/good.pdb"}
	}`)

	broken := decoded["broken"].(map[string]interface{})
	if _, ok := broken["signedUrl"]; ok {
		t.Error("failed signing must omit signedUrl, not attach one")
	}
	good := decoded["good"].(map[string]interface{})
	if _, ok := good["signedUrl"]; !ok {
		t.Error("one failed key must not block enrichment of the rest")
	}
}

func TestEnrichNonStringKeyIsNotAReference(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{"lookup":{"key":42}}`)

	lookup := decoded["lookup"].(map[string]interface{})
	if _, ok := lookup["signedUrl"]; ok {
		t.Error("numeric key field is not a storage reference")
	}
}

func TestEnrichHandlesDeepNesting(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	decoded := enrichToMap(t, e, `{"runs":[{"outputs":{"files":[{"key":"deep/file.bin"}]}}]}`)

	runs := decoded["runs"].([]interface{})
	outputs := runs[0].(map[string]interface{})["outputs"].(map[string]interface{})
	files := outputs["files"].([]interface{})
	file := files[0].(map[string]interface{})
	if _, ok := file["signedUrl"]; !ok {
		t.Error("deeply nested storage references must be enriched")
	}
}

func TestEnrichPassesThroughNonJSONAndEmpty(t *testing.T) {
	signer := &fakeSigner{}
	e := newTestEnricher(signer)

	out, err := e.Enrich(context.Background(), nil)
	if err != nil || out != nil {
		t.Errorf("Enrich(nil) = %v, %v, want nil passthrough", out, err)
	}

	garbled := json.RawMessage(`not json at all`)
	out, err = e.Enrich(context.Background(), garbled)
	if err != nil {
		t.Fatalf("Enrich() of invalid JSON should not fail: %v", err)
	}
	if string(out) != string(garbled) {
		t.Error("invalid JSON must pass through unchanged")
	}
}

func TestEnrichNilSignerPassesThrough(t *testing.T) {
	e := NewEnricher(nil, time.Minute, zap.NewNop())
	raw := json.RawMessage(`{"structure":{"key":"results/structure.pdb"}}`)

	out, err := e.Enrich(context.Background(), raw)
	if err != nil {
		t.Fatalf("Enrich() error: %v", err)
	}
	if string(out) != string(raw) {
		t.Error("nil signer must pass output through untouched")
	}
}
