package artifacts

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SignedURLField is the field the enricher attaches next to a storage
// reference.
const SignedURLField = "signedUrl"

// Enricher walks parsed output trees and attaches signed download URLs
// to every storage reference. Enrichment is presentation-only: the
// stored output payload is never modified.
type Enricher struct {
	signer Signer
	ttl    time.Duration
	logger *zap.Logger
}

// NewEnricher creates an enricher. ttl bounds the lifetime of the URLs
// it attaches; non-positive values fall back to the signer's default.
func NewEnricher(signer Signer, ttl time.Duration, logger *zap.Logger) *Enricher {
	return &Enricher{
		signer: signer,
		ttl:    ttl,
		logger: logger.Named("artifact_enricher"),
	}
}

// Enrich parses raw output, attaches signed URLs, and renders the
// result. Identical object keys within one call share a single signed
// URL. A key whose signing fails keeps its node unchanged; the rest of
// the tree is still enriched. A nil signer or empty payload passes the
// payload through untouched.
func (e *Enricher) Enrich(ctx context.Context, output json.RawMessage) (json.RawMessage, error) {
	if e == nil || e.signer == nil || len(output) == 0 {
		return output, nil
	}

	root, err := Parse(output)
	if err != nil {
		// Output is opaque provider data; an unparseable payload is
		// served as-is rather than failing the read.
		e.logger.Warn("Output payload is not valid JSON, skipping enrichment", zap.Error(err))
		return output, nil
	}

	urlCache := make(map[string]string)
	e.enrichNode(ctx, root, urlCache)

	rendered, err := root.Render()
	if err != nil {
		e.logger.Warn("Failed to render enriched output, serving original", zap.Error(err))
		return output, nil
	}
	return rendered, nil
}

func (e *Enricher) enrichNode(ctx context.Context, node *Node, urlCache map[string]string) {
	switch node.Kind {
	case KindSequence:
		for _, item := range node.Items {
			e.enrichNode(ctx, item, urlCache)
		}

	case KindObject:
		if node.StorageRef != "" {
			if signed, ok := e.signedURL(ctx, node.StorageRef, urlCache); ok {
				raw, _ := json.Marshal(signed)
				node.Fields[SignedURLField] = &Node{Kind: KindScalar, Scalar: raw}
			}
		}
		for _, field := range node.Fields {
			e.enrichNode(ctx, field, urlCache)
		}
	}
}

func (e *Enricher) signedURL(ctx context.Context, key string, urlCache map[string]string) (string, bool) {
	if cached, ok := urlCache[key]; ok {
		return cached, true
	}

	signed, err := e.signer.SignedURL(ctx, key, e.ttl)
	if err != nil {
		e.logger.Warn("Signing failed, omitting URL for key",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}

	urlCache[key] = signed
	return signed, true
}
