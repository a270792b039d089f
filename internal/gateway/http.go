package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes caps the form body the handler will parse.
const maxBodyBytes = 64 << 10

// Handler returns the HTTP surface: one form-encoded POST endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(g.contract.Endpoint.Path, g.recoverer(http.HandlerFunc(g.serveEndpoint)))
	return mux
}

func (g *Gateway) serveEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		g.writeJSON(w, http.StatusMethodNotAllowed, Body{
			Result:  g.contract.Results.Error,
			Message: "method not allowed",
		})
		return
	}

	ctx, span := otel.Tracer("sessiongate/gateway").Start(r.Context(), "POST "+g.contract.Endpoint.Path,
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		// Fall through with whatever parsed; the checks reject empty fields.
		g.logger.Debug("form parse failed", "error", err)
	}

	keys := r.Header.Values(g.contract.Endpoint.Header)
	req := Request{
		HasAPIKey: len(keys) > 0,
		Action:    r.PostForm.Get(g.contract.Endpoint.ActionField),
		Token:     r.PostForm.Get(g.contract.Endpoint.TokenField),
	}
	if req.HasAPIKey {
		req.APIKey = keys[0]
	}

	resp := g.Handle(ctx, req)

	span.SetAttributes(
		attribute.String("gateway.action", req.Action),
		attribute.String("gateway.kind", resp.Kind.String()),
		attribute.Int("http.response.status_code", resp.Status),
	)
	if resp.Kind != KindNone {
		span.SetStatus(codes.Error, resp.Kind.String())
	}

	g.writeJSON(w, resp.Status, resp.Body)
}

// recoverer turns a handler panic into a 500 ERROR response.
func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				g.logger.Error("handler panic", "panic", rec, "path", r.URL.Path)
				g.writeJSON(w, KindInternal.Status(g.contract), Body{
					Result:  g.contract.Results.Error,
					Message: "internal error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Warn("write response", slog.Any("error", err))
	}
}
