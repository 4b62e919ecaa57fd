package rest

import (
	"net/http"
	"testing"

	"github.com/fluxgraph/engine/internal/capability"
)

func TestHandleCatalog_ReturnsBuiltinConnectors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registry/catalog", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []capability.Connector `json:"data"`
	}
	parseJSON(t, rec, &resp)
	if len(resp.Data) == 0 {
		t.Fatal("expected a non-empty catalog")
	}
}

func TestHandleCatalog_FiltersImplementedOnly(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registry/catalog?implemented=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []capability.Connector `json:"data"`
	}
	parseJSON(t, rec, &resp)
	for _, conn := range resp.Data {
		for id, op := range conn.Operations {
			if !op.Implemented {
				t.Fatalf("expected only implemented operations, found %s/%s unimplemented", conn.App, id)
			}
		}
	}
}

func TestHandleOpSchema_KnownOperationSucceeds(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registry/op-schema?app=core&op=manual&kind=trigger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Implemented bool `json:"implemented"`
		} `json:"data"`
	}
	parseJSON(t, rec, &resp)
	if !resp.Data.Implemented {
		t.Fatal("expected core/manual to be implemented")
	}
}

func TestHandleOpSchema_UnknownOperationReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registry/op-schema?app=nope&op=nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleOpSchema_MissingParamsReturns400(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registry/op-schema", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body = %s", rec.Code, rec.Body.String())
	}
}
