package server

import (
	"PortfolioLedger/internal/api"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gatewayMarshaler speaks plain encoding/json, matching the gRPC JSON codec.
var gatewayMarshaler = &runtime.JSONBuiltin{}

func bindBody[Req any](r *http.Request, _ map[string]string, req *Req) error {
	return gatewayMarshaler.NewDecoder(r.Body).Decode(req)
}

// Handler builds the HTTP/JSON mux. Routes call the service in-process and
// share the gRPC error mapping through runtime.HTTPError.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/portfolios", unary(s, mux, "InitializePortfolio", s.service.InitializePortfolio, bindBody[api.InitializePortfolioRequest])},
		{"GET", "/v1/portfolios/{owner}", unary(s, mux, "GetPortfolio", s.service.GetPortfolio,
			func(_ *http.Request, p map[string]string, req *api.GetPortfolioRequest) error {
				req.Owner = p["owner"]
				return nil
			})},
		{"GET", "/v1/addresses/{owner}", unary(s, mux, "DeriveAddress", s.service.DeriveAddress,
			func(_ *http.Request, p map[string]string, req *api.DeriveAddressRequest) error {
				req.Owner = p["owner"]
				return nil
			})},
		{"POST", "/v1/airdrops", unary(s, mux, "FundWallet", s.service.FundWallet, bindBody[api.FundWalletRequest])},
		{"GET", "/v1/accounts/{address}", unary(s, mux, "GetAccount", s.service.GetAccount,
			func(_ *http.Request, p map[string]string, req *api.GetAccountRequest) error {
				req.Address = p["address"]
				return nil
			})},
		{"GET", "/v1/journals/{address}", unary(s, mux, "ListJournals", s.service.ListJournals, bindJournals)},
		{"GET", "/v1/admin/integrity", unary(s, mux, "VerifyIntegrity", s.service.VerifyIntegrity,
			func(*http.Request, map[string]string, *api.VerifyIntegrityRequest) error { return nil })},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	if err := s.registerOps(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

// registerOps adds the health and metrics endpoints.
func (s *GRPCServer) registerOps(mux *runtime.ServeMux) error {
	liveness := func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}
	readiness := liveness
	if s.healthChecker != nil {
		liveness = func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			s.healthChecker.LivenessHandler(w, r)
		}
		readiness = func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			s.healthChecker.ReadinessHandler(w, r)
		}
	}

	metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})

	ops := []struct {
		pattern string
		handler runtime.HandlerFunc
	}{
		{"/healthz", liveness},
		{"/readyz", readiness},
		{"/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) { metrics.ServeHTTP(w, r) }},
	}
	for _, op := range ops {
		if err := mux.HandlePath("GET", op.pattern, op.handler); err != nil {
			return fmt.Errorf("register %s: %w", op.pattern, err)
		}
	}
	return nil
}

func unary[Req, Resp any](
	s *GRPCServer,
	mux *runtime.ServeMux,
	method string,
	call func(context.Context, *Req) (*Resp, error),
	bind func(r *http.Request, params map[string]string, req *Req) error,
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := r.Context()
		req := new(Req)
		if err := bind(r, params, req); err != nil {
			runtime.HTTPError(ctx, mux, gatewayMarshaler, w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}

		start := time.Now()
		resp, err := call(ctx, req)
		s.observe(method, start, err)
		if err != nil {
			runtime.HTTPError(ctx, mux, gatewayMarshaler, w, r, err)
			return
		}

		buf, err := gatewayMarshaler.Marshal(resp)
		if err != nil {
			runtime.HTTPError(ctx, mux, gatewayMarshaler, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", gatewayMarshaler.ContentType(resp))
		w.Write(buf)
	}
}

func bindJournals(r *http.Request, p map[string]string, req *api.ListJournalsRequest) error {
	req.Address = p["address"]
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		req.Limit = int32(n)
	}
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("before_sequence: %w", err)
		}
		req.BeforeSequence = n
	}
	return nil
}
