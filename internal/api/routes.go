package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Campaigns
	mux.Handle("POST /api/v1/campaigns", chain(http.HandlerFunc(h.CreateCampaign)))
	mux.Handle("GET /api/v1/campaigns/{id}", chain(http.HandlerFunc(h.GetCampaign)))
	mux.Handle("POST /api/v1/campaigns/{id}/recipients", chain(http.HandlerFunc(h.RegisterRecipients)))
	mux.Handle("GET /api/v1/campaigns/{id}/recipients", chain(http.HandlerFunc(h.ListRecipients)))

	// Customers (снимки из storefront)
	mux.Handle("POST /api/v1/customers", chain(http.HandlerFunc(h.CreateCustomer)))
	mux.Handle("GET /api/v1/customers/{id}", chain(http.HandlerFunc(h.GetCustomer)))

	// Sends (send ledger)
	mux.Handle("GET /api/v1/sends/{jobKey}", chain(http.HandlerFunc(h.GetSend)))

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows", chain(http.HandlerFunc(h.CreateFlow)))
	mux.Handle("GET /api/v1/flows/{id}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("DELETE /api/v1/flows/{id}", chain(http.HandlerFunc(h.DeleteFlow)))
	mux.Handle("PUT /api/v1/flows/{id}/active", chain(http.HandlerFunc(h.SetFlowActive)))
	mux.Handle("POST /api/v1/flows/{id}/trigger", chain(http.HandlerFunc(h.TriggerFlow)))

	// Executions
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("GET /api/v1/flows/{id}/executions", chain(http.HandlerFunc(h.ListFlowExecutions)))
	mux.Handle("POST /api/v1/executions/{id}/cancel", chain(http.HandlerFunc(h.CancelExecution)))
}
