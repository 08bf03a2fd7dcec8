package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the ops API.
func buildOpenAPIDoc(version string) map[string]any {
	if version == "" {
		version = "dev"
	}

	protected := func(summary, scope string, responses map[string]any) map[string]any {
		responses["401"] = map[string]any{"description": "Missing or invalid API key"}
		responses["403"] = map[string]any{"description": "Insufficient scope (requires " + scope + ")"}
		return map[string]any{
			"get": map[string]any{
				"summary":   summary,
				"responses": responses,
				"security":  []any{map[string]any{"BearerAuth": []string{scope}}},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "deploygw ops API",
			"version": version,
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"summary":   "Service health",
					"responses": map[string]any{"200": map[string]any{"description": "Healthy"}},
				},
			},
			"/deploys": protected("Recently recorded deploy events", ScopeDeploysRead, map[string]any{
				"200": map[string]any{"description": "Newest first"},
				"400": map[string]any{"description": "Invalid limit"},
				"404": map[string]any{"description": "Deploy history is disabled"},
			}),
			"/events": protected("Server-sent stream of dispatched deploy events", ScopeEventsRead, map[string]any{
				"200": map[string]any{"description": "text/event-stream"},
			}),
			"/metrics": protected("Prometheus metrics", ScopeMetricsRead, map[string]any{
				"200": map[string]any{"description": "Prometheus text format"},
			}),
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
