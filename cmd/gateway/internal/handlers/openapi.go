package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPIHandler serves the OpenAPI specification
type OpenAPIHandler struct {
	spec map[string]interface{}
}

// NewOpenAPIHandler creates a new OpenAPI handler
func NewOpenAPIHandler() *OpenAPIHandler {
	return &OpenAPIHandler{spec: generateOpenAPISpec()}
}

// ServeSpec handles GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(h.spec)
}

func queryParam(name, description string, required bool, schemaType string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      map[string]interface{}{"type": schemaType},
	}
}

func jsonResponse(description, ref string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": "#/components/schemas/" + ref},
			},
		},
	}
}

func operation(summary string, params []interface{}, responses map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{"summary": summary, "responses": responses}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return op
}

func generateOpenAPISpec() map[string]interface{} {
	errResp := jsonResponse("Error", "Error")
	domain := queryParam("domain", "Domain, host or URL; normalized before lookup", true, "string")

	return map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "AI Visibility Gateway API",
			"version":     "0.1.0",
			"description": "Ingests AI answers and serves citation visibility scores, competitor overlap and page rankings",
		},
		"paths": map[string]interface{}{
			"/api/ingest": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Store a model response and extract its citations",
					"parameters": []interface{}{map[string]interface{}{
						"name": "Idempotency-Key", "in": "header", "required": false,
						"schema": map[string]interface{}{"type": "string"},
					}},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{"$ref": "#/components/schemas/IngestRequest"},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": jsonResponse("Stored", "IngestResult"),
						"400": errResp,
						"429": errResp,
					},
				},
			},
			"/api/visibility-scores": map[string]interface{}{
				"get": operation("Current scores, highest first",
					[]interface{}{queryParam("limit", "1-500, default 100", false, "integer")},
					map[string]interface{}{"200": jsonResponse("Scores", "ScoreList"), "400": errResp}),
			},
			"/api/visibility-scores/overview": map[string]interface{}{
				"get": operation("Current score and 30 day history of a domain, or of the best scored domain",
					[]interface{}{queryParam("domain", "Domain; the best scored domain when omitted or unscored", false, "string")},
					map[string]interface{}{"200": jsonResponse("Overview", "Overview"), "400": errResp}),
			},
			"/api/trends": map[string]interface{}{
				"get": operation("Smoothed daily scores of a domain and its top two competitors",
					[]interface{}{domain, queryParam("range", "7d, 30d or 90d, default 30d", false, "string")},
					map[string]interface{}{"200": jsonResponse("Trends", "Trends"), "400": errResp}),
			},
			"/api/visibility-scores/{domain}": map[string]interface{}{
				"get": operation("Current score of one domain with history",
					[]interface{}{
						map[string]interface{}{"name": "domain", "in": "path", "required": true, "schema": map[string]interface{}{"type": "string"}},
						queryParam("history", "0-365 points, default 30", false, "integer"),
					},
					map[string]interface{}{"200": jsonResponse("Score", "DomainScore"), "404": errResp}),
			},
			"/api/competitors": map[string]interface{}{
				"get": operation("Ranked competitors of a domain",
					[]interface{}{domain},
					map[string]interface{}{"200": jsonResponse("Competitors", "CompetitorList"), "400": errResp}),
			},
			"/api/competitors/leaderboard": map[string]interface{}{
				"get": operation("A domain ranked among its competitors by visibility score",
					[]interface{}{domain},
					map[string]interface{}{"200": jsonResponse("Leaderboard", "Leaderboard"), "400": errResp}),
			},
			"/api/competitors/queries": map[string]interface{}{
				"get": operation("Query level comparison of two domains",
					[]interface{}{domain, queryParam("competitor", "Competitor domain", true, "string")},
					map[string]interface{}{"200": jsonResponse("Queries", "QueryComparisonList"), "400": errResp}),
			},
			"/api/competitors/refresh": map[string]interface{}{
				"post": operation("Recompute competitors of one domain, or of every domain when none is given",
					[]interface{}{queryParam("domain", "Target domain", false, "string")},
					map[string]interface{}{"200": jsonResponse("Refreshed", "CompetitorList"), "429": errResp}),
			},
			"/api/pages": map[string]interface{}{
				"get": operation("Most cited pages",
					[]interface{}{
						queryParam("domain", "Restrict to one domain", false, "string"),
						queryParam("limit", "1-500, default 50", false, "integer"),
					},
					map[string]interface{}{"200": jsonResponse("Pages", "PageList")}),
			},
			"/api/pages/queries": map[string]interface{}{
				"get": operation("Queries that cited a page most",
					[]interface{}{queryParam("url", "Page URL; normalized before lookup", true, "string")},
					map[string]interface{}{"200": jsonResponse("Queries", "PageQueries"), "400": errResp}),
			},
			"/api/summary": map[string]interface{}{
				"get": operation("Corpus counts", nil,
					map[string]interface{}{"200": jsonResponse("Summary", "Summary")}),
			},
			"/api/cron/visibility-score": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Run scoring now",
					"security":   []map[string]interface{}{{"cronSecret": []string{}}},
					"parameters": []interface{}{queryParam("competitors", "1 also refreshes competitors", false, "string")},
					"responses": map[string]interface{}{
						"200": jsonResponse("Jobs ran", "JobStatuses"),
						"401": errResp,
						"409": errResp,
					},
				},
			},
		},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"cronSecret": map[string]interface{}{"type": "http", "scheme": "bearer"},
			},
			"schemas": map[string]interface{}{
				"Error": object(map[string]string{"error": "string", "details": "string"}),
				"IngestRequest": object(map[string]string{
					"query": "string", "model": "string", "rawResponseText": "string",
				}),
				"IngestResult": object(map[string]string{
					"queryId": "string", "responseId": "string", "citationCount": "integer",
				}),
				"Score": object(map[string]string{
					"domain": "string", "score": "number", "previousScore": "number", "change": "number", "computedAt": "string",
				}),
				"ScoreList":           listOf("scores", "Score"),
				"DomainScore":         object(map[string]string{"domain": "string", "score": "number", "history": "array"}),
				"CompetitorList":      object(map[string]string{"domain": "string", "competitors": "array"}),
				"QueryComparisonList": listOf("queries", "QueryComparison"),
				"QueryComparison": object(map[string]string{
					"queryId": "string", "queryText": "string", "targetCitations": "integer",
					"competitorCitations": "integer", "targetRank": "integer", "competitorRank": "integer", "winner": "string",
				}),
				"PageList": object(map[string]string{"pages": "array", "count": "integer"}),
				"PageQueries": object(map[string]string{"url": "string", "queries": "array"}),
				"Overview": object(map[string]string{
					"domain": "string", "score": "number", "previousScore": "number", "change": "number",
					"computedAt": "string", "history": "array", "domains": "array",
				}),
				"Trends": object(map[string]string{
					"domain": "string", "range": "string", "summary": "object", "domains": "object", "series": "array",
				}),
				"Leaderboard": object(map[string]string{"domain": "string", "entries": "array"}),
				"Summary": object(map[string]string{
					"queries": "integer", "responses": "integer", "citations": "integer", "scoredDomains": "integer",
				}),
				"JobStatuses": object(map[string]string{"ran": "array", "jobs": "array"}),
			},
		},
	}
}

func object(props map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, typ := range props {
		properties[name] = map[string]interface{}{"type": typ}
	}
	return map[string]interface{}{"type": "object", "properties": properties}
}

func listOf(field, ref string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			field: map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/" + ref},
			},
			"count": map[string]interface{}{"type": "integer"},
		},
	}
}
