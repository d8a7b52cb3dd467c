package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description, typ string) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      object{"type": typ},
	}
}

var runIDParam = object{
	"name":        "id",
	"in":          "path",
	"description": "Benchmark run ID",
	"required":    true,
	"schema":      object{"type": "string", "format": "uuid"},
}

var paginationParams = []object{
	queryParam("page", "Page number (default: 1)", "integer"),
	queryParam("limit", "Records per page (default: 100, max: 1000)", "integer"),
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content":     object{"application/json": object{"schema": schema}},
	}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func pageSchema(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"data":        object{"type": "array", "items": ref(item)},
			"total":       object{"type": "integer"},
			"page":        object{"type": "integer"},
			"limit":       object{"type": "integer"},
			"total_pages": object{"type": "integer"},
		},
	}
}

func properties(types map[string]string) object {
	props := object{}
	for name, typ := range types {
		switch typ {
		case "date-time", "uuid":
			props[name] = object{"type": "string", "format": typ}
		case "array":
			props[name] = object{"type": "array", "items": object{"type": "integer"}}
		default:
			props[name] = object{"type": typ}
		}
	}
	return object{"type": "object", "properties": props}
}

func get(summary string, params []object, ok object) object {
	op := object{
		"summary": summary,
		"responses": object{
			"200": ok,
			"400": jsonResponse("Invalid request", ref("Error")),
			"404": jsonResponse("Run not found", ref("Error")),
		},
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return object{"get": op}
}

// OpenAPISpec returns the OpenAPI 3.0 document of the results API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Temperature Bench Results API",
			"description": "Read access to stored aggregation benchmark runs, experiment timings and period statistics",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/runs": get("List benchmark runs, newest first", paginationParams,
				jsonResponse("Runs", pageSchema("BenchmarkRun"))),
			"/api/runs/{id}": get("Get a run with its experiment summaries", []object{runIDParam},
				jsonResponse("Run", ref("BenchmarkRun"))),
			"/api/runs/{id}/experiments": get("List the experiment summaries of a run", []object{runIDParam},
				jsonResponse("Experiments", object{"type": "array", "items": ref("ExperimentResult")})),
			"/api/runs/{id}/periods": get("List merged period statistics of a run",
				append([]object{
					runIDParam,
					queryParam("key_prefix", "Period key prefix, e.g. 2000 or 2000-01", "string"),
					queryParam("experiment", "Experiment index", "integer"),
				}, paginationParams...),
				jsonResponse("Period statistics", pageSchema("PeriodStat"))),
			"/health": get("Health check", nil,
				jsonResponse("API and database status", properties(map[string]string{
					"status":    "string",
					"database":  "string",
					"timestamp": "date-time",
				}))),
			"/metrics": object{"get": object{
				"summary": "Prometheus metrics",
				"responses": object{"200": object{
					"description": "Prometheus metrics in text format",
					"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
				}},
			}},
		},
		"components": object{"schemas": object{
			"BenchmarkRun": properties(map[string]string{
				"id":           "uuid",
				"data_dir":     "string",
				"file_count":   "integer",
				"rounds":       "integer",
				"started_at":   "date-time",
				"completed_at": "date-time",
			}),
			"ExperimentResult": properties(map[string]string{
				"run_id":      "uuid",
				"experiment":  "integer",
				"strategy":    "string",
				"threads":     "integer",
				"rounds_ms":   "array",
				"average_ms":  "integer",
				"median_ms":   "number",
				"stddev_ms":   "number",
				"file_errors": "integer",
				"created_at":  "date-time",
			}),
			"PeriodStat": properties(map[string]string{
				"run_id":     "uuid",
				"experiment": "integer",
				"key":        "string",
				"max":        "number",
				"min":        "number",
				"mean":       "number",
				"count":      "integer",
			}),
			"Error": properties(map[string]string{
				"error":   "string",
				"message": "string",
				"code":    "integer",
			}),
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
