package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func jsonContent(schema object) object {
	return object{"application/json": object{"schema": schema}}
}

func arrayOf(items object) object {
	return object{"type": "array", "items": items}
}

func errorResponse(description string) object {
	return object{
		"description": description,
		"content":     jsonContent(object{"$ref": "#/components/schemas/Error"}),
	}
}

// OpenAPISpec returns the OpenAPI 3.0 description of the census API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	nullableNumber := object{"type": "number", "nullable": true}
	stringList := arrayOf(object{"type": "string"})

	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Census Atlas API",
			"description": "Multi-year census characteristic selection, geographic joins and map legend scales",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/vintages": object{
				"get": object{
					"summary":     "List census vintages",
					"description": "Years loaded at startup with their indentation unit, row and taxonomy sizes",
					"responses": object{
						"200": object{
							"description": "Loaded vintages",
							"content": jsonContent(object{
								"type": "object",
								"properties": object{
									"data":  arrayOf(object{"$ref": "#/components/schemas/Vintage"}),
									"total": object{"type": "integer"},
								},
							}),
						},
					},
				},
			},
			"/api/vintages/{year}/characteristics": object{
				"get": object{
					"summary":     "Walk a characteristic taxonomy",
					"description": "Labels one level below the given path. Repeat path once per level; omit it for the top level.",
					"parameters": []object{
						{
							"name":     "year",
							"in":       "path",
							"required": true,
							"schema":   object{"type": "integer"},
						},
						{
							"name":        "path",
							"in":          "query",
							"description": "Characteristic labels from the top level down",
							"required":    false,
							"explode":     true,
							"schema":      stringList,
						},
					},
					"responses": object{
						"200": object{
							"description": "Child labels",
							"content": jsonContent(object{
								"type": "object",
								"properties": object{
									"year":     object{"type": "integer"},
									"path":     stringList,
									"children": stringList,
								},
							}),
						},
						"404": errorResponse("Unknown year or characteristic"),
					},
				},
			},
			"/api/analysis": object{
				"post": object{
					"summary":     "Run an analysis",
					"description": "Joins the selected characteristics against a geography. Several years require a cross-year metric.",
					"requestBody": object{
						"required": true,
						"content":  jsonContent(object{"$ref": "#/components/schemas/AnalysisRequest"}),
					},
					"responses": object{
						"200": object{
							"description": "Joined table with display columns and legend thresholds",
							"content":     jsonContent(object{"$ref": "#/components/schemas/AnalysisResult"}),
						},
						"400": errorResponse("Invalid request"),
						"404": errorResponse("Unknown year, characteristic or geography"),
					},
				},
			},
			"/health": object{
				"get": object{
					"summary": "Health check",
					"responses": object{
						"200": object{"description": "API and database are reachable"},
						"503": object{"description": "Database is unreachable"},
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary": "Prometheus metrics",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Vintage": object{
					"type": "object",
					"properties": object{
						"year":        object{"type": "integer"},
						"indent_unit": object{"type": "integer"},
						"rows":        object{"type": "integer"},
						"nodes":       object{"type": "integer"},
					},
				},
				"AnalysisRequest": object{
					"type":     "object",
					"required": []string{"granularity", "selections"},
					"properties": object{
						"granularity": object{
							"type": "string",
							"enum": []string{"Census Subdivisions", "Census Divisions", "Provinces"},
						},
						"metric": object{
							"type": "string",
							"enum": []string{"Mean Difference", "Mean Percent Change", "Mean Percent Difference"},
						},
						"clipped": object{"type": "boolean"},
						"selections": arrayOf(object{
							"type": "object",
							"properties": object{
								"year": object{"type": "integer"},
								"path": stringList,
							},
						}),
					},
				},
				"AnalysisResult": object{
					"type": "object",
					"properties": object{
						"granularity":      object{"type": "string"},
						"key_column":       object{"type": "string"},
						"name_column":      object{"type": "string"},
						"feature_property": object{"type": "string"},
						"columns":          stringList,
						"year_columns":     stringList,
						"metric_column":    object{"type": "string"},
						"display_columns":  stringList,
						"legends":          stringList,
						"thresholds":       arrayOf(object{"type": "number"}),
						"rows": arrayOf(object{
							"type": "object",
							"properties": object{
								"geo_code": object{"type": "string"},
								"name":     object{"type": "string"},
								"values": object{
									"type":                 "object",
									"additionalProperties": nullableNumber,
								},
							},
						}),
					},
				},
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
