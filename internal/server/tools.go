package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProp(what string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the " + what,
	}
}

func symbolsProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Symbols to look for. Omit to use every registered symbol.",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Pages
		{
			Name:        "page_load",
			Description: "Load a drawing and return its dimensions and format. For a PDF the number of raster pages is returned instead.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProp("image or PDF file"),
				},
				"required": []string{"path"},
			},
		},

		// Symbol templates
		{
			Name:        "symbol_register",
			Description: "Register a symbol template from an image file. If a region is given, only that part of the image is used, which lets a template be cut straight out of a drawing. Registering an existing name replaces it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Symbol name, e.g. \"gate_valve\"",
					},
					"path": pathProp("image containing the symbol"),
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"dpi": map[string]interface{}{
						"type":        "number",
						"description": "Resolution the template was drawn at. Defaults to the server's default DPI.",
					},
				},
				"required": []string{"name", "path"},
			},
		},
		{
			Name:        "symbol_list",
			Description: "List registered symbol templates with their size and resolution.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "symbol_delete",
			Description: "Delete a registered symbol template.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string"},
				},
				"required": []string{"name"},
			},
		},

		// Detection
		{
			Name:        "symbol_detect",
			Description: "Detect symbols on one drawing image. Returns every detection with its box, score, confidence class and the layers that agreed on it, plus per-symbol counts.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    pathProp("drawing image"),
					"symbols": symbolsProp(),
					"match_thresh": map[string]interface{}{
						"type":        "number",
						"description": "Minimum template match score (0-1). Overrides the configured value.",
					},
					"iou_thresh": map[string]interface{}{
						"type":        "number",
						"description": "Overlap above which two detections are merged (0-1). Overrides the configured value.",
					},
					"ml_detections": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"symbol": map[string]interface{}{"type": "string"},
								"bbox": map[string]interface{}{
									"type":        "array",
									"items":       map[string]interface{}{"type": "number"},
									"minItems":    4,
									"maxItems":    4,
									"description": "[x0, y0, x1, y1] in page pixels, x1 and y1 exclusive",
								},
								"score": map[string]interface{}{"type": "number"},
							},
							"required": []string{"symbol", "bbox", "score"},
						},
						"description": "Detections from an external detector to fuse with the built-in layers",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "symbol_count",
			Description: "Count symbols across a document, given either a list of page images or a PDF. Returns per-page counts, totals and a confidence summary with the number of detections that need review. With save set the run is stored and its id returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Page image files in page order",
					},
					"pdf":     pathProp("PDF file"),
					"symbols": symbolsProp(),
					"save": map[string]interface{}{
						"type":        "boolean",
						"description": "Store the run for later retrieval with run_summary",
						"default":     false,
					},
				},
			},
		},
		{
			Name:        "symbol_annotate",
			Description: "Detect symbols on a drawing image and return it as a PNG with one colored box per detection. Detections that need review are dashed.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    pathProp("drawing image"),
					"symbols": symbolsProp(),
					"thickness": map[string]interface{}{
						"type":        "integer",
						"description": "Box line thickness in pixels (default 2)",
						"default":     2,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "run_summary",
			Description: "Return the per-page and total counts of a saved run with its confidence summary.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"run_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
