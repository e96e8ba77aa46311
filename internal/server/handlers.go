package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
	"github.com/ironsheep/symbol-count-mcp/internal/imaging"
	"github.com/ironsheep/symbol-count-mcp/internal/pages"
	"github.com/ironsheep/symbol-count-mcp/internal/service"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "symbol_detect", "symbol_count").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	case "page_load":
		return s.handlePageLoad(args)

	case "symbol_register":
		return s.handleSymbolRegister(ctx, args)
	case "symbol_list":
		return s.handleSymbolList(ctx)
	case "symbol_delete":
		return s.handleSymbolDelete(ctx, args)

	case "symbol_detect":
		return s.handleSymbolDetect(ctx, args)
	case "symbol_count":
		return s.handleSymbolCount(ctx, args)
	case "symbol_annotate":
		return s.handleSymbolAnnotate(ctx, args)
	case "run_summary":
		return s.handleRunSummary(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Page Handlers ===

type pathArgs struct {
	Path string `json:"path"`
}

// pdfInfo describes a PDF in place of ImageInfo.
type pdfInfo struct {
	Format string `json:"format"`
	Pages  int    `json:"pages"`
}

func (s *Server) handlePageLoad(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	if imaging.FormatOf(a.Path) == "pdf" {
		src, err := pages.PDF(a.Path, 0)
		if err != nil {
			return nil, err
		}
		return &pdfInfo{Format: "pdf", Pages: src.Len()}, nil
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

// === Symbol Template Handlers ===

type symbolRegisterArgs struct {
	Name string  `json:"name"`
	Path string  `json:"path"`
	X1   *int    `json:"x1"`
	Y1   *int    `json:"y1"`
	X2   *int    `json:"x2"`
	Y2   *int    `json:"y2"`
	DPI  float64 `json:"dpi"`
}

// region returns the crop rectangle, or ok false when no region was given.
func (a *symbolRegisterArgs) region() (r image.Rectangle, ok bool, err error) {
	set := 0
	for _, v := range []*int{a.X1, a.Y1, a.X2, a.Y2} {
		if v != nil {
			set++
		}
	}
	switch set {
	case 0:
		return image.Rectangle{}, false, nil
	case 4:
		return image.Rect(*a.X1, *a.Y1, *a.X2, *a.Y2), true, nil
	}
	return image.Rectangle{}, false, errors.New("region needs all of x1, y1, x2, y2")
}

type symbolRegisterResult struct {
	Name   string  `json:"name"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	DPI    float64 `json:"dpi"`
}

func (s *Server) handleSymbolRegister(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a symbolRegisterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Name == "" || a.Path == "" {
		return nil, errors.New("name and path are required")
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	r, ok, err := a.region()
	if err != nil {
		return nil, err
	}
	if ok {
		if img, err = imaging.CropRegion(img, r.Min.X, r.Min.Y, r.Max.X, r.Max.Y); err != nil {
			return nil, err
		}
	}
	t, err := s.svc.RegisterSymbol(ctx, a.Name, img, a.DPI)
	if err != nil {
		return nil, err
	}
	return &symbolRegisterResult{Name: t.Name, Width: t.Width, Height: t.Height, DPI: t.DPI}, nil
}

func (s *Server) handleSymbolList(ctx context.Context) (interface{}, error) {
	list, err := s.svc.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"symbols": list,
		"count":   len(list),
	}, nil
}

type nameArgs struct {
	Name string `json:"name"`
}

func (s *Server) handleSymbolDelete(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a nameArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := s.svc.DeleteSymbol(ctx, a.Name); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": a.Name}, nil
}

// === Detection Handlers ===

type symbolDetectArgs struct {
	Path         string                        `json:"path"`
	Symbols      []string                      `json:"symbols"`
	MatchThresh  *float64                      `json:"match_thresh"`
	IoUThresh    *float64                      `json:"iou_thresh"`
	MLDetections []detection.ExternalDetection `json:"ml_detections"`
}

func (s *Server) handleSymbolDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a symbolDetectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	for i := range a.MLDetections {
		a.MLDetections[i].Page = 0
	}
	return s.svc.DetectImage(ctx, img, service.Options{
		Symbols:     a.Symbols,
		MatchThresh: a.MatchThresh,
		IoUThresh:   a.IoUThresh,
		External:    a.MLDetections,
	})
}

type symbolCountArgs struct {
	Paths   []string `json:"paths"`
	PDF     string   `json:"pdf"`
	Symbols []string `json:"symbols"`
	Save    bool     `json:"save"`
}

func (s *Server) handleSymbolCount(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a symbolCountArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	var (
		src    pages.Source
		source string
		err    error
	)
	switch {
	case a.PDF != "" && len(a.Paths) > 0:
		return nil, errors.New("give either paths or pdf, not both")
	case a.PDF != "":
		src, err = pages.PDF(a.PDF, 0)
		source = a.PDF
	case len(a.Paths) > 0:
		src, err = pages.Files(a.Paths, 0)
		source = strings.Join(a.Paths, ", ")
	default:
		return nil, errors.New("paths or pdf is required")
	}
	if err != nil {
		return nil, err
	}
	return s.svc.Count(ctx, src, source, a.Save, service.Options{Symbols: a.Symbols})
}

type symbolAnnotateArgs struct {
	Path      string   `json:"path"`
	Symbols   []string `json:"symbols"`
	Thickness int      `json:"thickness"`
}

type symbolAnnotateResult struct {
	*imaging.AnnotateResult
	Counts map[string]int `json:"counts"`
}

func (s *Server) handleSymbolAnnotate(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a symbolAnnotateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.DetectImage(ctx, img, service.Options{Symbols: a.Symbols})
	if err != nil {
		return nil, err
	}
	out, err := imaging.Annotate(img, marksFor(res), a.Thickness)
	if err != nil {
		return nil, err
	}
	return &symbolAnnotateResult{AnnotateResult: out, Counts: res.Counts}, nil
}

// marksFor numbers the detections of each symbol from 1 and widens the
// fractional boxes to whole pixels.
func marksFor(res *detection.PageResult) []imaging.Mark {
	var marks []imaging.Mark
	for _, sym := range res.Symbols() {
		for i, d := range res.Detections[sym] {
			marks = append(marks, imaging.Mark{
				Symbol: sym,
				X0:     int(math.Floor(d.Box.X0)),
				Y0:     int(math.Floor(d.Box.Y0)),
				X1:     int(math.Ceil(d.Box.X1)),
				Y1:     int(math.Ceil(d.Box.Y1)),
				Label:  strconv.Itoa(i + 1),
				Dashed: d.NeedsReview,
			})
		}
	}
	return marks
}

type runSummaryArgs struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleRunSummary(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a runSummaryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.RunID == "" {
		return nil, errors.New("run_id is required")
	}
	return s.svc.RunSummary(ctx, a.RunID)
}
