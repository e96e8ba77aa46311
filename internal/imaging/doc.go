// Package imaging provides the file-level image operations of the symbol
// counting server: loading drawings and templates, cutting a template out of
// a drawing, and drawing detection boxes for review.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner, X
// increasing rightward and Y increasing downward. Regions are given as
// (x1,y1) inclusive and (x2,y2) exclusive, matching the detection boxes.
//
// # Formats
//
// PNG, JPEG and GIF decoders come from the standard library; TIFF and BMP,
// common for scanned drawings, are registered from golang.org/x/image.
// Output is always PNG, base64-encoded for transport over MCP.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. The other functions are stateless
// and never modify their input images.
package imaging
