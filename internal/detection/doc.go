// Package detection locates and counts instances of reference symbols on
// rasterized drawing pages.
//
// A symbol is a small reference graphic (a weld mark, a bolt glyph) registered
// as a Template. Detection runs per (page, symbol) unit through a pipeline of
// independent layers whose candidates are fused, deduplicated and scored:
//
//  1. Template layer: zero-mean normalized cross-correlation of every scaled
//     and rotated template Variant over the page (TM_CCOEFF_NORMED semantics).
//  2. Feature layer: oriented corner keypoints with binary descriptors,
//     matched to the template and grouped by a RANSAC-fitted similarity or
//     affine transform. Finds instances at angles and scales the variants miss.
//  3. External layer: hits supplied by an ML detector outside the engine.
//  4. Fusion concatenates the layer outputs, NMS collapses overlapping
//     candidates, and the Scorer assigns confidence and a review flag.
//  5. PageResult and DocumentResult aggregate counts per symbol.
//
// # Coordinate System
//
// Boxes are in page pixels with the origin at the top-left corner, X to the
// right and Y down. X0,Y0 is inclusive and X1,Y1 exclusive. Rotations are in
// degrees counter-clockwise as seen on screen.
//
// # Scores
//
// Candidate scores are layer specific: NCC in [-1,1] for the template layer,
// inlier ratio in [0,1] for the feature layer, probability for the external
// layer. Detection confidence is always in [0,1]:
//
//	high   >= 0.85
//	medium >= 0.65
//	low    otherwise, flagged NeedsReview
//
// # Concurrency
//
// A DetectionContext is immutable after construction and shared by every
// unit. Pages cache derived data (integral images, spectra, keypoints) behind
// sync.Once, so any number of units may read the same page. The Engine runs
// units on a bounded pool and honors per-page deadlines; results are
// assembled in a fixed order so repeated runs produce identical output.
//
// # Backends
//
// Correlation is pure Go by default, switching between direct summation and
// an FFT (gonum dsp/fourier) by estimated cost. Building with -tags gocv uses
// OpenCV's matchTemplate instead.
package detection
