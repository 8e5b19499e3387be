// Package analysis runs the model-backed pipeline stages: content analysis
// (captions, tags, OCR, description embeddings) and face detection.
//
// The models themselves sit behind the Analyzer and Detector interfaces.
// When none is configured the stage logs and succeeds without touching any
// row, so the queues stay flagged until a model is available.
package analysis
