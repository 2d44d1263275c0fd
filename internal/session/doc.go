// Package session records recent user actions in a bounded ring and derives
// behavioral signals from them: windowed metrics, error clustering, and a
// cognitive state classifier.
//
// History is the only stateful piece; Metrics, ErrorClusters, and the
// classifier's Signals are pure views over it. The Classifier adds a small
// amount of hysteresis so the reported state does not flicker between
// adjacent windows.
package session
