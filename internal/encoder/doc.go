// Package encoder launches one transcode of one file and streams its progress.
//
// Two backends satisfy the Encoder interface: FFmpeg runs the ffmpeg CLI with
// machine-readable progress on stdout, and Drapto drives the Drapto AV1
// library in-process through its Reporter callbacks. Callers treat the codec
// options in Request as opaque and only interpret Progress, the output path,
// and the Exit returned by Handle.Wait.
package encoder
