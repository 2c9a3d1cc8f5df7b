// Package jobrunner runs one encode of one file and classifies its outcome.
//
// A run moves Queued -> Running -> {Succeeded, Failed, Aborted}. Two more
// terminal states cover orchestration concerns: Interrupted when a forced
// shutdown killed the encoder, and Abandoned when an unexpected error or
// panic stopped the run. Skipped means the source vanished before launch.
//
// Output is always written under the workspace tmp directory. The growth
// guard checks the output size after every progress tick and kills the
// encoder as soon as the output is at least as large as the source.
package jobrunner
