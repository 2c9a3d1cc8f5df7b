// Package preflight provides readiness checks for the filesystem paths and
// external binaries ffbatch depends on.
//
// These checks run in two contexts:
//   - The root command calls RunAll and CheckSystemDeps before the scheduler
//     starts. A failed check is a fatal startup error.
//   - The CLI "ffbatch deps" command renders CheckSystemDeps as a table.
package preflight
