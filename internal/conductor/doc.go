// Package conductor drives a set of workers through trials of the four
// lifecycle phases.
//
// Within one phase every active worker is first given the phase definition,
// then triggered, then drained of results. Each of these sub-steps is a
// barrier: no worker is triggered before every download has finished, and
// the next phase does not start before every worker has reported DONE or
// failed. A worker that fails a sub-step is skipped for the rest of the
// trial and rejoins at the next one.
package conductor
