// Package loader schedules named initialization tasks by priority tier and
// dependency. Tiers run strictly in order; the tasks of one tier fan out onto
// a bounded worker pool and the tier completes only when every task has a
// Result. Each task runs under its own timeout with linear retry, and a keyed
// task may be answered from the task cache without running.
package loader
