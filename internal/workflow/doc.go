// Package workflow defines the workflow-step contract shared by step executors,
// the activity graph builder and the traversal scheduler.
//
// A step answers with a StepResult: the completed activity plus the activities
// that should run next. Those next activities are discovered one step at a time,
// so the workflow graph is never declared up front.
package workflow
