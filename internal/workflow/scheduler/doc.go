// Package scheduler walks a workflow graph that is discovered one step at a
// time. Each node moves Pending -> Running -> {Done, Failed}; a Done node's
// declared activities are scheduled next, either all at once (parallelizable)
// or one after another in declaration order.
//
// Node failures are recorded in the aggregate and never stop sibling branches.
// A revisited target, a duplicate aggregate key or an invalid state transition
// aborts the whole traversal.
package scheduler
