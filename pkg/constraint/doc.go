/*
Package constraint parses and evaluates placement constraints.

A constraint is ATTRIBUTE OP VALUE where OP is == or !=. Attributes
are node fields (id, role) or labels addressed as labels.KEY:

	role==worker
	labels.zone!=us-east-1a

Constraints are validated at service admission and evaluated against
candidate nodes during placement. A label referenced by == that a
node does not carry simply fails to match.
*/
package constraint
