package bastion

import "github.com/xraph/bastion/id"

// RuleID identifies a stored permission rule.
type RuleID = id.RuleID
