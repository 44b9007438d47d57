package workflow

import "strings"

// StepType identifies what a node does, using n8n node type names.
type StepType string

const (
	TypeManualTrigger   StepType = "manualTrigger"
	TypeWebhook         StepType = "webhook"
	TypeScheduleTrigger StepType = "scheduleTrigger"
	TypeHTTPRequest     StepType = "httpRequest"
	TypeEmailSend       StepType = "emailSend"
	TypeSet             StepType = "set"
	TypeCode            StepType = "code"
	TypeSlack           StepType = "slack"
	TypeIf              StepType = "if"
)

// keywordGroup maps any of its keywords, found as a substring of the
// lowercased action text, to a step type.
type keywordGroup struct {
	keywords []string
	stepType StepType
}

// classifierRules is checked in order; the first group with a hit wins.
var classifierRules = []keywordGroup{
	{[]string{"email", "mail"}, TypeEmailSend},
	{[]string{"http", "request"}, TypeHTTPRequest},
	{[]string{"sms", "slack", "send", "notification"}, TypeSlack},
	{[]string{"webhook", "trigger"}, TypeWebhook},
	{[]string{"set", "assign", "update"}, TypeSet},
	{[]string{"if", "condition", "check"}, TypeIf},
}

// nodeKinds is the fixed step type to kind table. Anything absent is an action.
var nodeKinds = map[StepType]NodeKind{
	TypeManualTrigger:   KindTrigger,
	TypeWebhook:         KindTrigger,
	TypeScheduleTrigger: KindTrigger,
	TypeHTTPRequest:     KindAction,
	TypeEmailSend:       KindAction,
	TypeSet:             KindAction,
	TypeCode:            KindAction,
	TypeSlack:           KindAction,
	TypeIf:              KindCondition,
}

// Classify infers a step type from free-form action text.
func Classify(action string) StepType {
	lower := strings.ToLower(action)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.stepType
			}
		}
	}
	return TypeCode
}

// KindOf returns the node kind for a step type, defaulting to action.
func KindOf(t StepType) NodeKind {
	if k, ok := nodeKinds[t]; ok {
		return k
	}
	return KindAction
}

// classifyAt applies the entry-point rule on top of Classify: position 0 is
// always a manual trigger, and no later position is ever trigger kind.
func classifyAt(i int, action string) (StepType, NodeKind) {
	if i == 0 {
		return TypeManualTrigger, KindTrigger
	}
	t := Classify(action)
	k := KindOf(t)
	if k == KindTrigger {
		k = KindAction
	}
	return t, k
}
