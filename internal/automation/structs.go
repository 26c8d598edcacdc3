package automation

import (
	"fmt"
	"strings"

	"whatsapp-crm/internal/models"
)

// Turn is one buffered batch of inbound messages from a single sender,
// reduced to what the intent policy and the bot need.
type Turn struct {
	ID          string
	Phone       string
	RecipientID string
	ContactName string

	// Body is the combined text of the batch.
	Body string
	// ReplyID and ReplyTitle come from the last button or list reply in the batch.
	ReplyID    string
	ReplyTitle string

	Campaign      *models.Campaign
	IsDirectReply bool
	BatchSize     int
}

func (t *Turn) lower() string {
	return strings.ToLower(strings.TrimSpace(t.Body))
}

// IsCampaignReply reports whether the batch was attributed to a campaign.
func (t *Turn) IsCampaignReply() bool {
	return t.Campaign != nil
}

// Graph indexes the nodes of one flow by key.
type Graph struct {
	FlowID   uint
	StartKey string
	nodes    map[string]*models.BotNode
}

func NewGraph(flow *models.BotFlow) *Graph {
	g := &Graph{
		FlowID:   flow.ID,
		StartKey: flow.StartNodeKey,
		nodes:    make(map[string]*models.BotNode, len(flow.Nodes)),
	}
	for i := range flow.Nodes {
		g.nodes[flow.Nodes[i].NodeKey] = &flow.Nodes[i]
	}
	return g
}

func (g *Graph) Node(key string) (*models.BotNode, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Issue is one broken reference found by ValidateGraph.
type Issue struct {
	NodeKey string `json:"nodeKey"`
	Problem string `json:"problem"`
}

type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.NodeKey, is.Problem))
	}
	return "invalid flow: " + strings.Join(parts, "; ")
}

// ValidateGraph checks that the start node exists and that every transition a
// node can produce resolves to a node or to END. It returns a *ValidationError
// listing every problem, or nil.
func ValidateGraph(flow *models.BotFlow) error {
	g := NewGraph(flow)
	var issues []Issue

	resolves := func(key string) bool {
		if key == models.StateEnd {
			return true
		}
		_, ok := g.Node(key)
		return ok
	}

	if flow.StartNodeKey == "" {
		issues = append(issues, Issue{NodeKey: "-", Problem: "no start node"})
	} else if _, ok := g.Node(flow.StartNodeKey); !ok {
		issues = append(issues, Issue{NodeKey: flow.StartNodeKey, Problem: "start node does not exist"})
	}

	seen := make(map[string]bool, len(flow.Nodes))
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		if seen[n.NodeKey] {
			issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: "duplicate node key"})
		}
		seen[n.NodeKey] = true

		switch n.MessageType {
		case models.NodeText:
			if n.NextNodeKey == "" && n.NodeKey != models.StateEnd {
				issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: "no next node"})
			}
		case models.NodeButtons, models.NodeList:
			keys := n.OptionKeys()
			if len(keys) == 0 {
				issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: "no options"})
			}
			for _, k := range keys {
				if k == "" {
					issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: "option without next node"})
				}
			}
		default:
			issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: fmt.Sprintf("unknown message type %q", n.MessageType)})
		}

		for _, k := range n.NextKeys() {
			if k != "" && !resolves(k) {
				issues = append(issues, Issue{NodeKey: n.NodeKey, Problem: fmt.Sprintf("next node %q does not exist", k)})
			}
		}
	}

	for _, k := range []string{flow.CompletionFollowUpYesNodeKey, flow.CompletionFollowUpNoNodeKey} {
		if k != "" && !resolves(k) {
			issues = append(issues, Issue{NodeKey: k, Problem: "completion follow-up target does not exist"})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
